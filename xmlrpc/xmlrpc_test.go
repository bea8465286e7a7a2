package xmlrpc

import (
	"bytes"
	"context"
	"encoding/xml"
	"net"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func emit(t *testing.T, value interface{}) string {
	t.Helper()
	var buf bytes.Buffer
	if err := writeInner(&buf, value); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestEmitScalars(t *testing.T) {
	cases := []struct {
		value interface{}
		want  string
	}{
		{nil, ""},
		{true, "<boolean>1</boolean>"},
		{false, "<boolean>0</boolean>"},
		{42, "<int>42</int>"},
		{int32(-7), "<int>-7</int>"},
		{uint16(9), "<int>9</int>"},
		{3.14, "<double>3.14</double>"},
		{"Hello, <world>&", "<string>Hello, &lt;world&gt;&amp;</string>"},
		{[]byte("ABCDEFG"), "<base64>QUJDREVGRw==</base64>"},
	}
	for _, c := range cases {
		if s := emit(t, c.value); s != c.want {
			t.Errorf("%v: got %s, want %s", c.value, s, c.want)
		}
	}
}

func TestEmitArray(t *testing.T) {
	s := emit(t, []interface{}{int32(1), "two", []string{"x"}})
	want := "<array><data><value><int>1</int></value><value><string>two</string></value>" +
		"<value><array><data><value><string>x</string></value></data></array></value></data></array>"
	if s != want {
		t.Error(s)
	}
}

func TestEmitStruct(t *testing.T) {
	s := emit(t, map[string]int{"a": 1})
	if s != "<struct><member><name>a</name><value><int>1</int></value></member></struct>" {
		t.Error(s)
	}
	var buf bytes.Buffer
	if err := writeInner(&buf, map[int]int{1: 1}); err == nil {
		t.Error("expected error for non-string map key")
	}
}

func TestEmitUnsupported(t *testing.T) {
	var buf bytes.Buffer
	if err := writeInner(&buf, make(chan int)); err == nil {
		t.Error("expected error for channel value")
	}
}

func decodeString(t *testing.T, source string) interface{} {
	t.Helper()
	var v xmlValue
	if err := xml.Unmarshal([]byte(source), &v); err != nil {
		t.Fatal(err)
	}
	x, err := v.decode()
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func TestParseScalars(t *testing.T) {
	cases := []struct {
		source string
		want   interface{}
	}{
		{"<value><boolean>1</boolean></value>", true},
		{"<value><boolean>0</boolean></value>", false},
		{"<value><int>42</int></value>", int32(42)},
		{"<value><i4> -3 </i4></value>", int32(-3)},
		{"<value><double>1.5</double></value>", 1.5},
		{"<value><string>Hello</string></value>", "Hello"},
		{"<value><string></string></value>", ""},
		{"<value>raw text</value>", "raw text"},
		{"<value><base64>QUJDREVGRw==</base64></value>", []byte("ABCDEFG")},
	}
	for _, c := range cases {
		if x := decodeString(t, c.source); !reflect.DeepEqual(x, c.want) {
			t.Errorf("%s: got %#v, want %#v", c.source, x, c.want)
		}
	}
}

func TestParseInvalidBoolean(t *testing.T) {
	var v xmlValue
	if err := xml.Unmarshal([]byte("<value><boolean>2</boolean></value>"), &v); err != nil {
		t.Fatal(err)
	}
	if _, err := v.decode(); err == nil {
		t.Error("expected error")
	}
}

func TestParseArrayAndStruct(t *testing.T) {
	source := `<value>
	  <array><data>
	    <value><int>1</int></value>
	    <value><struct>
	      <member><name>name</name><value><string>r1</string></value></member>
	      <member><name>list</name><value><array><data></data></array></value></member>
	    </struct></value>
	  </data></array>
	</value>`
	x := decodeString(t, source)
	want := []interface{}{
		int32(1),
		map[string]interface{}{"name": "r1", "list": []interface{}{}},
	}
	if !reflect.DeepEqual(x, want) {
		t.Errorf("got %#v", x)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := emitRequest(&buf, "lookupTopic", "/caller", "/r1/laser1_scan"); err != nil {
		t.Fatal(err)
	}
	name, args, err := parseRequest(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if name != "lookupTopic" {
		t.Error(name)
	}
	if !reflect.DeepEqual(args, []interface{}{"/caller", "/r1/laser1_scan"}) {
		t.Error(args)
	}
}

func TestParseRequestMissingName(t *testing.T) {
	_, _, err := parseRequest(strings.NewReader("<methodCall><params></params></methodCall>"))
	if err == nil {
		t.Error("expected error")
	}
}

func TestParseResponse(t *testing.T) {
	var buf bytes.Buffer
	if err := emitResponse(&buf, []interface{}{int32(1), "Success", "127.0.0.1:4000"}); err != nil {
		t.Fatal(err)
	}
	x, err := parseResponse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(x, []interface{}{int32(1), "Success", "127.0.0.1:4000"}) {
		t.Error(x)
	}
}

func TestParseFault(t *testing.T) {
	var buf bytes.Buffer
	emitFault(&buf, 42, "failed")
	_, err := parseResponse(&buf)
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *Fault, got %v", err)
	}
	if fault.Code != 42 || fault.String != "failed" {
		t.Error(fault)
	}
}

type dispatcher struct {
	X int32
}

func (d *dispatcher) addTwoInts(a int32, b int32) (interface{}, error) {
	return d.X * (a + b), nil
}

func (d *dispatcher) fail(msg string) (interface{}, error) {
	return nil, errors.New(msg)
}

func serve(t *testing.T, m map[string]Method) (string, func()) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	handler := NewHandler(m)
	go http.Serve(listener, handler)
	return "http://" + listener.Addr().String(), func() {
		listener.Close()
		handler.WaitForShutdown()
	}
}

func TestServer(t *testing.T) {
	d := dispatcher{2}
	url, stop := serve(t, map[string]Method{
		"addTwoInts": d.addTwoInts,
		"fail":       d.fail,
	})
	defer stop()

	result, err := Call(url, "addTwoInts", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if i, ok := result.(int32); !ok || i != 6 {
		t.Error(result)
	}

	_, err = Call(url, "fail", "boom")
	var fault *Fault
	if !errors.As(err, &fault) || !strings.Contains(fault.String, "boom") {
		t.Errorf("expected fault mentioning boom, got %v", err)
	}

	_, err = Call(url, "missing")
	if !errors.As(err, &fault) {
		t.Errorf("expected fault for unknown method, got %v", err)
	}

	_, err = Call(url, "addTwoInts", 1)
	if !errors.As(err, &fault) {
		t.Errorf("expected fault for wrong arity, got %v", err)
	}

	_, err = Call(url, "addTwoInts", "a", "b")
	if !errors.As(err, &fault) {
		t.Errorf("expected fault for string arguments, got %v", err)
	}
}

func TestClientContextCancel(t *testing.T) {
	block := make(chan struct{})
	url, stop := serve(t, map[string]Method{
		"slow": func() (interface{}, error) {
			<-block
			return 0, nil
		},
	})
	defer stop()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := NewClient(url, time.Minute).Call(ctx, "slow"); err == nil {
		t.Error("expected error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation was not honored")
	}
}
