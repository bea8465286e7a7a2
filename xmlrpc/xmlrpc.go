// Package xmlrpc is a small XML-RPC client and server used for the bus
// directory.
//
// Values decode to int32, bool, float64, string, []byte, []interface{} and
// map[string]interface{}. Encoding additionally accepts any integer, float,
// slice, array and string-keyed map kind.
package xmlrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds calls made through the package level Call.
const DefaultTimeout = 5 * time.Second

// Fault is a <fault> response returned by the remote side.
type Fault struct {
	Code   int32
	String string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault: code=%d string=%s", f.Code, f.String)
}

type xmlValue struct {
	Int     *string    `xml:"int"`
	I4      *string    `xml:"i4"`
	Boolean *string    `xml:"boolean"`
	Double  *string    `xml:"double"`
	String  *string    `xml:"string"`
	Base64  *string    `xml:"base64"`
	Array   *xmlArray  `xml:"array"`
	Struct  *xmlStruct `xml:"struct"`
	Text    string     `xml:",chardata"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlParam struct {
	Value xmlValue `xml:"value"`
}

type xmlMethodCall struct {
	XMLName xml.Name   `xml:"methodCall"`
	Name    string     `xml:"methodName"`
	Params  []xmlParam `xml:"params>param"`
}

type xmlMethodResponse struct {
	XMLName xml.Name   `xml:"methodResponse"`
	Params  []xmlParam `xml:"params>param"`
	Fault   *xmlParam  `xml:"fault"`
}

func (v *xmlValue) decode() (interface{}, error) {
	switch {
	case v.Int != nil:
		return parseInt(*v.Int)
	case v.I4 != nil:
		return parseInt(*v.I4)
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, errors.Errorf("invalid boolean %q", *v.Boolean)
	case v.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid double")
		}
		return f, nil
	case v.String != nil:
		return *v.String, nil
	case v.Base64 != nil:
		bs, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*v.Base64))
		if err != nil {
			return nil, errors.Wrap(err, "invalid base64")
		}
		return bs, nil
	case v.Array != nil:
		a := make([]interface{}, 0, len(v.Array.Values))
		for i := range v.Array.Values {
			x, err := v.Array.Values[i].decode()
			if err != nil {
				return nil, err
			}
			a = append(a, x)
		}
		return a, nil
	case v.Struct != nil:
		m := make(map[string]interface{}, len(v.Struct.Members))
		for i := range v.Struct.Members {
			x, err := v.Struct.Members[i].Value.decode()
			if err != nil {
				return nil, err
			}
			m[v.Struct.Members[i].Name] = x
		}
		return m, nil
	}
	// An untyped value is a string.
	return v.Text, nil
}

func parseInt(s string) (int32, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "invalid int")
	}
	return int32(i), nil
}

func writeEscaped(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s))
}

func writeValue(buf *bytes.Buffer, value interface{}) error {
	buf.WriteString("<value>")
	if err := writeInner(buf, value); err != nil {
		return err
	}
	buf.WriteString("</value>")
	return nil
}

func writeInner(buf *bytes.Buffer, value interface{}) error {
	switch x := value.(type) {
	case nil:
		return nil
	case []byte:
		buf.WriteString("<base64>")
		buf.WriteString(base64.StdEncoding.EncodeToString(x))
		buf.WriteString("</base64>")
		return nil
	case string:
		buf.WriteString("<string>")
		writeEscaped(buf, x)
		buf.WriteString("</string>")
		return nil
	case bool:
		if x {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
		return nil
	}

	val := reflect.ValueOf(value)
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString("<int>")
		buf.WriteString(strconv.FormatInt(val.Int(), 10))
		buf.WriteString("</int>")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteString("<int>")
		buf.WriteString(strconv.FormatUint(val.Uint(), 10))
		buf.WriteString("</int>")
	case reflect.Float32, reflect.Float64:
		buf.WriteString("<double>")
		buf.WriteString(strconv.FormatFloat(val.Float(), 'g', -1, 64))
		buf.WriteString("</double>")
	case reflect.String:
		buf.WriteString("<string>")
		writeEscaped(buf, val.String())
		buf.WriteString("</string>")
	case reflect.Array, reflect.Slice:
		buf.WriteString("<array><data>")
		for i := 0; i < val.Len(); i++ {
			if err := writeValue(buf, val.Index(i).Interface()); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array>")
	case reflect.Map:
		if val.Type().Key().Kind() != reflect.String {
			return errors.New("map key must be string")
		}
		buf.WriteString("<struct>")
		iter := val.MapRange()
		for iter.Next() {
			buf.WriteString("<member><name>")
			writeEscaped(buf, iter.Key().String())
			buf.WriteString("</name>")
			if err := writeValue(buf, iter.Value().Interface()); err != nil {
				return err
			}
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct>")
	default:
		return errors.Errorf("unsupported kind %s", val.Kind())
	}
	return nil
}

func emitRequest(buf *bytes.Buffer, method string, args ...interface{}) error {
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	writeEscaped(buf, method)
	buf.WriteString("</methodName><params>")
	for _, arg := range args {
		buf.WriteString("<param>")
		if err := writeValue(buf, arg); err != nil {
			return err
		}
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return nil
}

func emitResponse(buf *bytes.Buffer, value interface{}) error {
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><params><param>")
	if err := writeValue(buf, value); err != nil {
		return err
	}
	buf.WriteString("</param></params></methodResponse>")
	return nil
}

func emitFault(buf *bytes.Buffer, code int32, message string) {
	buf.Reset()
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><fault>")
	_ = writeValue(buf, map[string]interface{}{
		"faultCode":   code,
		"faultString": message,
	})
	buf.WriteString("</fault></methodResponse>")
}

func parseRequest(r io.Reader) (string, []interface{}, error) {
	var call xmlMethodCall
	if err := xml.NewDecoder(r).Decode(&call); err != nil {
		return "", nil, errors.Wrap(err, "malformed methodCall")
	}
	if call.Name == "" {
		return "", nil, errors.New("missing methodName")
	}
	args := make([]interface{}, 0, len(call.Params))
	for i := range call.Params {
		x, err := call.Params[i].Value.decode()
		if err != nil {
			return "", nil, err
		}
		args = append(args, x)
	}
	return call.Name, args, nil
}

// parseResponse returns the single result value, or a *Fault error.
func parseResponse(r io.Reader) (interface{}, error) {
	var res xmlMethodResponse
	if err := xml.NewDecoder(r).Decode(&res); err != nil {
		return nil, errors.Wrap(err, "malformed methodResponse")
	}
	if res.Fault != nil {
		x, err := res.Fault.Value.decode()
		if err != nil {
			return nil, err
		}
		m, ok := x.(map[string]interface{})
		if !ok {
			return nil, errors.New("malformed fault")
		}
		code, _ := m["faultCode"].(int32)
		msg, _ := m["faultString"].(string)
		return nil, &Fault{Code: code, String: msg}
	}
	if len(res.Params) != 1 {
		return nil, errors.Errorf("expected one result value, got %d", len(res.Params))
	}
	return res.Params[0].Value.decode()
}

// Client calls methods on one XML-RPC endpoint.
type Client struct {
	URL  string
	HTTP *http.Client
}

// NewClient returns a client whose requests are bounded by timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{URL: url, HTTP: &http.Client{Timeout: timeout}}
}

// Call invokes method with args and returns the decoded result.
func (c *Client) Call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	var buf bytes.Buffer
	if err := emitRequest(&buf, method, args...); err != nil {
		return nil, errors.Wrapf(err, "building %s request", method)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "sending %s request", method)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("HTTP failed with status %s", res.Status)
	}
	return parseResponse(res.Body)
}

// Call invokes method on the endpoint at url with DefaultTimeout.
func Call(url string, method string, args ...interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return NewClient(url, DefaultTimeout).Call(ctx, method, args...)
}

// Method is a function taking decoded arguments and returning
// (result, error).
type Method interface{}

// Handler dispatches XML-RPC requests to Methods by name.
type Handler struct {
	mapping map[string]Method
	wait    sync.WaitGroup
}

func NewHandler(mapping map[string]Method) *Handler {
	return &Handler{mapping: mapping}
}

// WaitForShutdown blocks until in-flight requests have been answered.
func (h *Handler) WaitForShutdown() {
	h.wait.Wait()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.wait.Add(1)
	defer h.wait.Done()

	var buf bytes.Buffer
	defer func() {
		w.Header().Set("Content-Type", "text/xml")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = buf.WriteTo(w)
	}()

	name, args, err := parseRequest(req.Body)
	if err != nil {
		emitFault(&buf, 1, "Invalid request.")
		return
	}
	method, ok := h.mapping[name]
	if !ok {
		emitFault(&buf, 1, fmt.Sprintf("No method named '%s'.", name))
		return
	}
	result, err := invoke(method, args)
	if err != nil {
		emitFault(&buf, 1, fmt.Sprintf("Method '%s' call failed: %v", name, err))
		return
	}
	if err := emitResponse(&buf, result); err != nil {
		emitFault(&buf, 1, fmt.Sprintf("Method '%s' returned an invalid result type.", name))
	}
}

func invoke(method Method, args []interface{}) (result interface{}, err error) {
	fn := reflect.ValueOf(method)
	ft := fn.Type()
	if ft.Kind() != reflect.Func || ft.NumOut() != 2 {
		return nil, errors.New("method must return (result, error)")
	}
	if ft.NumIn() != len(args) {
		return nil, errors.Errorf("expected %d arguments, got %d", ft.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		v := reflect.ValueOf(arg)
		want := ft.In(i)
		if !v.IsValid() {
			v = reflect.Zero(want)
		} else if !v.Type().AssignableTo(want) {
			if !v.Type().ConvertibleTo(want) || (v.Kind() == reflect.String) != (want.Kind() == reflect.String) {
				return nil, errors.Errorf("argument %d: cannot use %s as %s", i, v.Type(), want)
			}
			v = v.Convert(want)
		}
		in[i] = v
	}
	out := fn.Call(in)
	if e := out[1].Interface(); e != nil {
		return nil, e.(error)
	}
	return out[0].Interface(), nil
}
