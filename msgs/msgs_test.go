package msgs

import (
	"bytes"
	"math"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestPoseWireFormat(t *testing.T) {
	data, err := (&Pose{X: 1}).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x09, 0, 0, 0, 0, 0, 0, 0xf0, 0x3f}
	if !bytes.HasPrefix(data, want) {
		t.Errorf("got % x", data)
	}
	if len(data) != 6*9 {
		t.Errorf("expected every field written, got %d bytes", len(data))
	}
}

func TestGetPoseAnswerLength(t *testing.T) {
	found, _ := (&SrvGetPoseAnswer{Success: true, Pose: &Pose{X: 1, Y: 2, Yaw: 0.5}}).Marshal()
	if len(found) < 50 {
		t.Errorf("found answer is only %d bytes", len(found))
	}
	missing, _ := (&SrvGetPoseAnswer{ErrorMessage: "object 'r1' not found"}).Marshal()
	if len(missing) >= 50 {
		t.Errorf("not found answer is %d bytes", len(missing))
	}

	var answer SrvGetPoseAnswer
	if err := answer.Unmarshal(found); err != nil {
		t.Fatal(err)
	}
	if !answer.Success || answer.Pose == nil || answer.Pose.Y != 2 || answer.Pose.Yaw != 0.5 {
		t.Errorf("got %+v", answer)
	}
}

func TestGetPoseRequest(t *testing.T) {
	data, _ := (&SrvGetPose{ObjectID: "r1"}).Marshal()
	if !bytes.Equal(data, []byte{0x0a, 2, 'r', '1'}) {
		t.Errorf("got % x", data)
	}
	m, err := Decode(TypeSrvGetPose, data)
	if err != nil {
		t.Fatal(err)
	}
	if m.(*SrvGetPose).ObjectID != "r1" {
		t.Error(m)
	}
}

func TestShutdown(t *testing.T) {
	data, _ := (&SrvShutdown{}).Marshal()
	if len(data) != 0 {
		t.Errorf("got % x", data)
	}
	if err := (&SrvShutdown{}).Unmarshal([]byte{0x08, 1}); err != nil {
		t.Errorf("unknown field not skipped: %v", err)
	}

	data, _ = (&SrvShutdownAnswer{Accepted: true}).Marshal()
	var answer SrvShutdownAnswer
	if err := answer.Unmarshal(data); err != nil || !answer.Accepted {
		t.Errorf("got %+v, %v", answer, err)
	}
}

func TestObservationLidar2D(t *testing.T) {
	obs := ObservationLidar2D{
		UnixTimestamp:  1700000000.5,
		SourceObjectID: "r1",
		SensorLabel:    "laser1",
		ScanRanges:     []float32{9.96, 5, 0},
		ValidRanges:    []bool{true, true, false},
		SensorPose:     &Pose{X: 0.2},
		Aperture:       math.Pi,
		MaxRange:       10,
	}
	data, err := obs.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var got ObservationLidar2D
	if err := got.Unmarshal(data); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(obs, got) {
		t.Errorf("got %+v", got)
	}
}

func TestObservationLidar2DUnpacked(t *testing.T) {
	var b []byte
	for _, r := range []float32{1, 2} {
		b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(r))
	}
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	// Unknown field 42.
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")

	var obs ObservationLidar2D
	if err := obs.Unmarshal(b); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(obs.ScanRanges, []float32{1, 2}) || !reflect.DeepEqual(obs.ValidRanges, []bool{true}) {
		t.Errorf("got %+v", obs)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	data, _ := (&ObservationLidar2D{ScanRanges: []float32{1, 2, 3}}).Marshal()
	var obs ObservationLidar2D
	if err := obs.Unmarshal(data[:len(data)-3]); err == nil {
		t.Error("expected error")
	}
	if err := (&Pose{}).Unmarshal([]byte{0x09, 1, 2}); err == nil {
		t.Error("expected error")
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{
		TypePose, TypeSrvGetPose, TypeSrvGetPoseAnswer,
		TypeSrvShutdown, TypeSrvShutdownAnswer, TypeObservationLidar2D,
	} {
		m, err := New(name)
		if err != nil {
			t.Fatal(err)
		}
		if m.TypeName() != name {
			t.Errorf("%s: got %s", name, m.TypeName())
		}
	}
	if _, err := New("mvsim_msgs.Unknown"); err == nil {
		t.Error("expected error")
	}
}
