// Package msgs holds the records exchanged with the simulator, encoded in
// protobuf wire format.
package msgs

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Type tags carried in topic frames and service registrations.
const (
	TypePose               = "mvsim_msgs.Pose"
	TypeSrvGetPose         = "mvsim_msgs.SrvGetPose"
	TypeSrvGetPoseAnswer   = "mvsim_msgs.SrvGetPoseAnswer"
	TypeSrvShutdown        = "mvsim_msgs.SrvShutdown"
	TypeSrvShutdownAnswer  = "mvsim_msgs.SrvShutdownAnswer"
	TypeObservationLidar2D = "mvsim_msgs.ObservationLidar2D"
)

// Message is a record with a wire type tag.
type Message interface {
	TypeName() string
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

// New returns an empty record for typeName.
func New(typeName string) (Message, error) {
	switch typeName {
	case TypePose:
		return &Pose{}, nil
	case TypeSrvGetPose:
		return &SrvGetPose{}, nil
	case TypeSrvGetPoseAnswer:
		return &SrvGetPoseAnswer{}, nil
	case TypeSrvShutdown:
		return &SrvShutdown{}, nil
	case TypeSrvShutdownAnswer:
		return &SrvShutdownAnswer{}, nil
	case TypeObservationLidar2D:
		return &ObservationLidar2D{}, nil
	}
	return nil, errors.Errorf("unknown message type %q", typeName)
}

// Decode parses data as the record named by typeName.
func Decode(typeName string, data []byte) (Message, error) {
	m, err := New(typeName)
	if err != nil {
		return nil, err
	}
	if err := m.Unmarshal(data); err != nil {
		return nil, err
	}
	return m, nil
}

// fieldFunc consumes the value of one field and returns the bytes used. A
// return of 0 skips the field as unknown, a negative value is a
// protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

func decodeFields(name string, b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "%s: tag", name)
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return errors.Wrapf(protowire.ParseError(m), "%s: field %d", name, num)
		}
		b = b[m:]
	}
	return nil
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, m Message) ([]byte, error) {
	data, err := m.Marshal()
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, data), nil
}

func consumeDouble(typ protowire.Type, b []byte, v *float64) int {
	if typ != protowire.Fixed64Type {
		return 0
	}
	x, n := protowire.ConsumeFixed64(b)
	if n > 0 {
		*v = math.Float64frombits(x)
	}
	return n
}

func consumeBool(typ protowire.Type, b []byte, v *bool) int {
	if typ != protowire.VarintType {
		return 0
	}
	x, n := protowire.ConsumeVarint(b)
	if n > 0 {
		*v = protowire.DecodeBool(x)
	}
	return n
}

func consumeString(typ protowire.Type, b []byte, v *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	x, n := protowire.ConsumeString(b)
	if n > 0 {
		*v = x
	}
	return n
}

// consumeMessage decodes a nested record. A decoding failure inside the
// nested bytes is reported through errp.
func consumeMessage(typ protowire.Type, b []byte, m Message, errp *error) int {
	if typ != protowire.BytesType {
		return 0
	}
	data, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	if err := m.Unmarshal(data); err != nil && *errp == nil {
		*errp = err
	}
	return n
}
