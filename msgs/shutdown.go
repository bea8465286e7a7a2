package msgs

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// SrvShutdown asks the simulator to exit. It has no fields.
type SrvShutdown struct{}

func (*SrvShutdown) TypeName() string { return TypeSrvShutdown }

func (*SrvShutdown) Marshal() ([]byte, error) { return []byte{}, nil }

func (*SrvShutdown) Unmarshal(data []byte) error {
	return decodeFields(TypeSrvShutdown, data, func(protowire.Number, protowire.Type, []byte) int {
		return 0
	})
}

// SrvShutdownAnswer is the reply to SrvShutdown.
type SrvShutdownAnswer struct {
	Accepted     bool
	ErrorMessage string
}

func (*SrvShutdownAnswer) TypeName() string { return TypeSrvShutdownAnswer }

func (a *SrvShutdownAnswer) Marshal() ([]byte, error) {
	b := appendBool(nil, 1, a.Accepted)
	if a.ErrorMessage != "" {
		b = appendString(b, 2, a.ErrorMessage)
	}
	return b, nil
}

func (a *SrvShutdownAnswer) Unmarshal(data []byte) error {
	*a = SrvShutdownAnswer{}
	return decodeFields(TypeSrvShutdownAnswer, data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBool(typ, b, &a.Accepted)
		case 2:
			return consumeString(typ, b, &a.ErrorMessage)
		}
		return 0
	})
}
