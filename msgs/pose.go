package msgs

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Pose is a 6D pose in the world frame.
type Pose struct {
	X, Y, Z          float64
	Yaw, Pitch, Roll float64
}

func (*Pose) TypeName() string { return TypePose }

func (p *Pose) Marshal() ([]byte, error) {
	var b []byte
	b = appendDouble(b, 1, p.X)
	b = appendDouble(b, 2, p.Y)
	b = appendDouble(b, 3, p.Z)
	b = appendDouble(b, 4, p.Yaw)
	b = appendDouble(b, 5, p.Pitch)
	b = appendDouble(b, 6, p.Roll)
	return b, nil
}

func (p *Pose) Unmarshal(data []byte) error {
	*p = Pose{}
	return decodeFields(TypePose, data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeDouble(typ, b, &p.X)
		case 2:
			return consumeDouble(typ, b, &p.Y)
		case 3:
			return consumeDouble(typ, b, &p.Z)
		case 4:
			return consumeDouble(typ, b, &p.Yaw)
		case 5:
			return consumeDouble(typ, b, &p.Pitch)
		case 6:
			return consumeDouble(typ, b, &p.Roll)
		}
		return 0
	})
}

// SrvGetPose asks for the pose of one simulated object.
type SrvGetPose struct {
	ObjectID string
}

func (*SrvGetPose) TypeName() string { return TypeSrvGetPose }

func (r *SrvGetPose) Marshal() ([]byte, error) {
	return appendString(nil, 1, r.ObjectID), nil
}

func (r *SrvGetPose) Unmarshal(data []byte) error {
	*r = SrvGetPose{}
	return decodeFields(TypeSrvGetPose, data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeString(typ, b, &r.ObjectID)
		}
		return 0
	})
}

// SrvGetPoseAnswer is the reply to SrvGetPose. Pose is nil unless Success.
type SrvGetPoseAnswer struct {
	Success             bool
	ErrorMessage        string
	Pose                *Pose
	ObjectIsInCollision bool
}

func (*SrvGetPoseAnswer) TypeName() string { return TypeSrvGetPoseAnswer }

func (a *SrvGetPoseAnswer) Marshal() ([]byte, error) {
	b := appendBool(nil, 1, a.Success)
	if a.ErrorMessage != "" {
		b = appendString(b, 2, a.ErrorMessage)
	}
	if a.Pose != nil {
		var err error
		if b, err = appendMessage(b, 3, a.Pose); err != nil {
			return nil, err
		}
		b = appendBool(b, 5, a.ObjectIsInCollision)
	}
	return b, nil
}

func (a *SrvGetPoseAnswer) Unmarshal(data []byte) error {
	*a = SrvGetPoseAnswer{}
	var nested error
	err := decodeFields(TypeSrvGetPoseAnswer, data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeBool(typ, b, &a.Success)
		case 2:
			return consumeString(typ, b, &a.ErrorMessage)
		case 3:
			a.Pose = &Pose{}
			return consumeMessage(typ, b, a.Pose, &nested)
		case 5:
			return consumeBool(typ, b, &a.ObjectIsInCollision)
		}
		return 0
	})
	if err != nil {
		return err
	}
	return nested
}
