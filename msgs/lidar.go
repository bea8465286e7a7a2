package msgs

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ObservationLidar2D is one planar range scan. ScanRanges and ValidRanges
// are parallel: ValidRanges[i] tells whether ScanRanges[i] hit something.
type ObservationLidar2D struct {
	UnixTimestamp  float64
	SourceObjectID string
	SensorLabel    string
	ScanRanges     []float32
	ValidRanges    []bool
	SensorPose     *Pose
	Aperture       float64
	MaxRange       float64
	RightToLeft    bool
}

func (*ObservationLidar2D) TypeName() string { return TypeObservationLidar2D }

// Marshal writes the repeated fields packed.
func (o *ObservationLidar2D) Marshal() ([]byte, error) {
	b := appendDouble(nil, 1, o.UnixTimestamp)
	b = appendString(b, 2, o.SourceObjectID)
	b = appendString(b, 3, o.SensorLabel)
	if len(o.ScanRanges) > 0 {
		packed := make([]byte, 0, 4*len(o.ScanRanges))
		for _, r := range o.ScanRanges {
			packed = protowire.AppendFixed32(packed, math.Float32bits(r))
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	if len(o.ValidRanges) > 0 {
		packed := make([]byte, 0, len(o.ValidRanges))
		for _, v := range o.ValidRanges {
			packed = protowire.AppendVarint(packed, protowire.EncodeBool(v))
		}
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	pose := o.SensorPose
	if pose == nil {
		pose = &Pose{}
	}
	var err error
	if b, err = appendMessage(b, 6, pose); err != nil {
		return nil, err
	}
	b = appendDouble(b, 7, o.Aperture)
	b = appendDouble(b, 8, o.MaxRange)
	b = appendBool(b, 9, o.RightToLeft)
	return b, nil
}

func (o *ObservationLidar2D) Unmarshal(data []byte) error {
	*o = ObservationLidar2D{}
	var nested error
	err := decodeFields(TypeObservationLidar2D, data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeDouble(typ, b, &o.UnixTimestamp)
		case 2:
			return consumeString(typ, b, &o.SourceObjectID)
		case 3:
			return consumeString(typ, b, &o.SensorLabel)
		case 4:
			return consumeFloats(typ, b, &o.ScanRanges)
		case 5:
			return consumeBools(typ, b, &o.ValidRanges)
		case 6:
			o.SensorPose = &Pose{}
			return consumeMessage(typ, b, o.SensorPose, &nested)
		case 7:
			return consumeDouble(typ, b, &o.Aperture)
		case 8:
			return consumeDouble(typ, b, &o.MaxRange)
		case 9:
			return consumeBool(typ, b, &o.RightToLeft)
		}
		return 0
	})
	if err != nil {
		return err
	}
	return nested
}

// consumeFloats accepts both the packed and the one-per-tag encoding.
func consumeFloats(typ protowire.Type, b []byte, out *[]float32) int {
	switch typ {
	case protowire.Fixed32Type:
		x, n := protowire.ConsumeFixed32(b)
		if n > 0 {
			*out = append(*out, math.Float32frombits(x))
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			x, m := protowire.ConsumeFixed32(packed)
			if m < 0 {
				return m
			}
			*out = append(*out, math.Float32frombits(x))
			packed = packed[m:]
		}
		return n
	}
	return 0
}

func consumeBools(typ protowire.Type, b []byte, out *[]bool) int {
	switch typ {
	case protowire.VarintType:
		x, n := protowire.ConsumeVarint(b)
		if n > 0 {
			*out = append(*out, protowire.DecodeBool(x))
		}
		return n
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		for len(packed) > 0 {
			x, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return m
			}
			*out = append(*out, protowire.DecodeBool(x))
			packed = packed[m:]
		}
		return n
	}
	return 0
}
