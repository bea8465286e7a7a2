package harness

import (
	"math"
	"os"

	"github.com/buger/jsonparser"
	"github.com/edwinhayes/mvsimgo/config"
	"github.com/edwinhayes/mvsimgo/msgs"
	"github.com/pkg/errors"
)

// ErrRejected wraps every reason a scan fails the check.
var ErrRejected = errors.New("scan rejected")

// ScanCheck accepts a lidar scan with the expected number of ranges whose
// first range is within Tolerance of FirstRange.
type ScanCheck struct {
	ExpectedRanges    int
	FirstRange        float64
	Tolerance         float64
	RequireFirstValid bool
}

// DefaultScanCheck matches the still robot facing a wall at 9.96m.
func DefaultScanCheck() ScanCheck {
	return ScanCheck{
		ExpectedRanges:    181,
		FirstRange:        9.96,
		Tolerance:         0.2,
		RequireFirstValid: true,
	}
}

// ScanCheckFromConfig builds the check from the scan section, applying the
// fixture file when one is configured.
func ScanCheckFromConfig(cfg config.ScanConfig) (ScanCheck, error) {
	check := ScanCheck{
		ExpectedRanges:    cfg.ExpectedRanges,
		FirstRange:        cfg.FirstRange,
		Tolerance:         cfg.Tolerance,
		RequireFirstValid: true,
	}
	if cfg.Fixture == "" {
		return check, nil
	}
	data, err := os.ReadFile(cfg.Fixture)
	if err != nil {
		return ScanCheck{}, errors.Wrap(err, "read scan fixture")
	}
	return ParseScanCheck(data, check)
}

// LoadScanCheck reads a JSON fixture such as
//
//	{"expected_ranges": 181, "first_range": 9.96, "tolerance": 0.2, "require_first_valid": true}
//
// Keys left out keep their DefaultScanCheck values.
func LoadScanCheck(path string) (ScanCheck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScanCheck{}, errors.Wrap(err, "read scan fixture")
	}
	return ParseScanCheck(data, DefaultScanCheck())
}

// ParseScanCheck overlays the keys present in data onto base.
func ParseScanCheck(data []byte, base ScanCheck) (ScanCheck, error) {
	check := base
	paths := [][]string{
		{"expected_ranges"},
		{"first_range"},
		{"tolerance"},
		{"require_first_valid"},
	}
	var parseErr error
	jsonparser.EachKey(data, func(idx int, value []byte, vt jsonparser.ValueType, err error) {
		if parseErr != nil {
			return
		}
		if err != nil {
			parseErr = err
			return
		}
		switch idx {
		case 0:
			var n int64
			n, parseErr = jsonparser.ParseInt(value)
			check.ExpectedRanges = int(n)
		case 1:
			check.FirstRange, parseErr = jsonparser.ParseFloat(value)
		case 2:
			check.Tolerance, parseErr = jsonparser.ParseFloat(value)
		case 3:
			check.RequireFirstValid, parseErr = jsonparser.ParseBoolean(value)
		}
	}, paths...)
	if parseErr != nil {
		return ScanCheck{}, errors.Wrap(parseErr, "parse scan fixture")
	}
	if check.ExpectedRanges <= 0 || check.Tolerance < 0 {
		return ScanCheck{}, errors.Errorf("invalid scan fixture: %+v", check)
	}
	return check, nil
}

// Accept returns nil when the frame is an ObservationLidar2D passing the
// check, and an error wrapping ErrRejected otherwise.
func (c ScanCheck) Accept(typeTag string, payload []byte) error {
	if typeTag != msgs.TypeObservationLidar2D {
		return errors.Wrapf(ErrRejected, "unexpected type %q", typeTag)
	}
	var obs msgs.ObservationLidar2D
	if err := obs.Unmarshal(payload); err != nil {
		return errors.Wrapf(ErrRejected, "%v", err)
	}
	return c.Check(&obs)
}

// Check applies the predicate to a decoded scan.
func (c ScanCheck) Check(obs *msgs.ObservationLidar2D) error {
	if len(obs.ScanRanges) == 0 || len(obs.ScanRanges) != c.ExpectedRanges {
		return errors.Wrapf(ErrRejected, "%d ranges, want %d", len(obs.ScanRanges), c.ExpectedRanges)
	}
	if diff := math.Abs(float64(obs.ScanRanges[0]) - c.FirstRange); !(diff < c.Tolerance) {
		return errors.Wrapf(ErrRejected, "first range %.3f is %.3f away from %.3f", obs.ScanRanges[0], diff, c.FirstRange)
	}
	if c.RequireFirstValid && (len(obs.ValidRanges) == 0 || !obs.ValidRanges[0]) {
		return errors.Wrap(ErrRejected, "first range is not valid")
	}
	return nil
}
