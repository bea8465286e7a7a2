package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edwinhayes/mvsimgo/config"
	"github.com/edwinhayes/mvsimgo/msgs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanPayload(t *testing.T, ranges int, first float32, firstValid bool) []byte {
	t.Helper()
	obs := msgs.ObservationLidar2D{
		ScanRanges:  make([]float32, ranges),
		ValidRanges: make([]bool, ranges),
	}
	if ranges > 0 {
		obs.ScanRanges[0] = first
		obs.ValidRanges[0] = firstValid
	}
	data, err := obs.Marshal()
	require.NoError(t, err)
	return data
}

func TestScanCheckAccept(t *testing.T) {
	check := DefaultScanCheck()
	cases := []struct {
		name    string
		typeTag string
		payload []byte
		accept  bool
	}{
		{"matching", msgs.TypeObservationLidar2D, scanPayload(t, 181, 9.96, true), true},
		{"within tolerance", msgs.TypeObservationLidar2D, scanPayload(t, 181, 10.1, true), true},
		{"too far", msgs.TypeObservationLidar2D, scanPayload(t, 181, 9.5, true), false},
		{"at tolerance", msgs.TypeObservationLidar2D, scanPayload(t, 181, 10.2, true), false},
		{"invalid first", msgs.TypeObservationLidar2D, scanPayload(t, 181, 9.96, false), false},
		{"wrong count", msgs.TypeObservationLidar2D, scanPayload(t, 180, 9.96, true), false},
		{"empty", msgs.TypeObservationLidar2D, scanPayload(t, 0, 0, false), false},
		{"wrong type", msgs.TypePose, scanPayload(t, 181, 9.96, true), false},
		{"garbage", msgs.TypeObservationLidar2D, []byte{0x09, 1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := check.Accept(c.typeTag, c.payload)
			if c.accept {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrRejected), "got %v", err)
			}
		})
	}
}

func TestParseScanCheck(t *testing.T) {
	check, err := ParseScanCheck([]byte(`{"expected_ranges": 90, "tolerance": 0.5}`), DefaultScanCheck())
	require.NoError(t, err)
	assert.Equal(t, 90, check.ExpectedRanges)
	assert.InDelta(t, 0.5, check.Tolerance, 1e-9)
	assert.InDelta(t, 9.96, check.FirstRange, 1e-9)
	assert.True(t, check.RequireFirstValid)

	_, err = ParseScanCheck([]byte(`{"expected_ranges": "many"}`), DefaultScanCheck())
	assert.Error(t, err)
	_, err = ParseScanCheck([]byte(`{"expected_ranges": 0}`), DefaultScanCheck())
	assert.Error(t, err)
}

func TestLoadScanCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"first_range": 4.5, "require_first_valid": false}`), 0644))

	check, err := LoadScanCheck(path)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, check.FirstRange, 1e-9)
	assert.False(t, check.RequireFirstValid)
	assert.NoError(t, check.Accept(msgs.TypeObservationLidar2D, scanPayload(t, 181, 4.5, false)))

	_, err = LoadScanCheck(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	cfg := config.Default().Scan
	cfg.Fixture = path
	fromCfg, err := ScanCheckFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, check, fromCfg)
}
