package fakesim

import (
	"context"
	"testing"
	"time"

	"github.com/edwinhayes/mvsimgo/comms"
	"github.com/edwinhayes/mvsimgo/config"
	"github.com/edwinhayes/mvsimgo/msgs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSim(t *testing.T, delay time.Duration, firstRange float64) *Sim {
	t.Helper()
	sim, err := Start(context.Background(), Config{
		Address:      "127.0.0.1:0",
		StartupDelay: delay,
		Period:       10 * time.Millisecond,
		FirstRange:   firstRange,
		Ranges:       181,
		Objects:      []string{"r1"},
		Logger:       comms.NewLogger("error"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sim.Stop() })
	return sim
}

func connect(t *testing.T, sim *Sim) *comms.Client {
	t.Helper()
	c, err := comms.Connect(context.Background(), sim.Address(),
		comms.WithLogger(comms.NewLogger("error")),
		comms.WithResolveInterval(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func getPose(t *testing.T, c *comms.Client, object string) *msgs.SrvGetPoseAnswer {
	t.Helper()
	req, _ := (&msgs.SrvGetPose{ObjectID: object}).Marshal()
	res, err := c.Call("get_pose", req, time.Second)
	require.NoError(t, err)
	var answer msgs.SrvGetPoseAnswer
	require.NoError(t, answer.Unmarshal(res))
	return &answer
}

func TestGetPose(t *testing.T) {
	sim := startSim(t, 200*time.Millisecond, 9.96)
	c := connect(t, sim)

	answer := getPose(t, c, "r1")
	assert.False(t, answer.Success)
	assert.Equal(t, notReady, answer.ErrorMessage)

	time.Sleep(250 * time.Millisecond)
	answer = getPose(t, c, "r1")
	assert.True(t, answer.Success)
	require.NotNil(t, answer.Pose)

	answer = getPose(t, c, "r9")
	assert.False(t, answer.Success)
	assert.Contains(t, answer.ErrorMessage, "r9")
}

func TestScanStream(t *testing.T) {
	sim := startSim(t, 0, 9.5)
	c := connect(t, sim)

	scans := make(chan *msgs.ObservationLidar2D, 10)
	require.NoError(t, c.Subscribe("/r1/laser1_scan", func(typeTag string, payload []byte) {
		if typeTag != msgs.TypeObservationLidar2D {
			return
		}
		var obs msgs.ObservationLidar2D
		if obs.Unmarshal(payload) == nil {
			select {
			case scans <- &obs:
			default:
			}
		}
	}))

	select {
	case obs := <-scans:
		assert.Len(t, obs.ScanRanges, 181)
		assert.InDelta(t, 9.5, obs.ScanRanges[0], 1e-6)
		assert.True(t, obs.ValidRanges[0])
	case <-time.After(3 * time.Second):
		t.Fatal("no scan received")
	}
}

func TestShutdownService(t *testing.T) {
	sim := startSim(t, 0, 9.96)
	c := connect(t, sim)

	req, _ := (&msgs.SrvShutdown{}).Marshal()
	res, err := c.Call("shutdown", req, time.Second)
	require.NoError(t, err)
	var answer msgs.SrvShutdownAnswer
	require.NoError(t, answer.Unmarshal(res))
	assert.True(t, answer.Accepted)

	select {
	case <-sim.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("simulator did not stop")
	}
	assert.NoError(t, sim.Wait())
}

func TestContextStopsSimulator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sim, err := Start(ctx, Config{Address: "127.0.0.1:0", Ranges: 3, Logger: comms.NewLogger("error")})
	require.NoError(t, err)
	cancel()
	select {
	case <-sim.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("simulator did not stop")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	fc := FromConfig(cfg)
	assert.Equal(t, cfg.Directory.Address, fc.Address)
	assert.Equal(t, "/r1/laser1_scan", fc.Topic)
	assert.Equal(t, 181, fc.Ranges)
	assert.InDelta(t, 9.96, fc.FirstRange, 1e-9)
}
