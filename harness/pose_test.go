package harness

import (
	"testing"
	"time"

	"github.com/edwinhayes/mvsimgo/comms"
	"github.com/edwinhayes/mvsimgo/msgs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cannedCaller struct {
	service string
	request []byte
	reply   []byte
	err     error
}

func (c *cannedCaller) Call(service string, request []byte, timeout time.Duration) ([]byte, error) {
	c.service = service
	c.request = request
	return c.reply, c.err
}

func TestGetObjectPoseFound(t *testing.T) {
	reply, _ := (&msgs.SrvGetPoseAnswer{Success: true, Pose: &msgs.Pose{X: 1.5, Yaw: 0.3}}).Marshal()
	caller := &cannedCaller{reply: reply}

	pose, err := GetObjectPose(caller, "r1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "get_pose", caller.service)
	var req msgs.SrvGetPose
	require.NoError(t, req.Unmarshal(caller.request))
	assert.Equal(t, "r1", req.ObjectID)

	assert.Equal(t, "r1", pose.ObjectID)
	assert.InDelta(t, 1.5, pose.Pose.X, 1e-9)
	assert.InDelta(t, 0.3, pose.Pose.Yaw, 1e-9)
	assert.Equal(t, reply, pose.Raw)
}

func TestGetObjectPoseNotFound(t *testing.T) {
	reply, _ := (&msgs.SrvGetPoseAnswer{ErrorMessage: "object 'r9' not found"}).Marshal()
	_, err := GetObjectPose(&cannedCaller{reply: reply}, "r9", time.Second)
	assert.True(t, errors.Is(err, ErrObjectNotFound), "got %v", err)
	assert.Contains(t, err.Error(), "r9")
}

func TestGetObjectPoseCallErrors(t *testing.T) {
	for _, want := range []error{comms.ErrTimeout, comms.ErrTransport, comms.ErrNoSuchService} {
		_, err := GetObjectPose(&cannedCaller{err: errors.Wrap(want, "get_pose")}, "r1", time.Second)
		assert.True(t, errors.Is(err, want), "got %v", err)
		assert.False(t, errors.Is(err, ErrObjectNotFound))
	}
}

func TestGetObjectPoseGarbage(t *testing.T) {
	_, err := GetObjectPose(&cannedCaller{reply: []byte{0x0a, 0x05}}, "r1", time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrObjectNotFound))
}
