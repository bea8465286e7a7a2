package harness

import (
	"time"

	"github.com/edwinhayes/mvsimgo/msgs"
	"github.com/pkg/errors"
)

// ErrObjectNotFound means the simulator answered but does not know the
// object, or is not yet able to report it.
var ErrObjectNotFound = errors.New("object not found")

// Caller performs one request/response call. *comms.Client implements it.
type Caller interface {
	Call(service string, request []byte, timeout time.Duration) ([]byte, error)
}

// PoseLookup is a successful pose query.
type PoseLookup struct {
	ObjectID    string
	Pose        msgs.Pose
	InCollision bool
	// Raw is the undecoded reply.
	Raw []byte
}

// GetObjectPose asks the get_pose service for objectID. Call failures are
// returned unchanged so callers can tell comms.ErrTimeout from
// comms.ErrTransport; an answer without a pose yields ErrObjectNotFound.
func GetObjectPose(c Caller, objectID string, timeout time.Duration) (PoseLookup, error) {
	return getObjectPose(c, "get_pose", objectID, timeout)
}

func getObjectPose(c Caller, service, objectID string, timeout time.Duration) (PoseLookup, error) {
	req, err := (&msgs.SrvGetPose{ObjectID: objectID}).Marshal()
	if err != nil {
		return PoseLookup{}, err
	}
	raw, err := c.Call(service, req, timeout)
	if err != nil {
		return PoseLookup{}, err
	}
	return decodePose(objectID, raw)
}

func decodePose(objectID string, raw []byte) (PoseLookup, error) {
	var answer msgs.SrvGetPoseAnswer
	if err := answer.Unmarshal(raw); err != nil {
		return PoseLookup{}, errors.Wrap(err, "decode get_pose answer")
	}
	if !answer.Success || answer.Pose == nil {
		return PoseLookup{}, errors.Wrapf(ErrObjectNotFound, "%s: %s", objectID, answer.ErrorMessage)
	}
	return PoseLookup{
		ObjectID:    objectID,
		Pose:        *answer.Pose,
		InCollision: answer.ObjectIsInCollision,
		Raw:         raw,
	}, nil
}
