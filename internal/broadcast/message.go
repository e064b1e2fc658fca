// Package broadcast streams the latest tracked skeleton to WebSocket clients.
package broadcast

import (
	"github.com/ayusman/kinectcast/internal/overlay"
	"github.com/ayusman/kinectcast/internal/skeleton"
)

// JointPayload is a joint as sent to clients: projected pixel coordinates
// plus the raw depth in millimeters.
type JointPayload struct {
	X int     `json:"x" msgpack:"x"`
	Y int     `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Message is one skeleton update.
type Message struct {
	UserID int                     `json:"user_id" msgpack:"user_id"`
	Joints map[string]JointPayload `json:"joints" msgpack:"joints"`
}

// NewMessage builds a Message from a skeleton and its projected points.
// Only joints above the confidence gate that have a projected point are included.
func NewMessage(sk *skeleton.Skeleton, pts overlay.Points) *Message {
	msg := &Message{
		UserID: sk.UserID,
		Joints: make(map[string]JointPayload, len(pts)),
	}

	for i, j := range sk.Joints {
		id := skeleton.JointID(i)
		if !j.Confident() {
			continue
		}
		px, ok := pts[id]
		if !ok {
			continue
		}
		msg.Joints[id.String()] = JointPayload{
			X: px.X,
			Y: px.Y,
			Z: j.Position.Z,
		}
	}

	return msg
}
