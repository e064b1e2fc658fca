// Package skeleton provides the joint and skeleton types reported by the depth tracker.
package skeleton

import "github.com/golang/geo/r3"

// JointID identifies one of the tracked body points.
// The numbering follows the NiTE2 joint enumeration.
type JointID int

// Joint indices following the NiTE2 convention.
const (
	Head JointID = iota
	Neck
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftHand
	RightHand
	Torso
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftFoot
	RightFoot
	NumJoints = 15
)

// MinConfidence is the confidence a joint must exceed to be used.
const MinConfidence = 0.5

var jointNames = [NumJoints]string{
	"head",
	"neck",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_hand",
	"right_hand",
	"torso",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_foot",
	"right_foot",
}

// String returns the wire name of the joint, e.g. "left_hand".
func (id JointID) String() string {
	if !id.Valid() {
		return "unknown"
	}
	return jointNames[id]
}

// Valid reports whether id is one of the 15 known joints.
func (id JointID) Valid() bool {
	return id >= 0 && id < NumJoints
}

// Bone is a pair of joints connected by an overlay line.
type Bone struct {
	From JointID
	To   JointID
}

// Bones lists the segments drawn for a skeleton.
var Bones = []Bone{
	{Head, Neck},
	{Neck, LeftShoulder},
	{Neck, RightShoulder},
	{LeftShoulder, LeftElbow},
	{RightShoulder, RightElbow},
	{LeftElbow, LeftHand},
	{RightElbow, RightHand},
	{LeftShoulder, Torso},
	{RightShoulder, Torso},
	{Torso, LeftHip},
	{Torso, RightHip},
	{LeftHip, LeftKnee},
	{RightHip, RightKnee},
	{LeftKnee, LeftFoot},
	{RightKnee, RightFoot},
}

// State is the tracking state of a user's skeleton.
type State int

const (
	StateNone State = iota
	StateCalibrating
	StateTracked
)

func (s State) String() string {
	switch s {
	case StateCalibrating:
		return "calibrating"
	case StateTracked:
		return "tracked"
	default:
		return "none"
	}
}

// Joint is a tracked body point. Position is in millimeters in camera space,
// with Y increasing upward.
type Joint struct {
	ID         JointID
	Position   r3.Vector
	Confidence float64
}

// Confident reports whether the joint is reliable enough to act on.
func (j Joint) Confident() bool {
	return j.Confidence > MinConfidence
}

// Skeleton is the set of joints for one user at one instant.
type Skeleton struct {
	UserID int
	State  State
	Joints [NumJoints]Joint
}

// Tracked reports whether the skeleton is fully tracked.
func (s *Skeleton) Tracked() bool {
	return s != nil && s.State == StateTracked
}

// Joint returns the joint with the given id.
func (s *Skeleton) Joint(id JointID) Joint {
	return s.Joints[id]
}

// Confident reports whether every listed joint is above MinConfidence.
func (s *Skeleton) Confident(ids ...JointID) bool {
	for _, id := range ids {
		if !s.Joints[id].Confident() {
			return false
		}
	}
	return true
}

// Distance returns the Euclidean distance in millimeters between two joints.
func (s *Skeleton) Distance(a, b JointID) float64 {
	return s.Joints[a].Position.Distance(s.Joints[b].Position)
}

// New returns an untracked skeleton whose joints carry their ids.
func New(userID int) Skeleton {
	sk := Skeleton{UserID: userID}
	for i := range sk.Joints {
		sk.Joints[i].ID = JointID(i)
	}
	return sk
}
