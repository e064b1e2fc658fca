package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/geo/r3"

	"github.com/ayusman/kinectcast/internal/skeleton"
)

// Frame represents one recorded skeleton.
type Frame struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"session_id"`
	Seq        uint64          `json:"seq"`
	UserID     int             `json:"user_id"`
	CapturedAt time.Time       `json:"captured_at"`
	Data       json.RawMessage `json:"data"`
}

// JointRecord is the stored form of a joint, in millimeters.
type JointRecord struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
}

// SkeletonRecord is the stored form of a skeleton. Joints are indexed by joint id.
type SkeletonRecord struct {
	State  int           `json:"state"`
	Joints []JointRecord `json:"joints"`
}

// EncodeSkeleton serializes a skeleton's state and joints.
func EncodeSkeleton(sk *skeleton.Skeleton) ([]byte, error) {
	rec := SkeletonRecord{
		State:  int(sk.State),
		Joints: make([]JointRecord, len(sk.Joints)),
	}
	for i, j := range sk.Joints {
		rec.Joints[i] = JointRecord{
			X:          j.Position.X,
			Y:          j.Position.Y,
			Z:          j.Position.Z,
			Confidence: j.Confidence,
		}
	}
	return json.Marshal(rec)
}

// DecodeSkeleton restores a skeleton for userID from stored data.
func DecodeSkeleton(userID int, data []byte) (skeleton.Skeleton, error) {
	var rec SkeletonRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return skeleton.Skeleton{}, fmt.Errorf("decode skeleton: %w", err)
	}
	if len(rec.Joints) > skeleton.NumJoints {
		return skeleton.Skeleton{}, fmt.Errorf("decode skeleton: %d joints, max %d", len(rec.Joints), skeleton.NumJoints)
	}

	sk := skeleton.New(userID)
	sk.State = skeleton.State(rec.State)
	for i, j := range rec.Joints {
		sk.Joints[i].Position = r3.Vector{X: j.X, Y: j.Y, Z: j.Z}
		sk.Joints[i].Confidence = j.Confidence
	}
	return sk, nil
}

// FrameRepository provides operations for recorded frames.
type FrameRepository struct {
	db *sql.DB
}

// Frames returns the frame repository for this store.
func (s *Store) Frames() *FrameRepository {
	return &FrameRepository{db: s.db}
}

// Append stores a skeleton and bumps the session's frame count in one transaction.
func (r *FrameRepository) Append(sessionID string, seq uint64, sk *skeleton.Skeleton, at time.Time) error {
	data, err := EncodeSkeleton(sk)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO frames (session_id, seq, user_id, captured_at, data) VALUES (?, ?, ?, ?, ?)`,
		sessionID, int64(seq), sk.UserID, at, string(data),
	)
	if err != nil {
		return err
	}

	result, err := tx.Exec(`UPDATE sessions SET frames = frames + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return err
	}

	return tx.Commit()
}

// List returns up to limit frames of a session in capture order, starting at offset.
// A limit <= 0 returns all remaining frames.
func (r *FrameRepository) List(sessionID string, limit, offset int) ([]Frame, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, session_id, seq, user_id, captured_at, data
		 FROM frames
		 WHERE session_id = ?
		 ORDER BY seq, id
		 LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		var seq int64
		var data string
		if err := rows.Scan(&f.ID, &f.SessionID, &seq, &f.UserID, &f.CapturedAt, &data); err != nil {
			return nil, err
		}
		f.Seq = uint64(seq)
		f.Data = json.RawMessage(data)
		frames = append(frames, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return frames, nil
}

// Skeletons decodes every frame of a session in capture order, for replay.
func (r *FrameRepository) Skeletons(sessionID string) ([]skeleton.Skeleton, error) {
	frames, err := r.List(sessionID, 0, 0)
	if err != nil {
		return nil, err
	}

	skeletons := make([]skeleton.Skeleton, 0, len(frames))
	for _, f := range frames {
		sk, err := DecodeSkeleton(f.UserID, f.Data)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", f.ID, err)
		}
		skeletons = append(skeletons, sk)
	}
	return skeletons, nil
}
