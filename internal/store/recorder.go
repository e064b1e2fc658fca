package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/kinectcast/internal/pipeline"
)

// Recorder is a pipeline sink that writes every tracked skeleton into a session.
type Recorder struct {
	store   *Store
	session *Session

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts a new session named name.
func NewRecorder(s *Store, name string) (*Recorder, error) {
	sess := &Session{Name: name, StartedAt: time.Now()}
	if err := s.Sessions().Create(sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.Info("recording session started", "session_id", sess.ID, "db", s.Path())

	return &Recorder{store: s, session: sess}, nil
}

// Name implements pipeline.Sink.
func (r *Recorder) Name() string {
	return "recorder"
}

// SessionID returns the ID of the session being recorded.
func (r *Recorder) SessionID() string {
	return r.session.ID
}

// Consume implements pipeline.Sink.
func (r *Recorder) Consume(ctx context.Context, f *pipeline.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	return r.store.Frames().Append(r.session.ID, f.Seq, &f.Skeleton, f.Timestamp)
}

// Close stamps the session's end time. Later frames are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.store.Sessions().End(r.session.ID, time.Now()); err != nil {
		return fmt.Errorf("end session %s: %w", r.session.ID, err)
	}

	slog.Info("recording session ended", "session_id", r.session.ID)
	return nil
}
