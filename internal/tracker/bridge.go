package tracker

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ayusman/kinectcast/internal/skeleton"
)

// maxMessageSize bounds a single bridge message.
const maxMessageSize = 1 << 20

// ErrBridgeNotConfigured is returned when no bridge executable is set.
var ErrBridgeNotConfigured = errors.New("tracker bridge executable not configured")

// BridgeConfig holds options for the SDK bridge process.
type BridgeConfig struct {
	// Path is the bridge executable.
	Path string
	// Args are passed to the executable.
	Args []string
	// Env is appended to the current environment.
	Env []string
}

// BridgeTracker implements Tracker by talking to a bridge process that wraps
// the vendor SDK. Requests and responses are MessagePack documents, each
// prefixed with a 4-byte big-endian length.
type BridgeTracker struct {
	config  BridgeConfig
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	mu      sync.Mutex
	started bool
}

// NewBridgeTracker creates a BridgeTracker.
// The bridge process is started lazily on first use.
func NewBridgeTracker(config BridgeConfig) (*BridgeTracker, error) {
	if config.Path == "" {
		return nil, ErrBridgeNotConfigured
	}
	return &BridgeTracker{config: config}, nil
}

type bridgeRequest struct {
	Op     string `msgpack:"op"`
	UserID int    `msgpack:"user_id,omitempty"`
}

type bridgeResponse struct {
	Users []wireUser `msgpack:"users"`
	Error string     `msgpack:"error"`
}

type wireUser struct {
	ID     int         `msgpack:"id"`
	New    bool        `msgpack:"new"`
	State  int         `msgpack:"state"`
	Joints []wireJoint `msgpack:"joints"`
}

type wireJoint struct {
	X          float64 `msgpack:"x"`
	Y          float64 `msgpack:"y"`
	Z          float64 `msgpack:"z"`
	Confidence float64 `msgpack:"confidence"`
}

func (u wireUser) toUser() User {
	sk := skeleton.New(u.ID)
	sk.State = skeleton.State(u.State)

	for i := 0; i < skeleton.NumJoints && i < len(u.Joints); i++ {
		j := u.Joints[i]
		sk.Joints[i].Position = r3.Vector{X: j.X, Y: j.Y, Z: j.Z}
		sk.Joints[i].Confidence = j.Confidence
	}

	return User{ID: u.ID, IsNew: u.New, Skeleton: sk}
}

// ReadFrame requests the next user frame from the bridge.
func (b *BridgeTracker) ReadFrame() (*UserFrame, error) {
	resp, err := b.call(bridgeRequest{Op: "read"})
	if err != nil {
		return nil, err
	}

	frame := &UserFrame{
		Users:     make([]User, 0, len(resp.Users)),
		Timestamp: time.Now(),
	}
	for _, u := range resp.Users {
		frame.Users = append(frame.Users, u.toUser())
	}

	return frame, nil
}

// StartSkeletonTracking asks the bridge to start tracking userID.
func (b *BridgeTracker) StartSkeletonTracking(userID int) error {
	_, err := b.call(bridgeRequest{Op: "track", UserID: userID})
	return err
}

// Close stops the bridge process.
func (b *BridgeTracker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shutdown()
}

func (b *BridgeTracker) call(req bridgeRequest) (*bridgeResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureStarted(); err != nil {
		return nil, err
	}

	if err := writeMessage(b.stdin, req); err != nil {
		return nil, fmt.Errorf("write %s request: %w", req.Op, err)
	}

	var resp bridgeResponse
	if err := readMessage(b.stdout, &resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Op, err)
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("bridge %s: %s", req.Op, resp.Error)
	}

	return &resp, nil
}

func (b *BridgeTracker) ensureStarted() error {
	if b.started {
		return nil
	}

	b.cmd = exec.Command(b.config.Path, b.config.Args...)
	if len(b.config.Env) > 0 {
		b.cmd.Env = append(os.Environ(), b.config.Env...)
	}

	stdin, err := b.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := b.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// SDK diagnostics go straight to our stderr
	b.cmd.Stderr = os.Stderr

	if err := b.cmd.Start(); err != nil {
		return fmt.Errorf("start tracker bridge: %w", err)
	}

	b.stdin = stdin
	b.stdout = bufio.NewReader(stdout)
	b.started = true

	slog.Info("tracker bridge started", "path", b.config.Path, "pid", b.cmd.Process.Pid)
	return nil
}

func (b *BridgeTracker) shutdown() error {
	if !b.started {
		return nil
	}

	if b.stdin != nil {
		b.stdin.Close()
	}

	err := b.cmd.Wait()
	b.started = false
	b.cmd = nil
	b.stdin = nil
	b.stdout = nil

	return err
}

// writeMessage encodes v as MessagePack and writes it with a length prefix.
func writeMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))

	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// readMessage reads one length-prefixed MessagePack document into v.
func readMessage(r io.Reader, v any) error {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(prefix)
	if size > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	return msgpack.Unmarshal(data, v)
}
