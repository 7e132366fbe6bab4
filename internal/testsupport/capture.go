package testsupport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livecheck/internal/capture"
)

const waitTimeout = 5 * time.Second

// FakeAcquirer is a scripted capture.Acquirer.
type FakeAcquirer struct {
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	streams []*FakeStream
}

// NewFakeAcquirer returns an acquirer that grants every request.
func NewFakeAcquirer() *FakeAcquirer {
	return &FakeAcquirer{}
}

// Deny makes subsequent requests fail with err. A nil err grants again.
func (a *FakeAcquirer) Deny(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// Hold blocks subsequent requests until the returned release func is called.
func (a *FakeAcquirer) Hold() (release func()) {
	gate := make(chan struct{})
	a.mu.Lock()
	a.gate = gate
	a.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			if a.gate == gate {
				a.gate = nil
			}
			a.mu.Unlock()
			close(gate)
		})
	}
}

// Acquire implements capture.Acquirer.
func (a *FakeAcquirer) Acquire(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	a.mu.Lock()
	gate := a.gate
	a.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	stream := &FakeStream{id: fmt.Sprintf("stream-%d", len(a.streams)+1), constraints: c}
	a.streams = append(a.streams, stream)
	return stream, nil
}

// Streams returns every stream granted so far.
func (a *FakeAcquirer) Streams() []*FakeStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakeStream(nil), a.streams...)
}

// FakeStream is a capture.Stream that records whether it was closed.
type FakeStream struct {
	id          string
	constraints capture.Constraints
	closed      atomic.Int32
}

func (s *FakeStream) ID() string                       { return s.id }
func (s *FakeStream) Device() string                   { return s.constraints.Device }
func (s *FakeStream) Constraints() capture.Constraints { return s.constraints }

func (s *FakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

// Closed reports whether Close was called at least once.
func (s *FakeStream) Closed() bool { return s.closed.Load() > 0 }

// FakeRecorder is a scripted capture.Recorder. Each Start produces a
// FakeRecording the test drives by hand.
type FakeRecorder struct {
	mu       sync.Mutex
	startErr error
	tail     [][]byte
	started  chan *FakeRecording
}

// NewFakeRecorder returns a recorder whose recordings finish cleanly when
// stopped.
func NewFakeRecorder() *FakeRecorder {
	return &FakeRecorder{started: make(chan *FakeRecording, 16)}
}

// FailStart makes subsequent Start calls fail with err.
func (r *FakeRecorder) FailStart(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startErr = err
}

// FlushOnStop sets chunks each subsequent recording emits after Stop and
// before its stopped notification.
func (r *FakeRecorder) FlushOnStop(chunks ...[]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tail = chunks
}

// Start implements capture.Recorder.
func (r *FakeRecorder) Start(_ context.Context, stream capture.Stream, sink capture.Sink) (capture.Recording, error) {
	r.mu.Lock()
	err := r.startErr
	tail := r.tail
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	rec := &FakeRecording{stream: stream, sink: sink, tail: tail, stopRequested: make(chan struct{})}
	r.started <- rec
	return rec, nil
}

// Next waits for the next recording started against this recorder.
func (r *FakeRecorder) Next(t testing.TB) *FakeRecording {
	t.Helper()
	select {
	case rec := <-r.started:
		return rec
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for recorder start")
		return nil
	}
}

// FakeRecording is an in-flight fake recording.
type FakeRecording struct {
	stream capture.Stream
	sink   capture.Sink
	tail   [][]byte

	mu            sync.Mutex
	seq           int64
	finished      bool
	stopOnce      sync.Once
	stopRequested chan struct{}
}

// Stream returns the stream the recording was started against.
func (r *FakeRecording) Stream() capture.Stream { return r.stream }

// Emit delivers chunks to the sink in order.
func (r *FakeRecording) Emit(chunks ...[]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, data := range chunks {
		r.sink.Chunk(capture.Chunk{Sequence: r.seq, Data: append([]byte(nil), data...), ReceivedAt: time.Now()})
		r.seq++
	}
}

// Stop implements capture.Recording. It flushes the configured tail and
// reports a clean stop from a separate goroutine, as a real recorder would.
func (r *FakeRecording) Stop() error {
	r.stopOnce.Do(func() {
		close(r.stopRequested)
		go func() {
			r.Emit(r.tail...)
			r.Finish(nil)
		}()
	})
	return nil
}

// StopRequested is closed once Stop has been called.
func (r *FakeRecording) StopRequested() <-chan struct{} { return r.stopRequested }

// Finish sends the stopped notification with err. Only the first call has
// an effect.
func (r *FakeRecording) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	r.sink.Stopped(err)
}
