package capture

import (
	"context"
	"time"
)

// Constraints describes the capture a session asks for.
type Constraints struct {
	Device    string
	Video     bool
	Audio     bool
	Width     int
	Height    int
	FrameRate int
}

// Stream is a live capture handle. It is owned by exactly one session and must
// be closed when that session ends.
type Stream interface {
	ID() string
	Device() string
	Constraints() Constraints
	Close() error
}

// Acquirer requests a capture stream from the platform. It is a one-shot
// request with no retry; denial is reported as an error wrapping
// services.ErrCaptureDenied.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Chunk is one fragment of encoded media emitted while recording.
type Chunk struct {
	Sequence   int64
	Data       []byte
	ReceivedAt time.Time
}

// Sink consumes recorder output. Chunk is called sequentially in emission
// order and Stopped is called exactly once, after the last chunk.
type Sink interface {
	Chunk(Chunk)
	Stopped(err error)
}

// Recorder starts chunk production against a granted stream.
type Recorder interface {
	Start(ctx context.Context, stream Stream, sink Sink) (Recording, error)
}

// Recording is an in-flight chunk producer.
type Recording interface {
	// Stop asks the producer to finish. Remaining chunks are still delivered
	// before the sink's Stopped notification. Calling Stop more than once is a no-op.
	Stop() error
}

// SinkFuncs adapts two functions to the Sink interface.
type SinkFuncs struct {
	OnChunk   func(Chunk)
	OnStopped func(error)
}

func (s SinkFuncs) Chunk(c Chunk) {
	if s.OnChunk != nil {
		s.OnChunk(c)
	}
}

func (s SinkFuncs) Stopped(err error) {
	if s.OnStopped != nil {
		s.OnStopped(err)
	}
}
