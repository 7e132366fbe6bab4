package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"livecheck/internal/capture"
	"livecheck/internal/logging"
	"livecheck/internal/services"
	"livecheck/internal/submit"
)

// ErrClosed is returned by operations issued after the event loop exited.
var ErrClosed = errors.New("session controller closed")

const (
	DiagnosticCaptureDenied  = "capture_denied"
	DiagnosticRecorderFailed = "recorder_failed"

	eventBuffer      = 64
	subscriberBuffer = 16
)

// Submitter hands a finalized recording to the processing endpoint.
type Submitter interface {
	Submit(ctx context.Context, upload submit.Upload) (*submit.Receipt, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Diagnostic is a non-blocking failure report for observers.
type Diagnostic struct {
	SessionID string
	Kind      string
	Err       error
	Time      time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDiagnostics registers fn for capture and recorder failures. fn runs on
// the event loop and must not block.
func WithDiagnostics(fn func(Diagnostic)) Option {
	return func(c *Controller) { c.diagnostics = fn }
}

// WithFinalized registers fn for every finalized artifact. fn runs on the
// event loop and must not block.
func WithFinalized(fn func(*Artifact)) Option {
	return func(c *Controller) { c.onFinalized = fn }
}

// WithMaxDuration stops a recording automatically after d. Zero disables it.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.maxDuration = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithConstraints sets the capture request issued at start.
func WithConstraints(constraints capture.Constraints) Option {
	return func(c *Controller) { c.constraints = constraints }
}

// WithArtifactType sets the MIME type and filename stamped on artifacts.
func WithArtifactType(mimeType, filename string) Option {
	return func(c *Controller) {
		if mimeType != "" {
			c.mimeType = mimeType
		}
		if filename != "" {
			c.filename = filename
		}
	}
}

// Controller runs recording sessions against one acquirer and recorder.
type Controller struct {
	acquirer    capture.Acquirer
	recorder    capture.Recorder
	submitter   Submitter
	logger      *slog.Logger
	clock       Clock
	constraints capture.Constraints
	mimeType    string
	filename    string
	maxDuration time.Duration
	diagnostics func(Diagnostic)
	onFinalized func(*Artifact)

	events  chan event
	done    chan struct{}
	running atomic.Bool

	current  atomic.Pointer[Snapshot]
	artifact atomic.Pointer[Artifact]

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	// Owned by the event loop.
	loop loopState
}

type loopState struct {
	gen         uint64
	state       State
	sessionID   string
	stream      capture.Stream
	recording   capture.Recording
	chunks      [][]byte
	chunkCount  int
	buffered    int64
	startedAt   time.Time
	stoppedAt   time.Time
	stopping    bool
	artifact    *Artifact
	lastErr     string
	revision    uint64
	timer       *time.Timer
	pending     chan result
	stopWaiters []chan result

	// recorder exited before the stream-ready event was handled
	exitedEarly bool
	exitErr     error
}

type event interface{}

type result struct {
	snap Snapshot
	err  error
}

type startRequest struct{ reply chan result }

type stopRequest struct{ reply chan result }

type readyEvent struct {
	gen       uint64
	stream    capture.Stream
	recording capture.Recording
	err       error
	recorder  bool
}

type chunkEvent struct {
	gen   uint64
	chunk capture.Chunk
}

type stoppedEvent struct {
	gen uint64
	err error
}

type deadlineEvent struct{ gen uint64 }

// New builds a controller. submitter may be nil, in which case Submit fails
// with a configuration error.
func New(acquirer capture.Acquirer, recorder capture.Recorder, submitter Submitter, opts ...Option) *Controller {
	c := &Controller{
		acquirer:    acquirer,
		recorder:    recorder,
		submitter:   submitter,
		logger:      logging.NewNop(),
		clock:       systemClock{},
		constraints: capture.Constraints{Device: "/dev/video0", Video: true},
		mimeType:    submit.DefaultMIMEType,
		filename:    submit.DefaultFilename,
		events:      make(chan event, eventBuffer),
		done:        make(chan struct{}),
		subs:        make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.logger = logging.NewComponentLogger(c.logger, "session")
	c.loop.state = StateIdle
	snap := c.build()
	c.current.Store(&snap)
	return c
}

// Run processes events until ctx is cancelled. Any held stream is released
// on return.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("session controller already running")
	}
	defer close(c.done)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// Done is closed after Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// StartSession begins a new session and waits for the capture outcome. Any
// previous artifact is discarded. A denied capture leaves the controller idle
// and returns an error wrapping services.ErrCaptureDenied.
func (c *Controller) StartSession(ctx context.Context) (Snapshot, error) {
	reply := make(chan result, 1)
	if err := c.post(ctx, startRequest{reply: reply}); err != nil {
		return c.Snapshot(), err
	}
	return c.await(ctx, reply)
}

// StopSession stops the active recording and waits for the artifact to be
// assembled. Calling it while not recording returns services.ErrPrecondition
// and changes nothing.
func (c *Controller) StopSession(ctx context.Context) (Snapshot, error) {
	reply := make(chan result, 1)
	if err := c.post(ctx, stopRequest{reply: reply}); err != nil {
		return c.Snapshot(), err
	}
	return c.await(ctx, reply)
}

// Submit hands the current artifact to the submitter. The controller does not
// track the outcome.
func (c *Controller) Submit(ctx context.Context, opts ...submit.UploadOption) (*submit.Receipt, error) {
	art := c.artifact.Load()
	if art == nil {
		return nil, services.Wrap(services.ErrPrecondition, "session", "submit", "no finalized recording", nil)
	}
	if c.submitter == nil {
		return nil, services.Wrap(services.ErrConfiguration, "session", "submit", "no submission endpoint configured", nil)
	}
	upload := submit.Upload{
		SessionID: art.SessionID,
		Video: submit.File{
			Filename:    art.Filename,
			ContentType: art.MIMEType,
			Data:        art.data,
		},
	}
	upload.Apply(opts...)
	return c.submitter.Submit(ctx, upload)
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	return *c.current.Load()
}

// Artifact returns the finalized recording, if one exists.
func (c *Controller) Artifact() (*Artifact, bool) {
	art := c.artifact.Load()
	return art, art != nil
}

// Subscribe returns a channel receiving every published snapshot, starting
// with the current one. A slow subscriber loses intermediate snapshots but
// always receives the most recent one. Call cancel to unsubscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.Snapshot()
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			close(ch)
			c.subMu.Unlock()
		})
	}
}

func (c *Controller) post(ctx context.Context, ev event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) await(ctx context.Context, reply <-chan result) (Snapshot, error) {
	select {
	case r := <-reply:
		return r.snap, r.err
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	case <-c.done:
		return c.Snapshot(), ErrClosed
	}
}

// deliver posts from collaborator goroutines. It reports false once the loop
// has exited.
func (c *Controller) deliver(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case startRequest:
		c.handleStart(ctx, ev)
	case stopRequest:
		c.handleStop(ev)
	case readyEvent:
		c.handleReady(ev)
	case chunkEvent:
		c.handleChunk(ev)
	case stoppedEvent:
		c.handleStopped(ev)
	case deadlineEvent:
		c.handleDeadline(ev)
	default:
		c.logger.Debug("unknown session event", logging.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (c *Controller) handleStart(ctx context.Context, req startRequest) {
	l := &c.loop
	if (l.state != StateIdle && l.state != StateStopped) || l.stream != nil {
		req.reply <- result{
			snap: c.build(),
			err:  services.Wrap(services.ErrPrecondition, "session", "start", "session is "+l.state.String(), nil),
		}
		return
	}

	l.gen++
	l.sessionID = uuid.NewString()
	l.state = StateAcquiring
	l.chunks = nil
	l.chunkCount = 0
	l.buffered = 0
	l.startedAt = time.Time{}
	l.stoppedAt = time.Time{}
	l.stopping = false
	l.lastErr = ""
	l.exitedEarly = false
	l.exitErr = nil
	if l.artifact != nil {
		c.sessionLogger().Debug("discarding previous recording", logging.String("previous_session", l.artifact.SessionID))
	}
	l.artifact = nil
	c.artifact.Store(nil)
	l.pending = req.reply

	c.sessionLogger().Info("requesting capture stream", logging.String("device", c.constraints.Device))
	c.publish()
	go c.prepare(ctx, l.gen)
}

// prepare acquires the stream and starts the recorder off the event loop.
func (c *Controller) prepare(ctx context.Context, gen uint64) {
	stream, err := c.acquirer.Acquire(ctx, c.constraints)
	if err != nil {
		c.deliver(readyEvent{gen: gen, err: err})
		return
	}
	recording, err := c.recorder.Start(ctx, stream, loopSink{c: c, gen: gen})
	if err != nil {
		_ = stream.Close()
		c.deliver(readyEvent{gen: gen, err: err, recorder: true})
		return
	}
	if !c.deliver(readyEvent{gen: gen, stream: stream, recording: recording}) {
		_ = recording.Stop()
		_ = stream.Close()
	}
}

func (c *Controller) handleReady(ev readyEvent) {
	l := &c.loop
	if ev.gen != l.gen || l.state != StateAcquiring {
		c.logger.Debug("discarding stale capture result", logging.Int64("generation", int64(ev.gen)))
		if ev.err == nil {
			_ = ev.recording.Stop()
			_ = ev.stream.Close()
		}
		return
	}
	reply := l.pending
	l.pending = nil

	if ev.err != nil {
		err := captureDenied(ev.err, ev.recorder)
		l.state = StateIdle
		l.chunks = nil
		l.chunkCount = 0
		l.buffered = 0
		l.lastErr = err.Error()
		c.report(DiagnosticCaptureDenied, err)
		c.publish()
		if reply != nil {
			reply <- result{snap: c.build(), err: err}
		}
		return
	}

	l.stream = ev.stream
	l.recording = ev.recording
	l.state = StateRecording
	l.startedAt = c.clock.Now()
	if c.maxDuration > 0 {
		gen := l.gen
		l.timer = time.AfterFunc(c.maxDuration, func() { c.deliver(deadlineEvent{gen: gen}) })
	}
	c.sessionLogger().Info("recording started",
		logging.String("stream_id", ev.stream.ID()),
		logging.String("device", ev.stream.Device()),
	)
	c.publish()
	if reply != nil {
		reply <- result{snap: c.build()}
	}

	if l.exitedEarly {
		c.recorderExited(l.exitErr)
	}
}

func (c *Controller) handleChunk(ev chunkEvent) {
	l := &c.loop
	if ev.gen != l.gen || (l.state != StateAcquiring && l.state != StateRecording) {
		return
	}
	l.chunks = append(l.chunks, ev.chunk.Data)
	l.chunkCount++
	l.buffered += int64(len(ev.chunk.Data))
	c.publish()
}

func (c *Controller) handleStop(req stopRequest) {
	l := &c.loop
	if l.state != StateRecording {
		req.reply <- result{
			snap: c.build(),
			err:  services.Wrap(services.ErrPrecondition, "session", "stop", "session is "+l.state.String(), nil),
		}
		return
	}
	l.stopWaiters = append(l.stopWaiters, req.reply)
	if !l.stopping {
		c.beginStop("stop requested")
	}
}

func (c *Controller) handleDeadline(ev deadlineEvent) {
	l := &c.loop
	if ev.gen != l.gen || l.state != StateRecording || l.stopping {
		return
	}
	c.beginStop("maximum duration reached")
}

func (c *Controller) beginStop(reason string) {
	l := &c.loop
	l.stopping = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	c.sessionLogger().Info("stopping recording",
		logging.String("reason", reason),
		logging.Int("chunks", l.chunkCount),
	)
	c.publish()
	if err := l.recording.Stop(); err != nil {
		logging.WarnWithContext(c.sessionLogger(), "recorder stop failed", "recorder_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the recorder may already have exited"),
		)
	}
}

func (c *Controller) handleStopped(ev stoppedEvent) {
	l := &c.loop
	if ev.gen != l.gen {
		return
	}
	switch l.state {
	case StateAcquiring:
		l.exitedEarly = true
		l.exitErr = ev.err
	case StateRecording:
		c.recorderExited(ev.err)
	}
}

func (c *Controller) recorderExited(err error) {
	l := &c.loop
	if err != nil {
		l.lastErr = err.Error()
		c.report(DiagnosticRecorderFailed, err)
	} else if !l.stopping {
		c.sessionLogger().Info("recorder finished on its own")
	}
	c.finalize()
}

// finalize releases the stream and assembles the artifact from the chunks in
// arrival order.
func (c *Controller) finalize() {
	l := &c.loop
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.stream != nil {
		if err := l.stream.Close(); err != nil {
			logging.WarnWithContext(c.sessionLogger(), "release capture stream failed", "stream_release_failed",
				logging.Error(err),
			)
		}
		l.stream = nil
	}
	l.recording = nil

	now := c.clock.Now()
	art := newArtifact(l.sessionID, c.mimeType, c.filename, l.chunks, now)
	l.chunks = nil
	l.artifact = art
	c.artifact.Store(art)
	l.state = StateStopped
	l.stoppedAt = now
	l.stopping = false

	c.sessionLogger().Info("recording finalized",
		logging.Int("chunks", art.ChunkCount),
		logging.Int64("bytes", art.Size),
		logging.Duration("duration", l.stoppedAt.Sub(l.startedAt)),
		logging.String("sha256", art.SHA256),
	)
	c.publish()
	if c.onFinalized != nil {
		c.onFinalized(art)
	}

	snap := c.build()
	for _, waiter := range l.stopWaiters {
		waiter <- result{snap: snap}
	}
	l.stopWaiters = nil
}

func (c *Controller) shutdown() {
	l := &c.loop
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if l.recording != nil {
		_ = l.recording.Stop()
		l.recording = nil
	}
	if l.stream != nil {
		_ = l.stream.Close()
		l.stream = nil
	}
	if l.pending != nil {
		l.pending <- result{snap: c.build(), err: ErrClosed}
		l.pending = nil
	}
	for _, waiter := range l.stopWaiters {
		waiter <- result{snap: c.build(), err: ErrClosed}
	}
	l.stopWaiters = nil
	if l.state == StateAcquiring || l.state == StateRecording {
		l.state = StateIdle
		l.chunks = nil
		c.publish()
	}
}

func (c *Controller) report(kind string, err error) {
	l := &c.loop
	logger := c.sessionLogger()
	switch kind {
	case DiagnosticCaptureDenied:
		logging.WarnWithContext(logger, "capture denied", kind,
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the camera is connected, readable, and not in use, then start again"),
			logging.String(logging.FieldImpact, "no recording was made"),
		)
	default:
		logging.WarnWithContext(logger, "recorder stopped unexpectedly", kind,
			logging.Error(err),
			logging.Int("chunks", l.chunkCount),
			logging.String(logging.FieldImpact, "recording finalized with the chunks received so far"),
		)
	}
	if c.diagnostics != nil {
		c.diagnostics(Diagnostic{SessionID: l.sessionID, Kind: kind, Err: err, Time: c.clock.Now()})
	}
}

func (c *Controller) sessionLogger() *slog.Logger {
	if c.loop.sessionID == "" {
		return c.logger
	}
	return c.logger.With(logging.String(logging.FieldSessionID, c.loop.sessionID))
}

func (c *Controller) build() Snapshot {
	l := &c.loop
	snap := Snapshot{
		SessionID:     l.sessionID,
		State:         l.state,
		Controls:      ControlsFor(l.state, l.artifact != nil),
		Stopping:      l.stopping,
		ChunkCount:    l.chunkCount,
		BufferedBytes: l.buffered,
		StartedAt:     l.startedAt,
		StoppedAt:     l.stoppedAt,
		LastError:     l.lastErr,
		Revision:      l.revision,
	}
	if l.artifact != nil {
		info := l.artifact.Info()
		snap.Artifact = &info
	}
	return snap
}

func (c *Controller) publish() {
	c.loop.revision++
	snap := c.build()
	c.current.Store(&snap)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func captureDenied(err error, recorder bool) error {
	if errors.Is(err, services.ErrCaptureDenied) {
		return err
	}
	if recorder {
		return services.Wrap(services.ErrCaptureDenied, "session", "record", "recorder failed to start", err)
	}
	return services.Wrap(services.ErrCaptureDenied, "session", "acquire", "capture unavailable", err)
}

type loopSink struct {
	c   *Controller
	gen uint64
}

func (s loopSink) Chunk(chunk capture.Chunk) {
	s.c.deliver(chunkEvent{gen: s.gen, chunk: chunk})
}

func (s loopSink) Stopped(err error) {
	s.c.deliver(stoppedEvent{gen: s.gen, err: err})
}
