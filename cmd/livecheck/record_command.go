package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"livecheck/internal/capture"
	"livecheck/internal/config"
	"livecheck/internal/daemon"
	"livecheck/internal/daemonrun"
	"livecheck/internal/fileutil"
	"livecheck/internal/history"
	"livecheck/internal/logging"
	"livecheck/internal/services"
	"livecheck/internal/session"
	"livecheck/internal/submit"
)

const (
	recordStopTimeout     = 15 * time.Second
	recordBookkeepTimeout = 30 * time.Second
)

type recordOptions struct {
	Duration time.Duration
	Submit   bool
	Output   string
	Upload   []submit.UploadOption
}

type recordDeps struct {
	Acquirer  capture.Acquirer
	Recorder  capture.Recorder
	Submitter session.Submitter
	Store     *history.Store
	Logger    *slog.Logger
}

type recordOutcome struct {
	Snapshot   session.Snapshot
	Artifact   *session.Artifact
	OutputPath string
	Receipt    *submit.Receipt
}

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var duration time.Duration
	var submitAfter bool
	var output string
	var fields []string
	var documentPath string
	var noHistory bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a clip in the foreground without the daemon",
		Long: "Record a clip from the configured camera until --duration elapses or Ctrl-C,\n" +
			"then optionally save it with --output and submit it with --submit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if submitAfter && strings.TrimSpace(cfg.Submission.Endpoint) == "" {
				return services.Wrap(services.ErrConfiguration, "cli", "record", "--submit requires submission.endpoint", nil)
			}
			req, err := buildSubmitRequest(fields, documentPath, "")
			if err != nil {
				return err
			}
			opts := recordOptions{
				Duration: duration,
				Submit:   submitAfter,
				Upload:   req.UploadOptions(),
			}
			if strings.TrimSpace(output) != "" {
				if opts.Output, err = config.ExpandPath(strings.TrimSpace(output)); err != nil {
					return fmt.Errorf("resolve output path: %w", err)
				}
			}

			logger, err := logging.New(logging.Options{
				Level:       logLevel,
				Format:      cfg.Logging.Format,
				OutputPaths: []string{"stderr"},
			})
			if err != nil {
				return fmt.Errorf("setup logging: %w", err)
			}
			submitter, err := daemonrun.NewSubmitter(cfg, logger)
			if err != nil {
				return err
			}
			deps := recordDeps{
				Acquirer:  capture.NewDeviceAcquirer(cfg.Capture.LockDir),
				Recorder:  daemonrun.NewRecorder(cfg, logger),
				Submitter: submitter,
				Logger:    logger,
			}
			if !noHistory {
				store, err := history.Open(cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				deps.Store = store
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				// A second Ctrl-C falls through to the default handler.
				<-sigCtx.Done()
				stop()
			}()

			stderr := cmd.ErrOrStderr()
			progress := newRecordProgress(stderr)
			outcome, err := runRecording(sigCtx, cfg, deps, opts, progress.update)
			progress.finish()
			if outcome != nil {
				printRecordOutcome(cmd, outcome)
			}
			return err
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop automatically after this long (defaults to capture.max_duration_seconds)")
	cmd.Flags().BoolVar(&submitAfter, "submit", false, "Submit the clip to the configured endpoint when recording ends")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Save the clip to this path")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "Extra form field for --submit as key=value (repeatable)")
	cmd.Flags().StringVar(&documentPath, "document", "", "Attach a document file to --submit")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the clip in the history database")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level for recorder diagnostics")
	return cmd
}

// runRecording drives one session on an in-process controller. Cancelling
// ctx stops the recording; the clip is still finalized, saved, and submitted.
func runRecording(ctx context.Context, cfg *config.Config, deps recordDeps, opts recordOptions, progress func(session.Snapshot)) (*recordOutcome, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	limit := opts.Duration
	if limit <= 0 {
		limit = cfg.MaxDuration()
	}

	finalized := make(chan *session.Artifact, 1)
	controller := session.New(deps.Acquirer, deps.Recorder, deps.Submitter,
		session.WithLogger(logger),
		session.WithConstraints(daemon.CaptureConstraints(cfg)),
		session.WithArtifactType(cfg.Submission.MIMEType, cfg.Submission.Filename),
		session.WithMaxDuration(limit),
		session.WithFinalized(func(art *session.Artifact) {
			select {
			case finalized <- art:
			default:
			}
		}),
	)

	workCtx := context.WithoutCancel(ctx)
	loopCtx, cancelLoop := context.WithCancel(workCtx)
	go func() { _ = controller.Run(loopCtx) }()
	defer func() {
		cancelLoop()
		<-controller.Done()
	}()

	snaps, unsubscribe := controller.Subscribe()
	defer unsubscribe()

	if _, err := controller.StartSession(ctx); err != nil {
		return nil, err
	}

	var art *session.Artifact
	for art == nil {
		select {
		case snap := <-snaps:
			if progress != nil {
				progress(snap)
			}
		case art = <-finalized:
		case <-ctx.Done():
			var err error
			if art, err = stopRecording(workCtx, controller, finalized); err != nil {
				return nil, err
			}
		}
	}
	if progress != nil {
		progress(controller.Snapshot())
	}

	outcome := &recordOutcome{Snapshot: controller.Snapshot(), Artifact: art}
	bookCtx, cancel := context.WithTimeout(workCtx, recordBookkeepTimeout)
	defer cancel()

	rec := history.Recording{
		SessionID:   art.SessionID,
		Device:      cfg.Capture.Device,
		MIMEType:    art.MIMEType,
		Filename:    art.Filename,
		ChunkCount:  art.ChunkCount,
		Size:        art.Size,
		SHA256:      art.SHA256,
		LastError:   outcome.Snapshot.LastError,
		StartedAt:   outcome.Snapshot.StartedAt,
		FinalizedAt: art.CreatedAt,
	}
	if opts.Output != "" {
		if err := fileutil.WriteVerified(opts.Output, art.Reader(), art.Size, art.SHA256); err != nil {
			return outcome, fmt.Errorf("save recording: %w", err)
		}
		outcome.OutputPath = opts.Output
		rec.ArchivePath = opts.Output
	}
	if deps.Store != nil {
		if err := deps.Store.RecordArtifact(bookCtx, rec); err != nil {
			logging.WarnWithContext(logger, "record artifact failed", "history_write_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check history database permissions"),
				logging.String(logging.FieldImpact, "recording missing from history"),
			)
		}
	}

	if !opts.Submit {
		return outcome, nil
	}
	if art.Size == 0 {
		return outcome, services.Wrap(services.ErrPrecondition, "cli", "record", "recording is empty; nothing to submit", nil)
	}
	submitCtx, cancelSubmit := context.WithTimeout(workCtx, cfg.SubmissionTimeout()+submitTimeoutMargin)
	defer cancelSubmit()
	receipt, err := controller.Submit(submitCtx, opts.Upload...)
	outcome.Receipt = receipt
	if deps.Store != nil {
		endpoint := cfg.Submission.Endpoint
		if _, recErr := deps.Store.RecordSubmission(bookCtx, history.NewSubmission(art.SessionID, endpoint, receipt, err)); recErr != nil {
			logging.WarnWithContext(logger, "record submission failed", "history_write_failed",
				logging.Error(recErr),
				logging.String(logging.FieldErrorHint, "check history database permissions"),
				logging.String(logging.FieldImpact, "submission missing from history"),
			)
		}
	}
	return outcome, err
}

// stopRecording ends an interrupted session. The recording may already be
// stopping on its own, which StopSession reports as a precondition error.
func stopRecording(ctx context.Context, controller *session.Controller, finalized <-chan *session.Artifact) (*session.Artifact, error) {
	stopCtx, cancel := context.WithTimeout(ctx, recordStopTimeout)
	defer cancel()
	if _, err := controller.StopSession(stopCtx); err != nil && !errors.Is(err, services.ErrPrecondition) {
		return nil, fmt.Errorf("stop recording: %w", err)
	}
	if art, ok := controller.Artifact(); ok {
		return art, nil
	}
	select {
	case art := <-finalized:
		return art, nil
	case <-stopCtx.Done():
		return nil, fmt.Errorf("stop recording: %w", stopCtx.Err())
	}
}

func printRecordOutcome(cmd *cobra.Command, outcome *recordOutcome) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	art := outcome.Artifact
	lines := []string{
		renderStatusLine("Session", statusInfo, art.SessionID, colorize),
		renderStatusLine("Size", statusInfo, fmt.Sprintf("%s in %d chunks", humanize.IBytes(uint64(max(art.Size, 0))), art.ChunkCount), colorize),
		renderStatusLine("Duration", statusInfo, outcome.Snapshot.Duration(art.CreatedAt).Round(time.Second).String(), colorize),
		renderStatusLine("SHA-256", statusInfo, art.SHA256, colorize),
	}
	if outcome.OutputPath != "" {
		lines = append(lines, renderStatusLine("Saved", statusOK, outcome.OutputPath, colorize))
	}
	if outcome.Snapshot.LastError != "" {
		lines = append(lines, renderStatusLine("Recorder", statusWarn, outcome.Snapshot.LastError, colorize))
	}
	printSection(out, "Recording", lines, colorize)
	if outcome.Receipt != nil {
		printSection(out, "Submission", receiptLines(outcome.Receipt, colorize), colorize)
	}
}

// recordProgress shows a byte spinner on a terminal and state changes
// otherwise.
type recordProgress struct {
	out   io.Writer
	bar   *progressbar.ProgressBar
	state session.State
}

func newRecordProgress(out io.Writer) *recordProgress {
	p := &recordProgress{out: out}
	if shouldColorize(out) {
		p.bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("acquiring camera"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

func (p *recordProgress) update(snap session.Snapshot) {
	if p.bar != nil {
		if snap.State != p.state {
			p.bar.Describe(stateDetail(snap))
		}
		_ = p.bar.Set64(snap.BufferedBytes)
	} else if snap.State != p.state {
		fmt.Fprintln(p.out, watchLine(snap, time.Now()))
	}
	p.state = snap.State
}

func (p *recordProgress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
