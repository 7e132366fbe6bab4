package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"livecheck/internal/history"
	"livecheck/internal/services"
	"livecheck/internal/submit"
	"livecheck/internal/testsupport"
)

func TestRecordAndListRecordings(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"older", "newer"} {
		err := store.RecordArtifact(ctx, history.Recording{
			SessionID:   id,
			Device:      "/dev/video0",
			MIMEType:    "video/webm",
			Filename:    "my-video.webm",
			ChunkCount:  3,
			Size:        int64(100 * (i + 1)),
			SHA256:      "abc",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinalizedAt: base.Add(time.Duration(i)*time.Minute + 10*time.Second),
		})
		if err != nil {
			t.Fatalf("RecordArtifact(%s): %v", id, err)
		}
	}

	score := 0.75
	if _, err := store.RecordSubmission(ctx, history.Submission{
		SessionID:   "newer",
		Endpoint:    "http://example.test/upload",
		StatusCode:  200,
		Success:     true,
		Decision:    "APPROVED",
		FinalScore:  &score,
		Duration:    1500 * time.Millisecond,
		SubmittedAt: base.Add(2 * time.Minute),
	}); err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d rows, want 2", len(list))
	}
	if list[0].SessionID != "newer" || list[1].SessionID != "older" {
		t.Fatalf("unexpected order: %s, %s", list[0].SessionID, list[1].SessionID)
	}
	if list[0].SubmissionCount != 1 || list[0].LastSubmission == nil {
		t.Fatalf("expected submission summary on newest row: %+v", list[0])
	}
	last := list[0].LastSubmission
	if last.Decision != "APPROVED" || last.FinalScore == nil || *last.FinalScore != 0.75 {
		t.Fatalf("unexpected submission: %+v", last)
	}
	if last.Duration != 1500*time.Millisecond {
		t.Fatalf("duration = %v", last.Duration)
	}
	if list[1].LastSubmission != nil {
		t.Fatalf("older row should have no submissions: %+v", list[1])
	}
	if !list[1].StartedAt.Equal(base) {
		t.Fatalf("started_at = %v, want %v", list[1].StartedAt, base)
	}
}

func TestGetIncludesAllSubmissions(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if err := store.RecordArtifact(ctx, history.Recording{SessionID: "s1", MIMEType: "video/webm", Filename: "my-video.webm", SHA256: "x"}); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}
	for i, status := range []int{502, 200} {
		if _, err := store.RecordSubmission(ctx, history.Submission{
			SessionID:   "s1",
			Endpoint:    "http://example.test",
			StatusCode:  status,
			Success:     status == 200,
			SubmittedAt: time.Now().Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("RecordSubmission: %v", err)
		}
	}

	rec, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Submissions) != 2 {
		t.Fatalf("submissions = %d, want 2", len(rec.Submissions))
	}
	if !rec.Submissions[0].Success || rec.Submissions[1].Success {
		t.Fatalf("submissions should be newest first: %+v", rec.Submissions)
	}
}

func TestGetMissingRecording(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRecordArtifactUpserts(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	ctx := context.Background()
	rec := history.Recording{SessionID: "s1", MIMEType: "video/webm", Filename: "my-video.webm", SHA256: "x"}
	if err := store.RecordArtifact(ctx, rec); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}
	rec.ArchivePath = "/tmp/s1.webm"
	if err := store.RecordArtifact(ctx, rec); err != nil {
		t.Fatalf("RecordArtifact update: %v", err)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ArchivePath != "/tmp/s1.webm" {
		t.Fatalf("archive path = %q", got.ArchivePath)
	}
}

func TestRecordRequiresSessionID(t *testing.T) {
	store := testsupport.MustOpenHistory(t, testsupport.NewConfig(t))
	if err := store.RecordArtifact(context.Background(), history.Recording{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if _, err := store.RecordSubmission(context.Background(), history.Submission{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.RecordArtifact(context.Background(), history.Recording{SessionID: "keep", MIMEType: "video/webm", Filename: "f", SHA256: "x"}); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}
	if store.Path() != filepath.Join(cfg.Paths.DataDir, "history.db") {
		t.Fatalf("path = %q", store.Path())
	}
	_ = store.Close()

	reopened := testsupport.MustOpenHistory(t, cfg)
	if _, err := reopened.Get(context.Background(), "keep"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func TestNewSubmissionFromReceipt(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	receipt := &submit.Receipt{
		Endpoint:     "http://verify.test/upload",
		StatusCode:   200,
		SubmittedAt:  at,
		Duration:     1500 * time.Millisecond,
		Verification: &submit.VerificationResult{FinalScore: 0.75, Decision: "review"},
	}
	sub := history.NewSubmission("s1", "http://fallback.test", receipt, nil)
	if !sub.Success || sub.Endpoint != receipt.Endpoint || sub.StatusCode != 200 || !sub.SubmittedAt.Equal(at) {
		t.Fatalf("unexpected submission: %+v", sub)
	}
	if sub.Decision != "review" || sub.FinalScore == nil || *sub.FinalScore != 0.75 {
		t.Fatalf("verification not copied: %+v", sub)
	}

	failed := history.NewSubmission("s1", "http://fallback.test", nil, errors.New("dial tcp: refused"))
	if failed.Success || failed.Endpoint != "http://fallback.test" || failed.Error != "dial tcp: refused" {
		t.Fatalf("unexpected failed submission: %+v", failed)
	}
	if failed.SubmittedAt.IsZero() {
		t.Fatal("expected submitted_at to default to now")
	}
}
