package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"livecheck/internal/services"
	"livecheck/internal/submit"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500

	recordingColumns = "session_id, device, mime_type, filename, chunk_count, size_bytes, sha256, archive_path, last_error, started_at, finalized_at"
)

// Recording is one finalized recording.
type Recording struct {
	SessionID   string    `json:"session_id"`
	Device      string    `json:"device,omitempty"`
	MIMEType    string    `json:"mime_type"`
	Filename    string    `json:"filename"`
	ChunkCount  int       `json:"chunk_count"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	ArchivePath string    `json:"archive_path,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinalizedAt time.Time `json:"finalized_at"`

	SubmissionCount int          `json:"submission_count"`
	LastSubmission  *Submission  `json:"last_submission,omitempty"`
	Submissions     []Submission `json:"submissions,omitempty"`
}

// Submission is one attempt to post a recording.
type Submission struct {
	ID          int64         `json:"id"`
	SessionID   string        `json:"session_id"`
	Endpoint    string        `json:"endpoint"`
	StatusCode  int           `json:"status_code,omitempty"`
	Success     bool          `json:"success"`
	Decision    string        `json:"decision,omitempty"`
	FinalScore  *float64      `json:"final_score,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	SubmittedAt time.Time     `json:"submitted_at"`
}

// NewSubmission builds the ledger row for one submission attempt. endpoint is
// used when the attempt failed before any response.
func NewSubmission(sessionID, endpoint string, receipt *submit.Receipt, err error) Submission {
	sub := Submission{
		SessionID:   sessionID,
		Endpoint:    endpoint,
		SubmittedAt: time.Now(),
		Success:     err == nil,
	}
	if receipt != nil {
		sub.Endpoint = receipt.Endpoint
		sub.StatusCode = receipt.StatusCode
		sub.Duration = receipt.Duration
		if !receipt.SubmittedAt.IsZero() {
			sub.SubmittedAt = receipt.SubmittedAt
		}
		if v := receipt.Verification; v != nil {
			sub.Decision = v.Decision
			score := v.FinalScore
			sub.FinalScore = &score
		}
	}
	if err != nil {
		sub.Error = err.Error()
	}
	return sub
}

// RecordArtifact inserts or replaces the ledger row for a finalized recording.
func (s *Store) RecordArtifact(ctx context.Context, rec Recording) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return services.Wrap(services.ErrValidation, "history", "record artifact", "session id is required", nil)
	}
	if rec.FinalizedAt.IsZero() {
		rec.FinalizedAt = time.Now()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO recordings (`+recordingColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(session_id) DO UPDATE SET
            device = excluded.device,
            mime_type = excluded.mime_type,
            filename = excluded.filename,
            chunk_count = excluded.chunk_count,
            size_bytes = excluded.size_bytes,
            sha256 = excluded.sha256,
            archive_path = excluded.archive_path,
            last_error = excluded.last_error,
            started_at = excluded.started_at,
            finalized_at = excluded.finalized_at`,
		rec.SessionID,
		nullableString(rec.Device),
		rec.MIMEType,
		rec.Filename,
		rec.ChunkCount,
		rec.Size,
		rec.SHA256,
		nullableString(rec.ArchivePath),
		nullableString(rec.LastError),
		nullableTime(rec.StartedAt),
		formatTime(rec.FinalizedAt),
	)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// RecordSubmission appends a submission attempt and returns its id.
func (s *Store) RecordSubmission(ctx context.Context, sub Submission) (int64, error) {
	if strings.TrimSpace(sub.SessionID) == "" {
		return 0, services.Wrap(services.ErrValidation, "history", "record submission", "session id is required", nil)
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now()
	}
	var score any
	if sub.FinalScore != nil {
		score = *sub.FinalScore
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO submissions (
            session_id, endpoint, status_code, success, decision, final_score, error, duration_ms, submitted_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.SessionID,
		sub.Endpoint,
		nullableInt(sub.StatusCode),
		boolToInt(sub.Success),
		nullableString(sub.Decision),
		score,
		nullableString(sub.Error),
		sub.Duration.Milliseconds(),
		formatTime(sub.SubmittedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns the most recent recordings, newest first, each with its
// latest submission attempt.
func (s *Store) List(ctx context.Context, limit int) ([]Recording, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordingColumns+`,
            (SELECT COUNT(1) FROM submissions sub WHERE sub.session_id = recordings.session_id)
        FROM recordings
        ORDER BY finalized_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		rec, err := scanRecording(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recordings: %w", err)
	}

	for i := range out {
		if out[i].SubmissionCount == 0 {
			continue
		}
		subs, err := s.submissions(ctx, out[i].SessionID, 1)
		if err != nil {
			return nil, err
		}
		if len(subs) > 0 {
			out[i].LastSubmission = &subs[0]
		}
	}
	return out, nil
}

// Get returns one recording with all of its submission attempts, newest first.
func (s *Store) Get(ctx context.Context, sessionID string) (*Recording, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE session_id = ?`, sessionID)
	rec, err := scanRecording(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "history", "get", "no recording "+sessionID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get recording: %w", err)
	}
	subs, err := s.submissions(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	rec.Submissions = subs
	rec.SubmissionCount = len(subs)
	if len(subs) > 0 {
		rec.LastSubmission = &subs[0]
	}
	return rec, nil
}

func (s *Store) submissions(ctx context.Context, sessionID string, limit int) ([]Submission, error) {
	query := `SELECT id, session_id, endpoint, status_code, success, decision, final_score, error, duration_ms, submitted_at
        FROM submissions WHERE session_id = ? ORDER BY submitted_at DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var (
			sub        Submission
			status     sql.NullInt64
			success    int64
			decision   sql.NullString
			score      sql.NullFloat64
			errMessage sql.NullString
			durationMS sql.NullInt64
			submitted  string
		)
		if err := rows.Scan(&sub.ID, &sub.SessionID, &sub.Endpoint, &status, &success, &decision, &score, &errMessage, &durationMS, &submitted); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.StatusCode = int(status.Int64)
		sub.Success = success != 0
		sub.Decision = decision.String
		if score.Valid {
			value := score.Float64
			sub.FinalScore = &value
		}
		sub.Error = errMessage.String
		sub.Duration = time.Duration(durationMS.Int64) * time.Millisecond
		sub.SubmittedAt = parseTime(submitted)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

func scanRecording(scanner interface{ Scan(dest ...any) error }, withCount bool) (*Recording, error) {
	var (
		rec       Recording
		device    sql.NullString
		archive   sql.NullString
		lastError sql.NullString
		started   sql.NullString
		finalized string
		count     int
	)
	dest := []any{
		&rec.SessionID,
		&device,
		&rec.MIMEType,
		&rec.Filename,
		&rec.ChunkCount,
		&rec.Size,
		&rec.SHA256,
		&archive,
		&lastError,
		&started,
		&finalized,
	}
	if withCount {
		dest = append(dest, &count)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	rec.Device = device.String
	rec.ArchivePath = archive.String
	rec.LastError = lastError.String
	if started.Valid {
		rec.StartedAt = parseTime(started.String)
	}
	rec.FinalizedAt = parseTime(finalized)
	rec.SubmissionCount = count
	return &rec, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func nullableInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
