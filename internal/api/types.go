package api

import (
	"errors"
	"time"

	"livecheck/internal/deps"
	"livecheck/internal/history"
	"livecheck/internal/logging"
	"livecheck/internal/services"
	"livecheck/internal/session"
	"livecheck/internal/submit"
)

// Error kinds reported in ErrorResponse.Kind.
const (
	KindPrecondition  = "precondition"
	KindCaptureDenied = "capture_denied"
	KindSubmission    = "submission"
	KindNotFound      = "not_found"
	KindValidation    = "validation"
	KindUnauthorized  = "unauthorized"
	KindInternal      = "internal"
)

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CameraStatus reports what the hotplug monitor knows about the device.
type CameraStatus struct {
	Device      string    `json:"device"`
	Present     bool      `json:"present"`
	Monitoring  bool      `json:"monitoring"`
	LastEvent   string    `json:"last_event,omitempty"`
	LastEventAt time.Time `json:"last_event_at,omitzero"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	StartedAt    time.Time          `json:"started_at"`
	HistoryPath  string             `json:"history_path"`
	LockFilePath string             `json:"lock_file_path"`
	LogPath      string             `json:"log_path,omitempty"`
	Endpoint     string             `json:"endpoint,omitempty"`
	Session      session.Snapshot   `json:"session"`
	Camera       CameraStatus       `json:"camera"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// SessionResponse wraps the controller snapshot.
type SessionResponse struct {
	Session session.Snapshot `json:"session"`
}

// SubmitResponse reports the outcome of a submit action.
type SubmitResponse struct {
	Session session.Snapshot `json:"session"`
	Receipt *submit.Receipt  `json:"receipt,omitempty"`
}

// SubmitRequest is the optional body of a submit action.
type SubmitRequest struct {
	Fields   map[string]string `json:"fields,omitempty"`
	Document *Document         `json:"document,omitempty"`
}

// Document is an extra file sent alongside the recording.
type Document struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Data        []byte `json:"data"`
}

// UploadOptions converts the request into submission options.
func (r SubmitRequest) UploadOptions() []submit.UploadOption {
	opts := make([]submit.UploadOption, 0, len(r.Fields)+1)
	for key, value := range r.Fields {
		opts = append(opts, submit.WithField(key, value))
	}
	if doc := r.Document; doc != nil {
		opts = append(opts, submit.WithDocument(submit.File{
			Filename:    doc.Filename,
			ContentType: doc.ContentType,
			Data:        doc.Data,
		}))
	}
	return opts
}

// NotificationTestResponse reports the outcome of a test notification.
type NotificationTestResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// RecordingsResponse wraps the history ledger.
type RecordingsResponse struct {
	Recordings []history.Recording `json:"recordings"`
}

// RecordingResponse wraps a single ledger row.
type RecordingResponse struct {
	Recording history.Recording `json:"recording"`
}

// DiagnosticsResponse wraps recent warnings and errors.
type DiagnosticsResponse struct {
	Entries []logging.Diagnostic `json:"entries"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind"`
	Session *session.Snapshot `json:"session,omitempty"`
	Receipt *submit.Receipt   `json:"receipt,omitempty"`
}

// FromDependencies converts dependency checks to their wire form.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

// ErrorKind classifies err for ErrorResponse.Kind.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, services.ErrPrecondition):
		return KindPrecondition
	case errors.Is(err, services.ErrCaptureDenied):
		return KindCaptureDenied
	case errors.Is(err, services.ErrSubmission):
		return KindSubmission
	case errors.Is(err, services.ErrNotFound):
		return KindNotFound
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		return KindValidation
	default:
		return KindInternal
	}
}

// ErrorFromKind rebuilds a marker-tagged error from a decoded response so
// callers can use errors.Is on the client side.
func ErrorFromKind(kind, message string) error {
	var marker error
	switch kind {
	case KindPrecondition:
		marker = services.ErrPrecondition
	case KindCaptureDenied:
		marker = services.ErrCaptureDenied
	case KindSubmission:
		marker = services.ErrSubmission
	case KindNotFound:
		marker = services.ErrNotFound
	case KindValidation:
		marker = services.ErrValidation
	default:
		return errors.New(message)
	}
	return services.Wrap(marker, "daemon", "", message, nil)
}
