package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"livecheck/internal/logging"
	"livecheck/internal/services"
)

const (
	DefaultFieldName = "video"
	DefaultFilename  = "my-video.webm"
	DefaultMIMEType  = "video/webm"

	maxReceiptBody = 64 * 1024
)

// File is one file part of the multipart form.
type File struct {
	FieldName   string
	Filename    string
	ContentType string
	Data        []byte
}

// Upload is a single submission request.
type Upload struct {
	SessionID string
	Video     File
	Document  *File
	Fields    map[string]string
}

// UploadOption adjusts an Upload before it is sent.
type UploadOption func(*Upload)

// WithDocument attaches an additional file part.
func WithDocument(doc File) UploadOption {
	return func(u *Upload) {
		d := doc
		u.Document = &d
	}
}

// WithField adds a plain form value.
func WithField(key, value string) UploadOption {
	return func(u *Upload) {
		if u.Fields == nil {
			u.Fields = make(map[string]string)
		}
		u.Fields[key] = value
	}
}

// Apply runs opts against u.
func (u *Upload) Apply(opts ...UploadOption) {
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
}

// VerificationResult is the scoring payload some processing endpoints reply
// with. Scores are optional.
type VerificationResult struct {
	FinalScore       float64  `json:"final_score"`
	Decision         string   `json:"decision"`
	DocumentScore    *float64 `json:"document_score,omitempty"`
	OCRScore         *float64 `json:"ocr_score,omitempty"`
	LivenessScore    *float64 `json:"liveness_score,omitempty"`
	CrossVerifyScore *float64 `json:"cross_verify_score,omitempty"`
	FaceMatchScore   *float64 `json:"face_match_score,omitempty"`
}

// Receipt describes the endpoint's answer.
type Receipt struct {
	Endpoint     string              `json:"endpoint"`
	StatusCode   int                 `json:"status_code"`
	ContentType  string              `json:"content_type,omitempty"`
	Body         string              `json:"body,omitempty"`
	Truncated    bool                `json:"truncated,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	SubmittedAt  time.Time           `json:"submitted_at"`
	Duration     time.Duration       `json:"duration"`
	Bytes        int                 `json:"bytes"`
}

// Options configures a Client.
type Options struct {
	Endpoint      string
	FieldName     string
	DocumentField string
	Token         string
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Client posts uploads to a single endpoint.
type Client struct {
	endpoint      string
	fieldName     string
	documentField string
	http          *resty.Client
	logger        *slog.Logger
}

// NewClient validates opts and builds a client.
func NewClient(opts Options) (*Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "submit", "configure", "endpoint is required", nil)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "submit", "configure", fmt.Sprintf("invalid endpoint %q", endpoint), err)
	}
	field := strings.TrimSpace(opts.FieldName)
	if field == "" {
		field = DefaultFieldName
	}
	docField := strings.TrimSpace(opts.DocumentField)
	if docField == "" {
		docField = "document"
	}

	httpClient := resty.New().
		SetHeader("Accept", "application/json, text/plain;q=0.9, */*;q=0.8").
		SetHeader("User-Agent", "livecheck")
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}
	if token := strings.TrimSpace(opts.Token); token != "" {
		httpClient.SetAuthToken(token)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		endpoint:      endpoint,
		fieldName:     field,
		documentField: docField,
		http:          httpClient,
		logger:        logging.NewComponentLogger(logger, "submit"),
	}, nil
}

// Endpoint returns the configured endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Submit posts upload. A non-2xx response yields both the receipt and an
// error wrapping services.ErrSubmission. No retry is attempted.
func (c *Client) Submit(ctx context.Context, upload Upload) (*Receipt, error) {
	if len(upload.Video.Data) == 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "post", "recording is empty", nil)
	}
	video := c.normalizeFile(upload.Video, c.fieldName, DefaultFilename, DefaultMIMEType)

	req := c.http.R().
		SetContext(ctx).
		SetMultipartField(video.FieldName, video.Filename, video.ContentType, bytes.NewReader(video.Data))
	if upload.Document != nil && len(upload.Document.Data) > 0 {
		doc := c.normalizeFile(*upload.Document, c.documentField, "document", "application/octet-stream")
		req.SetMultipartField(doc.FieldName, doc.Filename, doc.ContentType, bytes.NewReader(doc.Data))
	}
	if len(upload.Fields) > 0 {
		req.SetMultipartFormData(upload.Fields)
	}
	if upload.SessionID != "" {
		req.SetHeader("X-Livecheck-Session", upload.SessionID)
	}

	logger := c.logger
	if upload.SessionID != "" {
		logger = logger.With(logging.String(logging.FieldSessionID, upload.SessionID))
	}
	logger.Debug("posting recording",
		logging.String("endpoint", c.endpoint),
		logging.String("field", video.FieldName),
		logging.Int("bytes", len(video.Data)),
	)

	started := time.Now()
	resp, err := req.Post(c.endpoint)
	if err != nil {
		return nil, services.Wrap(services.ErrSubmission, "submit", "post", c.endpoint, err)
	}

	receipt := buildReceipt(c.endpoint, resp.StatusCode(), resp.Header().Get("Content-Type"), resp.Body())
	receipt.SubmittedAt = started.UTC()
	receipt.Duration = time.Since(started)
	receipt.Bytes = len(video.Data)

	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		logging.WarnWithContext(logger, "submission rejected", "submission_rejected",
			logging.Int("status", receipt.StatusCode),
			logging.String(logging.FieldErrorHint, "check the endpoint logs and submission settings"),
			logging.String(logging.FieldImpact, "recording was not accepted"),
		)
		return receipt, services.Wrap(services.ErrSubmission, "submit", "post", fmt.Sprintf("endpoint returned %d", receipt.StatusCode), nil)
	}
	logger.Info("recording submitted",
		logging.Int("status", receipt.StatusCode),
		logging.Duration("duration", receipt.Duration),
	)
	return receipt, nil
}

func (c *Client) normalizeFile(f File, field, filename, contentType string) File {
	if strings.TrimSpace(f.FieldName) == "" {
		f.FieldName = field
	}
	if strings.TrimSpace(f.Filename) == "" {
		f.Filename = filename
	}
	if strings.TrimSpace(f.ContentType) == "" {
		f.ContentType = contentType
	}
	return f
}

func buildReceipt(endpoint string, status int, contentType string, body []byte) *Receipt {
	receipt := &Receipt{
		Endpoint:    endpoint,
		StatusCode:  status,
		ContentType: contentType,
	}
	text := body
	if len(text) > maxReceiptBody {
		text = text[:maxReceiptBody]
		receipt.Truncated = true
	}
	receipt.Body = string(text)
	receipt.Verification = decodeVerification(body)
	return receipt
}

func decodeVerification(body []byte) *VerificationResult {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil
	}
	_, hasScore := probe["final_score"]
	_, hasDecision := probe["decision"]
	if !hasScore && !hasDecision {
		return nil
	}
	var result VerificationResult
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil
	}
	return &result
}
