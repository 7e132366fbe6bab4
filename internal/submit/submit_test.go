package submit_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"livecheck/internal/services"
	"livecheck/internal/submit"
)

type capturedRequest struct {
	auth        string
	fieldNames  []string
	filename    string
	contentType string
	payload     []byte
	document    []byte
	formValue   string
}

func newEndpoint(t *testing.T, status int, body string) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()
	captured := make(chan capturedRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got := capturedRequest{auth: r.Header.Get("Authorization"), formValue: r.FormValue("note")}
		for name := range r.MultipartForm.File {
			got.fieldNames = append(got.fieldNames, name)
		}
		if files := r.MultipartForm.File["video"]; len(files) == 1 {
			got.filename = files[0].Filename
			got.contentType = files[0].Header.Get("Content-Type")
			f, err := files[0].Open()
			if err == nil {
				got.payload, _ = io.ReadAll(f)
				_ = f.Close()
			}
		}
		if files := r.MultipartForm.File["document"]; len(files) == 1 {
			f, err := files[0].Open()
			if err == nil {
				got.document, _ = io.ReadAll(f)
				_ = f.Close()
			}
		}
		captured <- got
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestSubmitPostsVideoField(t *testing.T) {
	srv, captured := newEndpoint(t, http.StatusOK, `{"final_score":0.91,"decision":"APPROVED","liveness_score":0.88}`)
	client, err := submit.NewClient(submit.Options{Endpoint: srv.URL + "/upload", Token: "secret", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	receipt, err := client.Submit(context.Background(), submit.Upload{
		SessionID: "session-1",
		Video:     submit.File{Data: []byte("ABC")},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := <-captured
	if got.auth != "Bearer secret" {
		t.Fatalf("Authorization = %q", got.auth)
	}
	if len(got.fieldNames) != 1 || got.fieldNames[0] != "video" {
		t.Fatalf("file fields = %v, want [video]", got.fieldNames)
	}
	if got.filename != "my-video.webm" {
		t.Fatalf("filename = %q", got.filename)
	}
	if got.contentType != "video/webm" {
		t.Fatalf("content type = %q", got.contentType)
	}
	if string(got.payload) != "ABC" {
		t.Fatalf("payload = %q, want ABC", got.payload)
	}

	if receipt.StatusCode != http.StatusOK || receipt.Bytes != 3 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.Verification == nil {
		t.Fatal("expected verification result")
	}
	if receipt.Verification.Decision != "APPROVED" || receipt.Verification.FinalScore != 0.91 {
		t.Fatalf("verification = %+v", receipt.Verification)
	}
	if receipt.Verification.LivenessScore == nil || *receipt.Verification.LivenessScore != 0.88 {
		t.Fatalf("liveness score = %v", receipt.Verification.LivenessScore)
	}
	if receipt.Verification.OCRScore != nil {
		t.Fatalf("ocr score should be absent, got %v", *receipt.Verification.OCRScore)
	}
}

func TestSubmitAttachesDocumentAndFields(t *testing.T) {
	srv, captured := newEndpoint(t, http.StatusAccepted, "queued")
	client, err := submit.NewClient(submit.Options{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	upload := submit.Upload{Video: submit.File{Data: []byte("V")}}
	upload.Apply(
		submit.WithDocument(submit.File{Filename: "id.jpg", ContentType: "image/jpeg", Data: []byte("DOC")}),
		submit.WithField("note", "hello"),
	)

	receipt, err := client.Submit(context.Background(), upload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got := <-captured
	if string(got.document) != "DOC" {
		t.Fatalf("document = %q", got.document)
	}
	if got.formValue != "hello" {
		t.Fatalf("form value = %q", got.formValue)
	}
	if receipt.Verification != nil {
		t.Fatalf("plain body should not decode verification: %+v", receipt.Verification)
	}
	if receipt.Body != "queued" {
		t.Fatalf("body = %q", receipt.Body)
	}
}

func TestSubmitRejectedResponse(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusUnprocessableEntity, `{"detail":"no face"}`)
	client, err := submit.NewClient(submit.Options{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	receipt, err := client.Submit(context.Background(), submit.Upload{Video: submit.File{Data: []byte("X")}})
	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("error = %v, want ErrSubmission", err)
	}
	if receipt == nil || receipt.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("receipt = %+v", receipt)
	}
}

func TestSubmitUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	client, err := submit.NewClient(submit.Options{Endpoint: endpoint, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Submit(context.Background(), submit.Upload{Video: submit.File{Data: []byte("X")}}); !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("error = %v, want ErrSubmission", err)
	}
}

func TestSubmitRejectsEmptyRecording(t *testing.T) {
	client, err := submit.NewClient(submit.Options{Endpoint: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.Submit(context.Background(), submit.Upload{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestNewClientValidatesEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://host/upload", "http://"} {
		if _, err := submit.NewClient(submit.Options{Endpoint: endpoint}); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("endpoint %q: error = %v, want ErrConfiguration", endpoint, err)
		}
	}
}
