package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniogo "github.com/minio/minio-go/v7"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

type recordedRequest struct {
	method      string
	path        string
	contentType string
	body        string
}

type fakeS3 struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	code     string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		method:      r.Method,
		path:        r.URL.Path,
		contentType: r.Header.Get("Content-Type"),
		body:        string(body),
	})
	status, code := f.status, f.code
	f.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>fake failure</Message><Resource>%s</Resource><RequestId>1</RequestId></Error>`, code, r.URL.Path)
		return
	}
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeS3) lastRequest(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("no request reached the fake server")
	}
	return f.requests[len(f.requests)-1]
}

func newTestStore(t *testing.T, fake *fakeS3) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	store, err := New(Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Region:    "us-east-1",
		Bucket:    "exports",
		Prefix:    "/sqlgate/",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Bucket: "b"}); !errs.IsInvalidInput(err) {
		t.Fatalf("expected invalid input for missing endpoint, got %v", err)
	}
	if _, err := New(Config{Endpoint: "localhost:9000"}); !errs.IsInvalidInput(err) {
		t.Fatalf("expected invalid input for missing bucket, got %v", err)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, &fakeS3{})
	now := time.Date(2024, 7, 9, 23, 0, 0, 0, time.UTC)
	if got := store.Key(now, "abc", "csv"); got != "sqlgate/2024/07/09/abc.csv" {
		t.Fatalf("unexpected key %q", got)
	}

	bare, err := New(Config{Endpoint: "localhost:9000", Bucket: "b"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := bare.Key(now, "abc", "json"); got != "2024/07/09/abc.json" {
		t.Fatalf("unexpected key without prefix %q", got)
	}
}

func TestPut(t *testing.T) {
	t.Parallel()
	fake := &fakeS3{}
	store := newTestStore(t, fake)

	obj, err := store.Put(context.Background(), "sqlgate/2024/07/09/abc.csv", "text/csv", []byte("id\n1\n"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if obj.Bucket != "exports" || obj.Key != "sqlgate/2024/07/09/abc.csv" {
		t.Fatalf("unexpected object %+v", obj)
	}

	req := fake.lastRequest(t)
	if req.method != http.MethodPut {
		t.Fatalf("expected PUT, got %s", req.method)
	}
	if req.path != "/exports/sqlgate/2024/07/09/abc.csv" {
		t.Fatalf("unexpected path %s", req.path)
	}
	if req.contentType != "text/csv" {
		t.Fatalf("unexpected content type %q", req.contentType)
	}
	if !strings.Contains(req.body, "id\n1\n") {
		t.Fatalf("payload not uploaded: %q", req.body)
	}
}

func TestPutAccessDenied(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, &fakeS3{status: http.StatusForbidden, code: "AccessDenied"})
	_, err := store.Put(context.Background(), "k", "application/json", []byte("[]"))
	if !errs.IsExecutionError(err) {
		t.Fatalf("expected execution error, got %v", err)
	}
	e, _ := errs.As(err)
	if e.Hint == "" {
		t.Fatal("expected a credentials hint")
	}
}

func TestPutMissingBucket(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, &fakeS3{status: http.StatusNotFound, code: "NoSuchBucket"})
	_, err := store.Put(context.Background(), "k", "application/json", []byte("[]"))
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPresignGet(t *testing.T) {
	t.Parallel()
	store := newTestStore(t, &fakeS3{})
	u, err := store.PresignGet(context.Background(), "sqlgate/2024/07/09/abc.csv")
	if err != nil {
		t.Fatalf("PresignGet failed: %v", err)
	}
	if !strings.Contains(u, "/exports/sqlgate/2024/07/09/abc.csv") {
		t.Fatalf("URL does not address the object: %s", u)
	}
	if !strings.Contains(u, "X-Amz-Signature=") || !strings.Contains(u, "X-Amz-Expires=900") {
		t.Fatalf("URL is not presigned with the default TTL: %s", u)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()
	if !errs.IsTimeout(mapError(context.DeadlineExceeded, "x")) {
		t.Error("deadline should map to timeout")
	}
	if !errs.IsInvalidInput(mapError(miniogo.ErrorResponse{Code: "InvalidBucketName", StatusCode: 400}, "x")) {
		t.Error("invalid bucket name should map to invalid input")
	}
	if !errs.IsTimeout(mapError(miniogo.ErrorResponse{Code: "SlowDown", StatusCode: 503}, "x")) {
		t.Error("SlowDown should map to timeout")
	}
	e := mapError(errors.New("connection refused"), "x")
	if e.Kind != errs.KindExecutionError || !e.Retryable {
		t.Errorf("transport failure should be retryable execution error: %+v", e)
	}
}
