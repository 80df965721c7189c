package bridge

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nats-io/nats.go"
	"github.com/signalsfoundry/occupancy-monitor/model"
)

const sampleRecord = `{"severity":"CRITICAL","message":"Fire","emergency":true,"action":"Evacuate"}`

func TestFileFetcherMissingFileIsUnavailable(t *testing.T) {
	f := NewFileFetcher(filepath.Join(t.TempDir(), "absent.json"))
	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Fetch error = %v, want ErrSourceUnavailable", err)
	}
}

func TestFileFetcherReadsRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultEventFile)
	if err := WriteEventFile(path, []byte(sampleRecord)); err != nil {
		t.Fatalf("WriteEventFile: %v", err)
	}
	ev, ok := New(NewFileFetcher(path)).Poll(context.Background())
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.Severity != model.SeverityCritical || !ev.Emergency || ev.Action != "Evacuate" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestFileFetcherRejectsOversizedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), maxEventBytes+10), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewFileFetcher(path).Fetch(context.Background())
	var malformed *MalformedEventError
	if !errors.As(err, &malformed) {
		t.Fatalf("Fetch error = %v, want *MalformedEventError", err)
	}
}

// s3RoundTripper serves GetObject for a single bucket from memory.
type s3RoundTripper struct {
	objects map[string][]byte
}

func (rt *s3RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method != http.MethodGet {
		return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	body, ok := rt.objects[key]
	if !ok {
		const notFound = `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader(notFound)),
			Header:     http.Header{"Content-Type": {"application/xml"}},
		}, nil
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Header: http.Header{
			"Content-Type":   {"application/json"},
			"Content-Length": {strconv.Itoa(len(body))},
		},
	}, nil
}

func newMockS3Fetcher(t *testing.T, key string, objects map[string][]byte) *S3Fetcher {
	t.Helper()
	rt := &s3RoundTripper{objects: objects}
	f, err := NewS3Fetcher(context.Background(), S3Config{
		Bucket:          "events",
		Key:             key,
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.RetryMaxAttempts = 1
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	if err != nil {
		t.Fatalf("NewS3Fetcher: %v", err)
	}
	return f
}

func TestS3FetcherReadsObject(t *testing.T) {
	f := newMockS3Fetcher(t, "live_event.json", map[string][]byte{"live_event.json": []byte(sampleRecord)})
	data, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != sampleRecord {
		t.Fatalf("Fetch = %q, want %q", data, sampleRecord)
	}
}

func TestS3FetcherMissingObjectIsUnavailable(t *testing.T) {
	f := newMockS3Fetcher(t, "live_event.json", map[string][]byte{})
	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("Fetch error = %v, want ErrSourceUnavailable", err)
	}
}

func TestNewS3FetcherRequiresBucket(t *testing.T) {
	if _, err := NewS3Fetcher(context.Background(), S3Config{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

func TestSQLFetcherSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "events.db")
	f, err := OpenSQLFetcher(ctx, driverSQLite, dsn)
	if err != nil {
		t.Fatalf("OpenSQLFetcher: %v", err)
	}
	defer f.Close()

	if _, err := f.Fetch(ctx); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("missing table: error = %v, want ErrSourceUnavailable", err)
	}

	if err := EnsureEventsTable(ctx, f.db, driverSQLite); err != nil {
		t.Fatalf("EnsureEventsTable: %v", err)
	}
	if _, err := f.Fetch(ctx); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("empty table: error = %v, want ErrSourceUnavailable", err)
	}

	if err := PublishSQL(ctx, f.db, driverSQLite, []byte(`{"severity":"LOW","message":"old","emergency":false}`)); err != nil {
		t.Fatalf("PublishSQL: %v", err)
	}
	if err := PublishSQL(ctx, f.db, driverSQLite, []byte(sampleRecord)); err != nil {
		t.Fatalf("PublishSQL: %v", err)
	}
	ev, ok := New(f).Poll(ctx)
	if !ok || ev.Message != "Fire" {
		t.Fatalf("Poll = %+v, %v; want newest row", ev, ok)
	}

	if err := PublishSQL(ctx, f.db, driverSQLite, []byte(`{"foo":1}`)); err != nil {
		t.Fatalf("PublishSQL: %v", err)
	}
	if _, ok := New(f).Poll(ctx); ok {
		t.Fatalf("malformed newest row should yield no event")
	}
}

func TestOpenSQLFetcherRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenSQLFetcher(context.Background(), "mysql", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestIsMissingTableIgnoresOtherErrors(t *testing.T) {
	if isMissingTable(nil) || isMissingTable(sql.ErrConnDone) {
		t.Fatalf("isMissingTable misclassified")
	}
}

func TestNATSFetcherKeepsLatestMessage(t *testing.T) {
	f := &NATSFetcher{}
	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("before any message: error = %v", err)
	}

	f.handle(&nats.Msg{Subject: DefaultNATSSubject, Data: []byte(`{"severity":"LOW","emergency":false}`)})
	msg := &nats.Msg{Subject: DefaultNATSSubject, Data: []byte(sampleRecord)}
	f.handle(msg)
	msg.Data[0] = 'X'

	ev, ok := New(f).Poll(context.Background())
	if !ok || ev.Severity != model.SeverityCritical {
		t.Fatalf("Poll = %+v, %v; want latest record", ev, ok)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
