package api

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"nudge-core/domain"
	"nudge-core/ingest"
)

func gzipped(t *testing.T, body string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(body)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf
}

func TestGzippedCreateBody(t *testing.T) {
	ts := newTestServer(t, ingest.Quotas{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", gzipped(t, `{"content":"compressed upload"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create status: %d body: %s", rec.Code, rec.Body.String())
	}
	task := decodeTask(t, rec)
	if task.Content != "compressed upload" || task.Status != domain.StatusActive {
		t.Fatalf("unexpected task: %#v", task)
	}
}

func TestGzippedMailboxPayload(t *testing.T) {
	ts := newTestServer(t, ingest.Quotas{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/mailbox", gzipped(t, `{"content":"from the share sheet","snoozedUntil":0,"savedAt":1700000000}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("mailbox status: %d body: %s", rec.Code, rec.Body.String())
	}
}

func TestBogusGzipBodyRejected(t *testing.T) {
	ts := newTestServer(t, ingest.Quotas{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"content":"not compressed at all"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus gzip, got %d", rec.Code)
	}
}

func TestPlainBodyBypassesDecompression(t *testing.T) {
	ts := newTestServer(t, ingest.Quotas{}, nil)

	rec := ts.do(t, http.MethodPost, "/api/tasks", `{"content":"plain"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status: %d body: %s", rec.Code, rec.Body.String())
	}
}
