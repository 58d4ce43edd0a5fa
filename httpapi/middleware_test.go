package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-relay/core"
)

type recordedLog struct {
	level   string
	message string
	fields  []any
}

type memoryLogger struct {
	mu      sync.Mutex
	records []recordedLog
}

func (l *memoryLogger) log(level, msg string, fields []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, recordedLog{level: level, message: msg, fields: fields})
}

func (l *memoryLogger) Trace(msg string, fields ...any) { l.log("trace", msg, fields) }
func (l *memoryLogger) Debug(msg string, fields ...any) { l.log("debug", msg, fields) }
func (l *memoryLogger) Info(msg string, fields ...any)  { l.log("info", msg, fields) }
func (l *memoryLogger) Warn(msg string, fields ...any)  { l.log("warn", msg, fields) }
func (l *memoryLogger) Error(msg string, fields ...any) { l.log("error", msg, fields) }
func (l *memoryLogger) Fatal(msg string, fields ...any) { l.log("fatal", msg, fields) }

func (l *memoryLogger) WithContext(context.Context) core.Logger { return l }

func (l *memoryLogger) find(level, message string) (recordedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range l.records {
		if record.level == level && strings.Contains(record.message, message) {
			return record, true
		}
	}
	return recordedLog{}, false
}

func fieldValue(fields []any, key string) (any, bool) {
	for i := 0; i+1 < len(fields); i += 2 {
		if name, ok := fields[i].(string); ok && name == key {
			return fields[i+1], true
		}
	}
	return nil, false
}

func TestWithRequestID_MintsWhenAbsent(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	recorder := httptest.NewRecorder()
	WithRequestID()(next).ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/inbox", nil))

	if seen == "" {
		t.Fatal("expected a minted request id in context")
	}
	if header := recorder.Header().Get(RequestIDHeader); header != seen {
		t.Fatalf("expected response header %q to echo request id %q", header, seen)
	}
}

func TestWithRequestID_KeepsCallerSuppliedID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/inbox", nil)
	req.Header.Set(RequestIDHeader, "req_upstream_7")
	recorder := httptest.NewRecorder()
	WithRequestID()(next).ServeHTTP(recorder, req)

	if seen != "req_upstream_7" {
		t.Fatalf("expected caller-supplied id to survive, got %q", seen)
	}
	if header := recorder.Header().Get(RequestIDHeader); header != "req_upstream_7" {
		t.Fatalf("expected echoed header, got %q", header)
	}
}

func TestLogging_EmitsAccessLine(t *testing.T) {
	logger := &memoryLogger{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	wrapped := WithRequestID()(Logging(logger)(next))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/inbox", nil))

	record, ok := logger.find("info", "http request")
	if !ok {
		t.Fatal("expected an access log line")
	}
	if status, _ := fieldValue(record.fields, "status"); status != http.StatusTeapot {
		t.Fatalf("expected logged status %d, got %v", http.StatusTeapot, status)
	}
	if method, _ := fieldValue(record.fields, "method"); method != http.MethodGet {
		t.Fatalf("expected logged method GET, got %v", method)
	}
	if rid, _ := fieldValue(record.fields, "request_id"); rid == "" || rid == nil {
		t.Fatal("expected request id in access line")
	}
}

func TestLogging_DefaultsStatusToOK(t *testing.T) {
	logger := &memoryLogger{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	Logging(logger)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	record, ok := logger.find("info", "http request")
	if !ok {
		t.Fatal("expected an access log line")
	}
	if status, _ := fieldValue(record.fields, "status"); status != http.StatusOK {
		t.Fatalf("expected implicit 200, got %v", status)
	}
}
