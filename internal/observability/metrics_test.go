package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/frame"
	"github.com/danmuck/dirauth/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("dirauth-a", "GET", "/health", 200, 12*time.Millisecond)
	RecordBytes("ldap", 0)
	RecordBytes("ldap", -1)
}

func TestDecodeCounters(t *testing.T) {
	testlog.Start(t)

	before := testutil.ToFloat64(pdusDecoded.WithLabelValues("test-decode"))
	RecordDecoded("test-decode", 42)
	RecordDecoded("test-decode", 7)
	if got := testutil.ToFloat64(pdusDecoded.WithLabelValues("test-decode")); got != before+2 {
		t.Fatalf("expected %v decoded pdus, got %v", before+2, got)
	}

	RecordBytes("test-decode", 49)
	if got := testutil.ToFloat64(bytesReceived.WithLabelValues("test-decode")); got != 49 {
		t.Fatalf("expected 49 bytes, got %v", got)
	}

	grammarErr := fmt.Errorf("read: %w", &codec.DecodeError{Kind: codec.KindGrammar, Err: codec.ErrUnexpectedTag})
	RecordDecodeError("test-decode", grammarErr)
	RecordDecodeError("test-decode", frame.ErrPayloadTooLarge)
	if got := testutil.ToFloat64(decodeErrors.WithLabelValues("test-decode", "grammar")); got != 1 {
		t.Fatalf("expected one grammar error, got %v", got)
	}
	if got := testutil.ToFloat64(decodeErrors.WithLabelValues("test-decode", "malformed")); got != 1 {
		t.Fatalf("expected one malformed error, got %v", got)
	}
}

func TestErrorKindLabel(t *testing.T) {
	testlog.Start(t)

	if got := ErrorKindLabel(&codec.DecodeError{Kind: codec.KindMalformed}); got != "malformed" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := ErrorKindLabel(errors.New("boom")); got != "malformed" {
		t.Fatalf("unexpected label %q", got)
	}
}

func TestSessionGauge(t *testing.T) {
	testlog.Start(t)

	done := SessionOpened("test-gauge")
	other := SessionOpened("test-gauge")
	if got := testutil.ToFloat64(activeSessions.WithLabelValues("test-gauge")); got != 2 {
		t.Fatalf("expected two active sessions, got %v", got)
	}
	done()
	done()
	other()
	if got := testutil.ToFloat64(activeSessions.WithLabelValues("test-gauge")); got != 0 {
		t.Fatalf("expected no active sessions, got %v", got)
	}
}
