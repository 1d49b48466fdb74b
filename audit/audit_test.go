package audit

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

type fakeAce struct {
	auditSuccess, auditFailure bool
	label                      string
}

func (f fakeAce) IsAuditSuccess() bool { return f.auditSuccess }
func (f fakeAce) IsAuditFailure() bool { return f.auditFailure }
func (f fakeAce) String() string       { return f.label }

func newCapturingAuditor(buf *strings.Builder) Auditor {
	logger := slog.New(slog.NewTextHandler(captureWriter{buf}, &slog.HandlerOptions{}))
	return New(logger)
}

type captureWriter struct{ buf *strings.Builder }

func (w captureWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func TestAuditLogsOnlyWhenRequested(t *testing.T) {
	cases := []struct {
		name    string
		granted bool
		ace     fakeAce
		want    bool
	}{
		{"grant requested audit-success", true, fakeAce{auditSuccess: true, label: "ace-1"}, true},
		{"grant without audit-success", true, fakeAce{auditSuccess: false, label: "ace-1"}, false},
		{"deny requested audit-failure", false, fakeAce{auditFailure: true, label: "ace-2"}, true},
		{"deny without audit-failure", false, fakeAce{auditFailure: false, label: "ace-2"}, false},
		{"grant ignores audit-failure flag", true, fakeAce{auditFailure: true, label: "ace-3"}, false},
		{"deny ignores audit-success flag", false, fakeAce{auditSuccess: true, label: "ace-3"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf strings.Builder
			a := newCapturingAuditor(&buf)
			a.Audit(context.Background(), c.granted, c.ace)
			logged := strings.Contains(buf.String(), c.ace.label)
			if logged != c.want {
				t.Errorf("logged=%v, want %v (output: %q)", logged, c.want, buf.String())
			}
		})
	}
}

func TestNewDefaultsNilLoggerToSlogDefault(t *testing.T) {
	a := New(nil)
	if a == nil {
		t.Fatal("expected a non-nil Auditor")
	}
	// Must not panic when auditing with the default logger.
	a.Audit(context.Background(), true, fakeAce{auditSuccess: true, label: "ace"})
}

func TestDefaultReturnsUsableAuditor(t *testing.T) {
	a := Default()
	a.Audit(context.Background(), false, fakeAce{auditFailure: true, label: "ace"})
}
