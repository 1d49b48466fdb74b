// Package audit provides the auditing side effect the permission-granting
// strategy invokes when an ACE marked for auditing decides a request (spec
// §4.4).
package audit

import (
	"context"
	"log/slog"
)

// Auditable is the subset of an Ace the Auditor needs: whether it wants its
// grants and/or denials logged, plus a human-readable form for the log
// line.
type Auditable interface {
	IsAuditSuccess() bool
	IsAuditFailure() bool
	String() string
}

// Auditor is invoked by the permission-granting strategy once a decision
// has been reached, unless administrativeMode suppressed it.
type Auditor interface {
	Audit(ctx context.Context, granted bool, ace Auditable)
}

// slogAuditor logs granted/denied decisions through a structured slog.Logger.
type slogAuditor struct {
	logger *slog.Logger
}

// New returns an Auditor that logs through logger. A nil logger falls back
// to slog.Default().
func New(logger *slog.Logger) Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogAuditor{logger: logger}
}

// Audit logs the decision at info level when the deciding ACE requested
// auditing for that outcome; it is a no-op otherwise.
func (a *slogAuditor) Audit(ctx context.Context, granted bool, ace Auditable) {
	if granted && ace.IsAuditSuccess() {
		a.logger.InfoContext(ctx, "acl: access granted", "ace", ace.String())
	} else if !granted && ace.IsAuditFailure() {
		a.logger.InfoContext(ctx, "acl: access denied", "ace", ace.String())
	}
}

// Default returns the package-wide default Auditor, logging via
// slog.Default().
func Default() Auditor {
	return New(nil)
}
