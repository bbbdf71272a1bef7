package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Operation names recorded in audit entries.
const (
	OpDiscover      = "discover"
	OpAdd           = "add"
	OpReserve       = "reserve"
	OpRelease       = "release"
	OpRestore       = "restore"
	OpMarkSpent     = "mark_spent"
	OpMarkConfirmed = "mark_confirmed"
	OpCommitSpend   = "commit_spend"
	OpCleanup       = "cleanup"
)

// DefaultActor is recorded when the context carries no actor.
const DefaultActor = "system"

// AuditEntry is an immutable record of one ledger mutation attempt.
type AuditEntry struct {
	ID        uuid.UUID `json:"id"`
	Time      time.Time `json:"time"`
	Actor     string    `json:"actor"`
	Operation string    `json:"operation"`
	Key       Outpoint  `json:"key"`
	Before    *Status   `json:"before,omitempty"` // nil when the output did not exist
	After     *Status   `json:"after,omitempty"`  // nil when the mutation failed
	Detail    string    `json:"detail,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// Auditor consumes audit entries. Implementations belong to the audit
// collaborator; the ledger only guarantees delivery is attempted.
type Auditor interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// AuditorFunc adapts a function to the Auditor interface.
type AuditorFunc func(ctx context.Context, entry AuditEntry) error

// Record calls f.
func (f AuditorFunc) Record(ctx context.Context, entry AuditEntry) error { return f(ctx, entry) }

// LogAuditor writes audit entries as structured log lines.
type LogAuditor struct {
	logger zerolog.Logger
}

// NewLogAuditor returns an Auditor that logs through logger.
func NewLogAuditor(logger zerolog.Logger) *LogAuditor {
	return &LogAuditor{logger: logger.With().Str("component", "ledger-audit").Logger()}
}

// Record logs entry at info level, or warn level when the mutation failed.
func (a *LogAuditor) Record(_ context.Context, entry AuditEntry) error {
	ev := a.logger.Info()
	if entry.Err != "" {
		ev = a.logger.Warn().Str("error", entry.Err)
	}
	if entry.Before != nil {
		ev = ev.Stringer("before", *entry.Before)
	}
	if entry.After != nil {
		ev = ev.Stringer("after", *entry.After)
	}
	if entry.Detail != "" {
		ev = ev.Str("detail", entry.Detail)
	}
	ev.Str("audit_id", entry.ID.String()).
		Time("at", entry.Time).
		Str("actor", entry.Actor).
		Str("op", entry.Operation).
		Stringer("outpoint", entry.Key).
		Msg("ledger mutation")
	return nil
}

type actorKey struct{}

// WithActor attaches the name of the caller performing ledger mutations.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or DefaultActor.
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return DefaultActor
}

func statusPtr(u *UnspentOutput) *Status {
	if u == nil {
		return nil
	}
	s := u.Status
	return &s
}
