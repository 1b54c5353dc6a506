package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegisterStaged         ActivityEventType = "auth.register.staged"
	ActivityEventRegisterConfirmed      ActivityEventType = "auth.register.confirmed"
	ActivityEventRegisterFailure        ActivityEventType = "auth.register.failure"
	ActivityEventLoginSuccess           ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure           ActivityEventType = "auth.login.failure"
	ActivityEventLoginChallengeIssued   ActivityEventType = "auth.login.challenge.issued"
	ActivityEventLoginChallengePassed   ActivityEventType = "auth.login.challenge.passed"
	ActivityEventLoginChallengeFailed   ActivityEventType = "auth.login.challenge.failed"
	ActivityEventSessionRefreshed       ActivityEventType = "auth.session.refreshed"
	ActivityEventSessionRefreshRejected ActivityEventType = "auth.session.refresh.rejected"
	ActivityEventMailDispatchFailure    ActivityEventType = "auth.mail.dispatch.failure"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Username   string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
