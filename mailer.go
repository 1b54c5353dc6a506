package auth

import (
	"context"
	"fmt"
	"time"
)

// VerificationFlow identifies which flow a code belongs to.
type VerificationFlow string

const (
	VerificationFlowRegister VerificationFlow = "register"
	VerificationFlowLogin    VerificationFlow = "login"
)

// DefaultMailDispatchTimeout bounds a single delivery attempt.
const DefaultMailDispatchTimeout = 10 * time.Second

// SendVerificationCodeMessage asks for a one-time code to be delivered.
type SendVerificationCodeMessage struct {
	To       string
	Username string
	Code     string
	Flow     VerificationFlow
}

// Type satisfies the message contract used for routing and audit metadata.
func (m SendVerificationCodeMessage) Type() string {
	return "auth.send_verification_code"
}

// Subject renders the mail subject line for the flow.
func (m SendVerificationCodeMessage) Subject() string {
	if m.Flow == VerificationFlowLogin {
		return "Your login verification code"
	}
	return "Confirm your registration"
}

// Body renders the mail body.
func (m SendVerificationCodeMessage) Body() string {
	return fmt.Sprintf("Your verification code is: %s", m.Code)
}

// VerificationMailDispatcher delivers verification codes in the background.
// Delivery is best effort: a failed send is logged and audited but never
// surfaces to the caller, since the code stays valid and the user can
// re-trigger the flow.
type VerificationMailDispatcher struct {
	mailer  Mailer
	logger  Logger
	sink    ActivitySink
	timeout time.Duration
}

// NewVerificationMailDispatcher creates a dispatcher over mailer.
func NewVerificationMailDispatcher(mailer Mailer, logger Logger, sink ActivitySink) *VerificationMailDispatcher {
	if mailer == nil {
		mailer = noopMailer{}
	}
	if logger == nil {
		logger = defLogger{}
	}

	return &VerificationMailDispatcher{
		mailer:  mailer,
		logger:  logger,
		sink:    normalizeActivitySink(sink),
		timeout: DefaultMailDispatchTimeout,
	}
}

// Dispatch sends msg asynchronously and returns immediately.
func (d *VerificationMailDispatcher) Dispatch(msg SendVerificationCodeMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.Execute(ctx, msg); err != nil {
			d.logger.Error("verification mail to %s failed: %s", msg.To, err)
		}
	}()
}

// Execute performs a single synchronous delivery attempt.
func (d *VerificationMailDispatcher) Execute(ctx context.Context, msg SendVerificationCodeMessage) error {
	if err := d.mailer.Send(ctx, msg.To, msg.Subject(), msg.Body()); err != nil {
		d.sink.Record(ctx, ActivityEvent{
			EventType: ActivityEventMailDispatchFailure,
			Username:  msg.Username,
			Metadata: map[string]any{
				"message": msg.Type(),
				"flow":    string(msg.Flow),
				"error":   err.Error(),
			},
			OccurredAt: time.Now(),
		})
		return err
	}
	return nil
}
