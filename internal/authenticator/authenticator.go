package authenticator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PromptPolicy controls how the conversation loop is allowed to reach
// the user.
type PromptPolicy struct {
	Interactive bool // false is sudo's -n (non-interactive)
	Prompt      string
}

// Outcome is the authenticator's final answer for one Authenticate
// call, mirroring the Ok{}/Denied/... variants named for the public
// contract.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeDenied
	OutcomeAccountExpired
	OutcomePasswordChangeRequired
	OutcomeInteractionRequired
	OutcomeTransientError
)

// SignalUnblocker is how the authenticator temporarily unblocks
// SIGINT/SIGQUIT for the duration of a conversation attempt and
// re-blocks them on exit; production code wires this to sigprocmask,
// tests supply a no-op.
type SignalUnblocker interface {
	Unblock() (restore func())
}

type noopUnblocker struct{}

func (noopUnblocker) Unblock() (restore func()) { return func() {} }

// Authenticator drives Backend.Authenticate through a bounded number
// of attempts, each under a per-attempt timeout, reconciling the
// result against AcctManagement and the target-username check.
type Authenticator struct {
	Backend     Backend
	Conv        Conversation
	MaxTries    int
	PerTry      time.Duration
	Policy      PromptPolicy
	Unblocker   SignalUnblocker
	WhoAmI      func() (string, error) // re-reads the authenticated identity after a successful conversation
}

// Authenticate runs the conversation loop for targetUser and returns
// one of the fixed outcomes. It never returns both a non-nil error
// and OutcomeOK.
func (a *Authenticator) Authenticate(ctx context.Context, targetUser string) (Outcome, error) {
	if a.Backend.Authenticate == nil {
		return OutcomeTransientError, ErrTransient
	}
	unblocker := a.Unblocker
	if unblocker == nil {
		unblocker = noopUnblocker{}
	}
	maxTries := a.MaxTries
	if maxTries <= 0 {
		maxTries = 3
	}
	if maxTries > 3 {
		maxTries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxTries; attempt++ {
		outcome, err := a.attempt(ctx, targetUser, unblocker)
		if outcome == OutcomeOK {
			return a.finishAuthenticated(targetUser)
		}
		if outcome == OutcomeInteractionRequired || outcome == OutcomeTransientError {
			return outcome, err
		}
		lastErr = err
	}
	return OutcomeDenied, fmt.Errorf("%w: %v", ErrTooManyAttempts, lastErr)
}

func (a *Authenticator) attempt(ctx context.Context, targetUser string, unblocker SignalUnblocker) (Outcome, error) {
	if !a.Policy.Interactive {
		probed := false
		conv := func(msg Message) (Reply, error) {
			if msg.Kind == PromptEcho || msg.Kind == PromptNoEcho {
				probed = true
				return Reply{}, ErrInteractionReq
			}
			return Reply{}, nil
		}
		_, err := a.Backend.Authenticate(targetUser, conv)
		if probed {
			return OutcomeInteractionRequired, ErrInteractionReq
		}
		if errors.Is(err, ErrTransient) {
			return OutcomeTransientError, err
		}
		if err != nil {
			return OutcomeDenied, err
		}
		return OutcomeOK, nil
	}

	restore := unblocker.Unblock()
	defer restore()

	resultCh := make(chan error, 1)
	go func() {
		_, err := a.Backend.Authenticate(targetUser, a.timedConv(ctx))
		resultCh <- err
	}()

	timeout := a.PerTry
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	select {
	case err := <-resultCh:
		if errors.Is(err, ErrTransient) {
			return OutcomeTransientError, err
		}
		if err != nil {
			return OutcomeDenied, err
		}
		return OutcomeOK, nil
	case <-time.After(timeout):
		return OutcomeDenied, fmt.Errorf("authenticator: prompt timed out")
	case <-ctx.Done():
		return OutcomeDenied, ctx.Err()
	}
}

// timedConv wraps the caller's Conversation so a cancelled context
// aborts an in-flight prompt rather than blocking the attempt forever.
func (a *Authenticator) timedConv(ctx context.Context) Conversation {
	return func(msg Message) (Reply, error) {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		return a.Conv(msg)
	}
}

func (a *Authenticator) finishAuthenticated(targetUser string) (Outcome, error) {
	if a.WhoAmI != nil {
		who, err := a.WhoAmI()
		if err != nil {
			return OutcomeTransientError, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		if who != targetUser {
			return OutcomeDenied, ErrDenied
		}
	}

	if a.Backend.AcctManagement != nil {
		status, err := a.Backend.AcctManagement(targetUser)
		if err != nil {
			return OutcomeTransientError, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		switch status {
		case AcctExpired:
			return OutcomeAccountExpired, ErrAccountExpired
		case AcctNewAuthTokenRequired:
			if a.Backend.ChangeAuthToken == nil {
				return OutcomeTransientError, ErrTransient
			}
			if err := a.Backend.ChangeAuthToken(targetUser, a.Conv); err != nil {
				return OutcomePasswordChangeRequired, fmt.Errorf("%w: %v", ErrPasswordChangeReq, err)
			}
		case AcctError:
			return OutcomeTransientError, fmt.Errorf("%w: account management failed", ErrTransient)
		}
	}

	return OutcomeOK, nil
}
