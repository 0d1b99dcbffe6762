package biz

import (
	"errors"
	"fmt"

	"RelayPool/internal/conf"
)

// Outcome classifies the result of a single upstream attempt.
type Outcome int

const (
	// OutcomeSuccess means the attempt produced a usable response.
	OutcomeSuccess Outcome = iota
	// OutcomeRetriable means a transient failure worth retrying on the
	// same account and session.
	OutcomeRetriable
	// OutcomeSessionInvalid means the session handle was rejected and a
	// fresh session should be acquired on the same account.
	OutcomeSessionInvalid
	// OutcomeAccountFailure means the account itself misbehaved and the
	// dispatcher should fail over to another account.
	OutcomeAccountFailure
	// OutcomeClientError means the request itself was rejected. It is
	// returned to the caller without counting against account health.
	OutcomeClientError
)

// String returns a readable name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetriable:
		return "retriable_failure"
	case OutcomeSessionInvalid:
		return "session_invalid"
	case OutcomeAccountFailure:
		return "account_failure"
	case OutcomeClientError:
		return "client_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// UpstreamError is a classified upstream attempt failure.
type UpstreamError struct {
	Outcome Outcome
	Status  int
	Body    []byte
	Err     error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s (status %d): %v", e.Outcome, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s (status %d)", e.Outcome, e.Status)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Verdict is the next move the dispatcher should make after an attempt.
type Verdict int

const (
	// VerdictReturn ends dispatch with the attempt's result.
	VerdictReturn Verdict = iota
	// VerdictRetrySameSession repeats the send on the current session.
	VerdictRetrySameSession
	// VerdictNewSession discards the current session and acquires a new
	// one on the same account.
	VerdictNewSession
	// VerdictSwitchAccount records an account failure and fails over to a
	// different account.
	VerdictSwitchAccount
	// VerdictGiveUp ends dispatch with a pool exhaustion error.
	VerdictGiveUp
)

// AttemptState is the dispatcher's progress through its retry budget. All
// counters are attempts already consumed.
type AttemptState struct {
	// SendsThisSession counts sends performed on the current session.
	SendsThisSession int
	// SessionTries counts session acquisitions on the current account,
	// including the one backing the current session.
	SessionTries int
	// AccountsTried counts distinct accounts tried, including the
	// current one.
	AccountsTried int
}

// Policy is the stateless retry decision procedure. It owns no counters and
// performs no I/O; the dispatcher feeds it attempt state and classified
// outcomes and executes the verdicts.
type Policy struct {
	cfg conf.Settings_Retry
}

// NewPolicy builds a policy from a retry configuration snapshot.
func NewPolicy(cfg conf.Settings_Retry) Policy {
	return Policy{cfg: cfg}
}

// SendsPerSession is the number of sends allowed on one session: the first
// attempt plus the configured retries.
func (p Policy) SendsPerSession() int {
	return p.cfg.MaxRequestRetries + 1
}

// SessionsPerAccount is the number of session acquisitions allowed on one
// account.
func (p Policy) SessionsPerAccount() int {
	return p.cfg.MaxNewSessionTries
}

// MaxAccounts is the number of distinct accounts dispatch may try.
func (p Policy) MaxAccounts() int {
	return p.cfg.MaxAccountSwitchTries
}

// Classify maps an attempt error to an outcome. A nil error is success; an
// unclassified error counts as retriable.
func (p Policy) Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Outcome
	}
	return OutcomeRetriable
}

// Decide returns the next move given the attempt state and the outcome of
// the send just performed. Exhausting send retries falls through to a new
// session; exhausting sessions falls through to an account switch;
// exhausting accounts gives up.
func (p Policy) Decide(st AttemptState, out Outcome) Verdict {
	switch out {
	case OutcomeSuccess, OutcomeClientError:
		return VerdictReturn
	case OutcomeRetriable:
		if st.SendsThisSession < p.SendsPerSession() {
			return VerdictRetrySameSession
		}
		return p.nextSession(st)
	case OutcomeSessionInvalid:
		return p.nextSession(st)
	case OutcomeAccountFailure:
		return p.nextAccount(st)
	default:
		return p.nextAccount(st)
	}
}

// DecideSessionFailure returns the next move when acquiring a session itself
// failed.
func (p Policy) DecideSessionFailure(st AttemptState) Verdict {
	if st.SessionTries < p.SessionsPerAccount() {
		return VerdictNewSession
	}
	return p.nextAccount(st)
}

func (p Policy) nextSession(st AttemptState) Verdict {
	if st.SessionTries < p.SessionsPerAccount() {
		return VerdictNewSession
	}
	return p.nextAccount(st)
}

func (p Policy) nextAccount(st AttemptState) Verdict {
	if st.AccountsTried < p.MaxAccounts() {
		return VerdictSwitchAccount
	}
	return VerdictGiveUp
}
