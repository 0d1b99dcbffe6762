package biz

import (
	"fmt"
	"testing"

	"RelayPool/internal/conf"

	"github.com/stretchr/testify/assert"
)

func testRetryConfig() conf.Settings_Retry {
	return conf.Settings_Retry{
		MaxNewSessionTries:       2,
		MaxRequestRetries:        1,
		MaxAccountSwitchTries:    2,
		AccountFailureThreshold:  3,
		RateLimitCooldownSeconds: 300,
		SessionCacheTTLSeconds:   3600,
	}
}

func TestPolicy_Classify(t *testing.T) {
	p := NewPolicy(testRetryConfig())

	assert.Equal(t, OutcomeSuccess, p.Classify(nil))
	assert.Equal(t, OutcomeSessionInvalid, p.Classify(&UpstreamError{Outcome: OutcomeSessionInvalid}))
	assert.Equal(t, OutcomeAccountFailure, p.Classify(&UpstreamError{Outcome: OutcomeAccountFailure}))
	assert.Equal(t, OutcomeClientError, p.Classify(&UpstreamError{Outcome: OutcomeClientError}))
	// Wrapped upstream errors still classify.
	wrapped := fmt.Errorf("attempt: %w", &UpstreamError{Outcome: OutcomeAccountFailure})
	assert.Equal(t, OutcomeAccountFailure, p.Classify(wrapped))
	// Unclassified errors count as transient.
	assert.Equal(t, OutcomeRetriable, p.Classify(fmt.Errorf("boom")))
}

func TestPolicy_Decide(t *testing.T) {
	p := NewPolicy(testRetryConfig()) // 2 sends/session, 2 sessions, 2 accounts

	tests := []struct {
		name    string
		state   AttemptState
		outcome Outcome
		want    Verdict
	}{
		{"success returns", AttemptState{1, 1, 1}, OutcomeSuccess, VerdictReturn},
		{"client error returns", AttemptState{1, 1, 1}, OutcomeClientError, VerdictReturn},
		{"retriable with sends left", AttemptState{1, 1, 1}, OutcomeRetriable, VerdictRetrySameSession},
		{"retriable exhausted promotes to new session", AttemptState{2, 1, 1}, OutcomeRetriable, VerdictNewSession},
		{"retriable exhausted on last session switches", AttemptState{2, 2, 1}, OutcomeRetriable, VerdictSwitchAccount},
		{"session invalid acquires new session", AttemptState{1, 1, 1}, OutcomeSessionInvalid, VerdictNewSession},
		{"session invalid on last session switches", AttemptState{1, 2, 1}, OutcomeSessionInvalid, VerdictSwitchAccount},
		{"account failure switches", AttemptState{1, 1, 1}, OutcomeAccountFailure, VerdictSwitchAccount},
		{"account failure on last account gives up", AttemptState{1, 1, 2}, OutcomeAccountFailure, VerdictGiveUp},
		{"session invalid fully exhausted gives up", AttemptState{2, 2, 2}, OutcomeSessionInvalid, VerdictGiveUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.state, tt.outcome))
		})
	}
}

func TestPolicy_DecideSessionFailure(t *testing.T) {
	p := NewPolicy(testRetryConfig())

	assert.Equal(t, VerdictNewSession, p.DecideSessionFailure(AttemptState{0, 1, 1}))
	assert.Equal(t, VerdictSwitchAccount, p.DecideSessionFailure(AttemptState{0, 2, 1}))
	assert.Equal(t, VerdictGiveUp, p.DecideSessionFailure(AttemptState{0, 2, 2}))
}

func TestPolicy_Budgets(t *testing.T) {
	p := NewPolicy(testRetryConfig())
	assert.Equal(t, 2, p.SendsPerSession())
	assert.Equal(t, 2, p.SessionsPerAccount())
	assert.Equal(t, 2, p.MaxAccounts())
}
