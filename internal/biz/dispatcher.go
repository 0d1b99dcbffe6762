package biz

import (
	"context"
	"errors"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// RelayRequest is an inbound request to forward upstream. The body is
// treated as opaque.
type RelayRequest struct {
	Path        string
	Body        []byte
	ContentType string
	Model       string
}

// RelayResponse is a buffered upstream response.
type RelayResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Upstream performs I/O against the upstream service on behalf of one
// account. Failures are returned as *UpstreamError so the policy can
// classify them.
type Upstream interface {
	// CreateSession establishes a fresh upstream session for the account
	// and returns its handle.
	CreateSession(ctx context.Context, acct *Account) (string, error)
	// Send forwards the request on an established session.
	Send(ctx context.Context, acct *Account, handle string, req *RelayRequest) (*RelayResponse, error)
}

// Dispatcher routes relay requests across the account pool. Each dispatch
// captures a settings snapshot, so a concurrent settings replace does not
// change the budget of an in-flight request.
type Dispatcher struct {
	pool     *Pool
	cache    SessionCache
	upstream Upstream
	settings *SettingsUsecase
	log      *log.Helper
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(pool *Pool, cache SessionCache, upstream Upstream, settings *SettingsUsecase, logger log.Logger) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		cache:    cache,
		upstream: upstream,
		settings: settings,
		log:      log.NewHelper(logger),
	}
}

// Dispatch forwards one request through the pool. It tries up to
// max_account_switch_tries distinct accounts; on each account it acquires up
// to max_new_session_tries sessions and performs up to max_request_retries+1
// sends per session. It returns the first successful response, the upstream
// rejection when the request itself is invalid, or a pool exhaustion error
// when the budget runs out.
func (d *Dispatcher) Dispatch(ctx context.Context, req *RelayRequest) (*RelayResponse, error) {
	retry := d.settings.Retry()
	policy := NewPolicy(retry)
	ttl := d.settings.SessionTTL()
	cooldown := d.settings.Cooldown()

	excluded := make(map[string]struct{})
	var st AttemptState

	for {
		acct, err := d.pool.SelectEligible(excluded)
		if err != nil {
			d.log.Warnf("dispatch gave up after %d accounts: no eligible account left", st.AccountsTried)
			return nil, err
		}
		excluded[acct.ID] = struct{}{}
		st.AccountsTried++
		st.SessionTries = 0

		resp, outcome, verdict, attemptErr := d.tryAccount(ctx, policy, acct, req, ttl, &st)
		if attemptErr != nil {
			// Caller went away; account health is not at fault.
			return nil, attemptErr
		}

		switch verdict {
		case VerdictReturn:
			if outcome == OutcomeSuccess {
				d.pool.RecordSuccess(acct.ID)
			}
			return resp, nil
		case VerdictSwitchAccount:
			d.pool.RecordFailure(acct.ID, retry.AccountFailureThreshold, cooldown)
			d.log.Infof("dispatch failing over from account %s (%d/%d accounts tried)",
				acct.ID, st.AccountsTried, policy.MaxAccounts())
		case VerdictGiveUp:
			d.pool.RecordFailure(acct.ID, retry.AccountFailureThreshold, cooldown)
			d.log.Warnf("dispatch exhausted retry budget after %d accounts", st.AccountsTried)
			return nil, PoolExhaustedError("all accounts failed within the retry budget")
		}
	}
}

// tryAccount runs session cycles on one account until the policy produces a
// final verdict for that account.
func (d *Dispatcher) tryAccount(ctx context.Context, policy Policy, acct *Account, req *RelayRequest, ttl time.Duration, st *AttemptState) (*RelayResponse, Outcome, Verdict, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, OutcomeRetriable, VerdictGiveUp, err
		}

		handle, cached := d.cache.Get(ctx, acct.ID, ttl)
		if !cached {
			st.SessionTries++
			created, err := d.upstream.CreateSession(ctx, acct)
			if err != nil {
				d.log.Warnf("session creation failed for account %s (try %d/%d): %v",
					acct.ID, st.SessionTries, policy.SessionsPerAccount(), err)
				verdict := policy.DecideSessionFailure(*st)
				if verdict == VerdictNewSession {
					continue
				}
				return nil, OutcomeAccountFailure, verdict, nil
			}
			handle = created
			d.cache.Put(ctx, acct.ID, handle, ttl)
		} else if st.SessionTries == 0 {
			// A cached session still occupies one session slot.
			st.SessionTries = 1
		}

		resp, outcome, verdict := d.runSession(ctx, policy, acct, handle, req, st)
		if verdict == VerdictNewSession {
			// Covers retriable exhaustion promoted to a fresh session;
			// invalidation after SESSION_INVALID already happened.
			d.cache.Invalidate(ctx, acct.ID)
			continue
		}
		return resp, outcome, verdict, nil
	}
}

// runSession performs sends on one session until the policy moves on.
func (d *Dispatcher) runSession(ctx context.Context, policy Policy, acct *Account, handle string, req *RelayRequest, st *AttemptState) (*RelayResponse, Outcome, Verdict) {
	st.SendsThisSession = 0
	for {
		resp, err := d.upstream.Send(ctx, acct, handle, req)
		st.SendsThisSession++

		outcome := policy.Classify(err)
		if outcome != OutcomeSuccess {
			d.log.Infof("send on account %s classified %s (send %d/%d, session %d/%d)",
				acct.ID, outcome, st.SendsThisSession, policy.SendsPerSession(),
				st.SessionTries, policy.SessionsPerAccount())
		}
		if outcome == OutcomeSessionInvalid {
			// The handle is dead regardless of what the policy decides
			// to do next.
			d.cache.Invalidate(ctx, acct.ID)
		}

		verdict := policy.Decide(*st, outcome)
		switch verdict {
		case VerdictRetrySameSession:
			continue
		case VerdictReturn:
			if outcome == OutcomeClientError {
				return clientErrorResponse(err), outcome, verdict
			}
			return resp, outcome, verdict
		default:
			return nil, outcome, verdict
		}
	}
}

// clientErrorResponse surfaces an upstream rejection to the caller with its
// original status and body.
func clientErrorResponse(err error) *RelayResponse {
	var ue *UpstreamError
	if errors.As(err, &ue) && ue.Status > 0 {
		body := ue.Body
		if len(body) == 0 {
			body = []byte(`{"error":"bad request"}`)
		}
		return &RelayResponse{
			StatusCode:  ue.Status,
			ContentType: "application/json",
			Body:        body,
		}
	}
	return &RelayResponse{
		StatusCode:  400,
		ContentType: "application/json",
		Body:        []byte(`{"error":"bad request"}`),
	}
}
