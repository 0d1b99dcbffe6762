package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"RelayPool/internal/biz"
	"RelayPool/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
)

// responseBodyLimit caps buffered upstream responses at 32 MiB.
const responseBodyLimit = 32 << 20

// upstreamClient forwards traffic to the upstream service with a pooled
// account's credentials. Base URL and proxy come from the current settings
// on every call, so a settings replace takes effect for new dispatches
// without a restart.
type upstreamClient struct {
	settings *biz.SettingsUsecase
	log      *log.Helper

	mu       sync.Mutex
	client   *http.Client
	proxyURL string
}

// NewUpstreamClient creates the upstream relay client.
func NewUpstreamClient(settings *biz.SettingsUsecase, logger log.Logger) (biz.Upstream, error) {
	c := &upstreamClient{
		settings: settings,
		log:      log.NewHelper(logger),
	}
	// Fail fast on an unusable proxy URL instead of at first dispatch.
	if _, err := c.httpClient(); err != nil {
		return nil, err
	}
	return c, nil
}

// httpClient returns the cached HTTP client, rebuilding it when the
// configured proxy changed.
func (c *upstreamClient) httpClient() (*http.Client, error) {
	basic := c.settings.Basic()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.proxyURL == basic.Proxy {
		return c.client, nil
	}

	client, err := httpclient.New(basic.Proxy, 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream HTTP client: %w", err)
	}
	c.client = client
	c.proxyURL = basic.Proxy
	if basic.Proxy != "" {
		c.log.Infof("upstream client using proxy %s", basic.Proxy)
	}
	return client, nil
}

func (c *upstreamClient) baseURL() string {
	return strings.TrimRight(c.settings.Basic().BaseUrl, "/")
}

// applyCredentials attaches the account's credential triple to an upstream
// request.
func applyCredentials(req *http.Request, acct *biz.Account) {
	req.Header.Set("Cookie", fmt.Sprintf("sessionid=%s; sessionid_ss=%s", acct.SessionToken, acct.SessionToken))
	req.Header.Set("X-Session-Index", acct.SessionIndex)
	req.Header.Set("X-Config-Id", acct.ConfigID)
}

// CreateSession establishes a fresh upstream session for the account.
func (c *upstreamClient) CreateSession(ctx context.Context, acct *biz.Account) (string, error) {
	client, err := c.httpClient()
	if err != nil {
		return "", &biz.UpstreamError{Outcome: biz.OutcomeRetriable, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/api/session", nil)
	if err != nil {
		return "", &biz.UpstreamError{Outcome: biz.OutcomeRetriable, Err: err}
	}
	applyCredentials(req, acct)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", &biz.UpstreamError{Outcome: biz.OutcomeRetriable, Err: fmt.Errorf("session creation transport failure: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return "", &biz.UpstreamError{Outcome: biz.OutcomeRetriable, Err: fmt.Errorf("failed to read session response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, body, "session creation")
	}

	var payload struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.SessionID == "" {
		return "", &biz.UpstreamError{
			Outcome: biz.OutcomeRetriable,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("session response missing session_id"),
		}
	}
	return payload.SessionID, nil
}

// Send forwards the request on an established session.
func (c *upstreamClient) Send(ctx context.Context, acct *biz.Account, handle string, req *biz.RelayRequest) (*biz.RelayResponse, error) {
	client, err := c.httpClient()
	if err != nil {
		return nil, &biz.UpstreamError{Outcome: biz.OutcomeRetriable, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &biz.UpstreamError{Outcome: biz.OutcomeRetriable, Err: err}
	}
	applyCredentials(httpReq, acct)
	httpReq.Header.Set("X-Upstream-Session", handle)
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &biz.UpstreamError{Outcome: biz.OutcomeRetriable, Err: fmt.Errorf("send transport failure: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return nil, &biz.UpstreamError{Outcome: biz.OutcomeRetriable, Err: fmt.Errorf("failed to read upstream response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body, "send")
	}

	return &biz.RelayResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// classifyStatus maps an upstream HTTP status onto an attempt outcome.
// Credential rejections invalidate the session, rate limits burn the
// account, malformed requests go back to the caller, everything else is
// worth a retry.
func classifyStatus(status int, body []byte, op string) *biz.UpstreamError {
	var outcome biz.Outcome
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		outcome = biz.OutcomeSessionInvalid
	case status == http.StatusTooManyRequests:
		outcome = biz.OutcomeAccountFailure
	case status == http.StatusBadRequest:
		outcome = biz.OutcomeClientError
	default:
		outcome = biz.OutcomeRetriable
	}
	return &biz.UpstreamError{
		Outcome: outcome,
		Status:  status,
		Body:    body,
		Err:     fmt.Errorf("upstream %s returned status %d", op, status),
	}
}
