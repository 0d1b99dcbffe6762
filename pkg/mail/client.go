// Package mail implements the temporary-mailbox collaborator used by the
// provisioning orchestrator: it requests throwaway addresses from an external
// mail API and polls the inbox for verification codes.
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// ServiceError wraps a mail API failure. Unreachable reports whether the
// service itself could not be contacted, as opposed to a per-request refusal.
type ServiceError struct {
	Op          string
	Err         error
	unreachable bool
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("mail %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error { return e.Err }

// Unreachable reports whether the mail service could not be contacted at all.
func (e *ServiceError) Unreachable() bool { return e.unreachable }

// Mailbox is a provisioned temporary address.
type Mailbox struct {
	Address string `json:"address"`
}

// Client talks to the temporary-mail HTTP API.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	pollInterval time.Duration
	logger       *log.Helper
}

// NewClient creates a mail API client. httpClient should come from
// pkg/httpclient so the configured proxy applies.
func NewClient(baseURL, apiKey string, httpClient *http.Client, logger log.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		http:         httpClient,
		pollInterval: 3 * time.Second,
		logger:       log.NewHelper(logger),
	}
}

type generateEmailResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Email string `json:"email"`
	} `json:"data"`
	Message string `json:"message"`
}

type inboxResponse struct {
	Success bool `json:"success"`
	Data    []struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	} `json:"data"`
}

// CreateMailbox requests a fresh temporary address.
func (c *Client) CreateMailbox(ctx context.Context) (*Mailbox, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/generate-email", nil)
	if err != nil {
		return nil, &ServiceError{Op: "generate-email", Err: err}
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failure means the whole provider is unreachable, which
		// the orchestrator treats as unrecoverable.
		return nil, &ServiceError{Op: "generate-email", Err: err, unreachable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Op: "generate-email", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var out generateEmailResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &ServiceError{Op: "generate-email", Err: err}
	}
	if !out.Success || out.Data.Email == "" {
		return nil, &ServiceError{Op: "generate-email", Err: fmt.Errorf("mail API refused: %s", out.Message)}
	}

	c.logger.Infow("temporary mailbox created", "mail_address", out.Data.Email)
	return &Mailbox{Address: out.Data.Email}, nil
}

// WaitForCode polls the inbox until a verification code shows up or ctx
// expires. The code is extracted from message bodies with the heuristics in
// ExtractVerificationCode.
func (c *Client) WaitForCode(ctx context.Context, mbox *Mailbox) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		code, err := c.fetchCode(ctx, mbox.Address)
		if err != nil {
			return "", err
		}
		if code != "" {
			c.logger.Infow("verification code received", "mail_address", mbox.Address)
			return code, nil
		}

		select {
		case <-ctx.Done():
			return "", &ServiceError{Op: "wait-code", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (c *Client) fetchCode(ctx context.Context, address string) (string, error) {
	u := fmt.Sprintf("%s/api/get-emails?email=%s", c.baseURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", &ServiceError{Op: "get-emails", Err: err}
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ServiceError{Op: "get-emails", Err: err, unreachable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &ServiceError{Op: "get-emails", Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	var out inboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ServiceError{Op: "get-emails", Err: err}
	}

	for _, msg := range out.Data {
		if code := ExtractVerificationCode(msg.Body); code != "" {
			return code, nil
		}
		if code := ExtractVerificationCode(msg.Subject); code != "" {
			return code, nil
		}
	}
	return "", nil
}
