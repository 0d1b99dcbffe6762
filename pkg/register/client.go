// Package register implements the registration-flow collaborator: it drives
// an external signup automation service through the create/verify steps and
// returns the credential triple for a freshly registered account.
package register

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"RelayPool/pkg/mail"

	"github.com/go-kratos/kratos/v2/log"
)

// Credentials is the opaque triple issued for a registered account.
type Credentials struct {
	SessionToken string `json:"session_token"`
	SessionIndex string `json:"session_index"`
	ConfigID     string `json:"config_id"`
	Email        string `json:"email"`
}

// Client talks to the signup automation HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	mail    *mail.Client
	logger  *log.Helper
}

// NewClient creates a registration client. The mail client is used to fetch
// the verification code mid-flow.
func NewClient(baseURL string, httpClient *http.Client, mailClient *mail.Client, logger log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		mail:    mailClient,
		logger:  log.NewHelper(logger),
	}
}

type startFlowResponse struct {
	Success bool   `json:"success"`
	FlowID  string `json:"flow_id"`
	Message string `json:"message"`
}

type verifyFlowResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"session_token"`
	SessionIndex string `json:"session_index"`
	ConfigID     string `json:"config_id"`
	Message      string `json:"message"`
}

// Register runs the full signup flow for the given mailbox: start the flow,
// wait for the verification code to land in the inbox, then submit it and
// collect the credential triple.
func (c *Client) Register(ctx context.Context, mbox *mail.Mailbox) (*Credentials, error) {
	flowID, err := c.startFlow(ctx, mbox.Address)
	if err != nil {
		return nil, err
	}

	code, err := c.mail.WaitForCode(ctx, mbox)
	if err != nil {
		return nil, fmt.Errorf("waiting for verification code: %w", err)
	}

	creds, err := c.verifyFlow(ctx, flowID, code)
	if err != nil {
		return nil, err
	}
	creds.Email = mbox.Address

	c.logger.Infow("registration flow completed", "mail_address", mbox.Address)
	return creds, nil
}

func (c *Client) startFlow(ctx context.Context, address string) (string, error) {
	body, _ := json.Marshal(map[string]string{"email": address})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/flows", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("start flow: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("start flow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("start flow: HTTP %d", resp.StatusCode)
	}

	var out startFlowResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("start flow: %w", err)
	}
	if !out.Success || out.FlowID == "" {
		return "", fmt.Errorf("start flow refused: %s", out.Message)
	}
	return out.FlowID, nil
}

func (c *Client) verifyFlow(ctx context.Context, flowID, code string) (*Credentials, error) {
	body, _ := json.Marshal(map[string]string{"code": code})
	u := fmt.Sprintf("%s/api/flows/%s/verify", c.baseURL, flowID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("verify flow: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify flow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify flow: HTTP %d", resp.StatusCode)
	}

	var out verifyFlowResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("verify flow: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("verify flow refused: %s", out.Message)
	}
	if out.SessionToken == "" || out.SessionIndex == "" || out.ConfigID == "" {
		return nil, fmt.Errorf("verify flow returned incomplete credentials")
	}

	return &Credentials{
		SessionToken: out.SessionToken,
		SessionIndex: out.SessionIndex,
		ConfigID:     out.ConfigID,
	}, nil
}
