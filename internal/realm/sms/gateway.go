package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrGatewayNotConfigured is returned when no gateway credentials are set.
var ErrGatewayNotConfigured = errors.New("sms gateway not configured")

// Gateway transmits outbound SMS.
type Gateway interface {
	Send(ctx context.Context, phone, message string) (id string, err error)
}

// HTTPGateway posts outbound SMS to an sms.ru-compatible HTTP API.
type HTTPGateway struct {
	apiID     string
	sender    string
	client    *http.Client
	baseURL   string
	sendRoute string
}

// NewHTTPGateway creates a gateway client for baseURL.
func NewHTTPGateway(baseURL, apiID, sender string) *HTTPGateway {
	return &HTTPGateway{
		apiID:     strings.TrimSpace(apiID),
		sender:    strings.TrimSpace(sender),
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		sendRoute: "/sms/send",
	}
}

// Send posts one message. The gateway answers "100" on the first line and the
// message id on the second.
func (g *HTTPGateway) Send(ctx context.Context, phone, message string) (string, error) {
	if g == nil || g.apiID == "" || g.baseURL == "" {
		return "", ErrGatewayNotConfigured
	}
	form := url.Values{}
	form.Set("api_id", g.apiID)
	form.Set("to", phone)
	form.Set("msg", message)
	if g.sender != "" {
		form.Set("from", g.sender)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+g.sendRoute, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if strings.TrimSpace(lines[0]) != "100" {
		return "", fmt.Errorf("sms gateway error: %s", strings.TrimSpace(lines[0]))
	}
	if len(lines) > 1 {
		return strings.TrimSpace(lines[1]), nil
	}
	return "", nil
}
