package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL  = "https://api.vk.com/method"
	DefaultVersion = "5.131"
)

// APIError is an error object returned by the API.
type APIError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Message)
}

// Client calls API methods with a request rate limit shared by every call of
// one account.
type Client struct {
	baseURL string
	token   string
	version string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client allowing perSecond requests per second.
func NewClient(baseURL, token string, perSecond float64) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if perSecond <= 0 {
		perSecond = 3
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		version: DefaultVersion,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Call invokes method and decodes the "response" member into out.
func (c *Client) Call(ctx context.Context, method string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("access_token", c.token)
	form.Set("v", c.version)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

// User is an API user object.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Nickname  string `json:"nickname,omitempty"`
	Online    int    `json:"online"`
}

// Message is an API message object.
type Message struct {
	ID       int64  `json:"id"`
	Date     int64  `json:"date"`
	PeerID   int64  `json:"peer_id"`
	FromID   int64  `json:"from_id"`
	Out      int    `json:"out"`
	Text     string `json:"text"`
	RandomID int64  `json:"random_id,omitempty"`
}

// Users calls users.get. No ids returns the token owner.
func (c *Client) Users(ctx context.Context, ids ...int64) ([]User, error) {
	params := url.Values{"fields": {"nickname,online"}}
	if len(ids) > 0 {
		s := make([]string, len(ids))
		for i, id := range ids {
			s[i] = strconv.FormatInt(id, 10)
		}
		params.Set("user_ids", strings.Join(s, ","))
	}
	var users []User
	if err := c.Call(ctx, "users.get", params, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Send calls messages.send. randomID makes retries idempotent server side.
func (c *Client) Send(ctx context.Context, peerID, randomID int64, text string) error {
	return c.Call(ctx, "messages.send", url.Values{
		"peer_id":   {strconv.FormatInt(peerID, 10)},
		"random_id": {strconv.FormatInt(randomID, 10)},
		"message":   {text},
	}, nil)
}

// Messages calls messages.get for messages newer than lastID.
func (c *Client) Messages(ctx context.Context, lastID int64) ([]Message, error) {
	var res struct {
		Items []Message `json:"items"`
	}
	params := url.Values{"count": {"200"}}
	if lastID > 0 {
		params.Set("last_message_id", strconv.FormatInt(lastID, 10))
	}
	if err := c.Call(ctx, "messages.get", params, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}
