package sonicpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Wizard steps that call the chain can take a while, so
// it is longer than a typical API timeout.
const DefaultHTTPTimeout = 45 * time.Second

// Identity headers understood by the SonicPilot gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
	HeaderWalletID = "X-Wallet-ID"
)

// Identity is forwarded with every request.
type Identity struct {
	UserID   string
	UserName string
	WalletID string
}

// Option is one selectable answer offered by a wizard step.
type Option struct {
	Label  string            `json:"label"`
	Action string            `json:"action"`
	Values map[string]string `json:"values,omitempty"`
	Custom bool              `json:"custom,omitempty"`
	Field  string            `json:"field,omitempty"`
}

// Reply is the envelope returned by every wizard endpoint.
type Reply struct {
	Type      string            `json:"type"`
	Flow      string            `json:"flow,omitempty"`
	Step      string            `json:"step,omitempty"`
	Message   string            `json:"message"`
	Prompt    string            `json:"prompt,omitempty"`
	Options   []Option          `json:"options"`
	Error     string            `json:"error,omitempty"`
	Retryable bool              `json:"retryable"`
	Data      map[string]string `json:"data,omitempty"`
}

// Terminal reports whether the wizard finished (success, failure or cancel).
func (r Reply) Terminal() bool {
	return r.Type == "success" || r.Type == "failure" || r.Type == "cancelled"
}

// Token is a catalog entry returned by Tokens.
type Token struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	Address    string `json:"address"`
	PriceSonic string `json:"price_sonic"`
	MarketCap  string `json:"market_cap"`
	Verified   bool   `json:"verified"`
}

// Launch is a token previously launched by the current user.
type Launch struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	ContractAddress string `json:"contract_address"`
	InitialBuy      string `json:"initial_buy"`
	TokensReceived  string `json:"tokens_received"`
	TxURL           string `json:"tx_url"`
	CreatedAt       int64  `json:"created_at"`
}

// APIError is returned for non-2xx responses. Reply carries the decoded
// envelope when the server sent one, including retry options on conflicts.
type APIError struct {
	StatusCode int
	Reply      Reply
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reply.Error != "" {
		return fmt.Sprintf("sonicpilot api error (%d): %s - %s", e.StatusCode, e.Reply.Error, e.Reply.Message)
	}
	return fmt.Sprintf("sonicpilot api error (%d): %s", e.StatusCode, e.Reply.Message)
}

// Client wraps the HTTP interactions with the SonicPilot wizard API. The
// session cookie issued by the server is kept in a cookie jar so consecutive
// calls continue the same wizard.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu       sync.RWMutex
	identity Identity
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with a cookie jar is used; a provided client without a jar is copied and
// given one.
func NewClient(rawURL string, httpClient *http.Client, identity Identity) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		copied := *httpClient
		copied.Jar = jar
		httpClient = &copied
	}
	return &Client{baseURL: parsed, httpClient: httpClient, identity: identity}, nil
}

// SetIdentity replaces the identity sent with subsequent calls.
func (c *Client) SetIdentity(identity Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// Flows lists the available wizards.
func (c *Client) Flows(ctx context.Context) ([]string, error) {
	var out struct {
		Flows []string `json:"flows"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/wizards", nil, &out); err != nil {
		return nil, err
	}
	return out.Flows, nil
}

// Current returns the prompt the session is waiting on for flow.
func (c *Client) Current(ctx context.Context, flow string) (Reply, error) {
	var reply Reply
	err := c.do(ctx, http.MethodGet, "/api/v1/wizards/"+url.PathEscape(flow), nil, &reply)
	return reply, err
}

// Act submits an action with its payload.
func (c *Client) Act(ctx context.Context, flow, action string, payload map[string]string) (Reply, error) {
	body := struct {
		Action  string            `json:"action"`
		Payload map[string]string `json:"payload"`
	}{Action: action, Payload: payload}
	var reply Reply
	err := c.do(ctx, http.MethodPost, "/api/v1/wizards/"+url.PathEscape(flow)+"/actions", body, &reply)
	return reply, err
}

// Choose submits a non-custom option as offered by the server.
func (c *Client) Choose(ctx context.Context, flow string, opt Option) (Reply, error) {
	return c.Act(ctx, flow, opt.Action, opt.Values)
}

// Tokens lists verified catalog tokens ranked by market cap.
func (c *Client) Tokens(ctx context.Context, limit int) ([]Token, error) {
	endpoint := "/api/v1/tokens"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Tokens []Token `json:"tokens"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Tokens, nil
}

// Launches lists the tokens launched by the current user.
func (c *Client) Launches(ctx context.Context, limit int) ([]Launch, error) {
	endpoint := "/api/v1/launches"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Launches []Launch `json:"launches"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out.Launches, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	ref, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, ref.Path), RawQuery: ref.RawQuery})
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	identity := c.identity
	c.mu.RUnlock()
	setHeader(req, HeaderUserID, identity.UserID)
	setHeader(req, HeaderUserName, identity.UserName)
	setHeader(req, HeaderWalletID, identity.WalletID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, &apiErr.Reply); err != nil || apiErr.Reply.Message == "" {
			apiErr.Reply.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func setHeader(req *http.Request, name, value string) {
	if value != "" {
		req.Header.Set(name, value)
	}
}
