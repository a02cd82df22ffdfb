package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"ficsync/pkg/logger"
	"ficsync/pkg/models"
)

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the FicLance REST API.
type Client struct {
	baseURL string
	tokens  TokenSource
	hc      *fasthttp.Client
	timeout time.Duration
}

// New returns a Client for baseURL (typically ending in /api). tokens may
// be nil for unauthenticated test servers.
func New(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		hc:      &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout},
		timeout: timeout,
	}
}

// do issues the request honoring any ctx deadline, falling back to the
// client timeout.
func (c *Client) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	return c.hc.DoDeadline(req, resp, deadline)
}

func (c *Client) prepare(req *fasthttp.Request, method, url string) error {
	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("resolve access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

type dataEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// CreateMessage issues the authoritative write for a user message. The
// clientMessageID rides along as the idempotency key. A 409 maps to
// ErrDuplicate and a 403 to *ForbiddenError carrying the server reason.
func (c *Client) CreateMessage(ctx context.Context, conversationID, content, clientMessageID string) (models.Message, error) {
	var out models.Message
	body, err := json.Marshal(struct {
		Content         string `json:"content"`
		ClientMessageID string `json:"clientMessageId"`
	}{Content: content, ClientMessageID: clientMessageID})
	if err != nil {
		return out, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	url := fmt.Sprintf("%s/simulations/%s/messages", c.baseURL, conversationID)
	if err := c.prepare(req, fasthttp.MethodPost, url); err != nil {
		return out, err
	}
	req.SetBody(body)

	if err := c.do(ctx, req, resp); err != nil {
		return out, fmt.Errorf("create message: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		var env dataEnvelope
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return out, fmt.Errorf("create message: invalid response: %w", err)
		}
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return out, fmt.Errorf("create message: invalid message payload: %w", err)
		}
		return out, nil
	case status == http.StatusConflict:
		return out, ErrDuplicate
	case status == http.StatusForbidden:
		var env dataEnvelope
		_ = json.Unmarshal(resp.Body(), &env)
		return out, &ForbiddenError{Reason: env.Message}
	default:
		logger.Warn("create_message_failed", "status", status, "conversation", conversationID)
		return out, &APIError{Status: status, Body: string(resp.Body())}
	}
}

// FetchConversation loads conversation metadata.
func (c *Client) FetchConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var out models.Conversation
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	url := fmt.Sprintf("%s/simulations/%s", c.baseURL, conversationID)
	if err := c.prepare(req, fasthttp.MethodGet, url); err != nil {
		return out, err
	}
	if err := c.do(ctx, req, resp); err != nil {
		return out, fmt.Errorf("fetch conversation: %w", err)
	}
	if s := resp.StatusCode(); s < 200 || s >= 300 {
		return out, &APIError{Status: s, Body: string(resp.Body())}
	}
	var env dataEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return out, fmt.Errorf("fetch conversation: invalid response: %w", err)
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("fetch conversation: invalid payload: %w", err)
	}
	return out, nil
}

// FetchMessages loads up to limit messages of history. The endpoint has
// shipped two shapes over time (`data: [...]` and `data: {items: [...]}`);
// both are accepted.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	url := fmt.Sprintf("%s/simulations/%s/messages", c.baseURL, conversationID)
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}
	if err := c.prepare(req, fasthttp.MethodGet, url); err != nil {
		return nil, err
	}
	if err := c.do(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	if s := resp.StatusCode(); s < 200 || s >= 300 {
		return nil, &APIError{Status: s, Body: string(resp.Body())}
	}
	var env dataEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("fetch messages: invalid response: %w", err)
	}
	var msgs []models.Message
	if err := json.Unmarshal(env.Data, &msgs); err == nil {
		return msgs, nil
	}
	var wrapped struct {
		Items []models.Message `json:"items"`
	}
	if err := json.Unmarshal(env.Data, &wrapped); err != nil {
		return nil, fmt.Errorf("fetch messages: unrecognized payload shape: %w", err)
	}
	return wrapped.Items, nil
}
