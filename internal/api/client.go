package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnauthorized marks an expired or invalid credential. The client's
// auth-failure hook has already fired by the time a caller sees it.
var ErrUnauthorized = errors.New("api: unauthorized")

// Error carries the backend's own failure message when it sent one.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

type Config struct {
	BaseURL string
	Timeout time.Duration

	// Breaker settings: open after this many consecutive failures, probe
	// again after OpenFor.
	BreakerFailures uint32
	BreakerOpenFor  time.Duration

	// Token supplies the bearer credential attached to every call.
	Token func() string

	// OnAuthFailure fires on 401/403 responses; the owner decides what a
	// forced logout means.
	OnAuthFailure func()

	Logger *zap.Logger
}

// Client talks to the farm-management backend. Every call goes through one
// circuit breaker: a flapping backend is cut off instead of hammered by
// the 60 s poll loop.
type Client struct {
	base          string
	http          *http.Client
	breaker       *gobreaker.CircuitBreaker
	token         func() string
	onAuthFailure func()
	log           *zap.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "backend",
		Timeout: cfg.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
	})
	return &Client{
		base:          strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http:          &http.Client{Timeout: cfg.Timeout},
		breaker:       cb,
		token:         cfg.Token,
		onAuthFailure: cfg.OnAuthFailure,
		log:           cfg.Logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, query, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("api: backend unavailable: %w", err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if t := c.token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.log.Warn("credential rejected by backend", zap.Int("status", resp.StatusCode))
		if c.onAuthFailure != nil {
			c.onAuthFailure()
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Status: resp.StatusCode, Message: serverMessage(resp)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("api: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}

// serverMessage pulls {"message": ...} out of an error body, best effort.
func serverMessage(resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Message
}
