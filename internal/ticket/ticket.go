// Package ticket opens tickets for the admin committee on a helpdesk API.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	logx "ixfnotify/pkg/logx"
)

// Ticket is a helpdesk ticket. ID and Ref are filled by Create; a ticket
// that already has an ID gets the message appended as a reply.
type Ticket struct {
	Subject     string
	Body        string
	PersonEmail string
	PersonName  string

	ID  int64
	Ref string
}

type Client interface {
	Create(ctx context.Context, t *Ticket) error
}

// APIError is a non-2xx helpdesk response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ticket api: status %d: %s", e.Status, e.Body)
}

type Config struct {
	URL          string
	Key          string
	PersonEmail  string
	PersonName   string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// HTTPClient talks to the helpdesk's JSON API with retries on transient
// failures.
type HTTPClient struct {
	cfg  Config
	http *retryablehttp.Client
	log  logx.Logger
}

func NewHTTPClient(cfg Config, log logx.Logger) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("ticket: api url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = time.Second
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = cfg.RetryWaitMin + cfg.RetryWaitMin/2
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.Backoff = retryablehttp.LinearJitterBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, r *http.Request, attempt int) {
		if attempt > 0 {
			log.Debug("retrying ticket request", logx.String("url", r.URL.String()), logx.Int("attempt", attempt))
		}
	}

	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &HTTPClient{cfg: cfg, http: rc, log: log}, nil
}

type person struct {
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

type message struct {
	Message string `json:"message"`
	Format  string `json:"format"`
}

type createRequest struct {
	Subject string  `json:"subject"`
	Person  person  `json:"person"`
	Status  string  `json:"status"`
	Message message `json:"message"`
}

type replyRequest struct {
	Message string `json:"message"`
	Person  string `json:"person"`
	Format  string `json:"format"`
}

type response struct {
	Data struct {
		ID  int64  `json:"id"`
		Ref string `json:"ref"`
	} `json:"data"`
}

func (c *HTTPClient) Create(ctx context.Context, t *Ticket) error {
	email, name := t.PersonEmail, t.PersonName
	if email == "" {
		email, name = c.cfg.PersonEmail, c.cfg.PersonName
	}

	if t.ID != 0 {
		path := "/api/v2/tickets/" + strconv.FormatInt(t.ID, 10) + "/messages"
		_, err := c.post(ctx, path, replyRequest{Message: t.Body, Person: email, Format: "html"})
		return err
	}

	res, err := c.post(ctx, "/api/v2/tickets", createRequest{
		Subject: t.Subject,
		Person:  person{Email: email, FullName: name},
		Status:  "awaiting_agent",
		Message: message{Message: t.Body, Format: "html"},
	})
	if err != nil {
		return err
	}
	t.ID, t.Ref = res.Data.ID, res.Data.Ref
	c.log.Info("ticket created", logx.Int64("id", t.ID), logx.String("ref", t.Ref), logx.String("subject", t.Subject))
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) (response, error) {
	var out response
	payload, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("ticket: encode: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(payload))
	if err != nil {
		return out, fmt.Errorf("ticket: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Key != "" {
		req.Header.Set("Authorization", "key "+c.cfg.Key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("ticket: post %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("ticket: decode response: %w", err)
	}
	return out, nil
}

// MockClient assigns local sequential ids without contacting any API.
type MockClient struct {
	next atomic.Int64
	log  logx.Logger
}

func NewMockClient(log logx.Logger) *MockClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MockClient{log: log}
}

func (m *MockClient) Create(ctx context.Context, t *Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.ID == 0 {
		t.ID = m.next.Add(1)
		t.Ref = "MOCK-" + strconv.FormatInt(t.ID, 10)
	}
	m.log.Debug("ticket (mock)", logx.Int64("id", t.ID), logx.String("subject", t.Subject))
	return nil
}
