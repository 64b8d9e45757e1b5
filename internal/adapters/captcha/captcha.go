package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ohmynofan/camp-loyalty-bot/internal/platform/logger"
	"github.com/ohmynofan/camp-loyalty-bot/internal/retry"
)

type Kind string

const (
	KindTurnstile   Kind = "turnstile"
	KindRecaptchaV2 Kind = "recaptcha_v2"
	KindHCaptcha    Kind = "hcaptcha"
	// KindCFClearance asks for a cf_clearance cookie value for the page whose
	// challenge HTML is carried in Body.
	KindCFClearance Kind = "cf_clearance"
)

type Challenge struct {
	Kind      Kind
	SiteKey   string
	PageURL   string
	Proxy     string
	Body      []byte
	Invisible bool
}

var (
	ErrCreateTask  = errors.New("captcha task creation error")
	ErrSolve       = errors.New("captcha solve error")
	ErrTimeout     = errors.New("captcha solve timeout")
	ErrUnsupported = errors.New("captcha challenge not supported by provider")
	ErrZeroBalance = errors.New("captcha solver zero balance")
	ErrNoProvider  = errors.New("no captcha provider available")
)

// Provider is one solving service.
type Provider interface {
	Name() string
	CreateTask(ctx context.Context, ch Challenge) (string, error)
	PollResult(ctx context.Context, taskID string) (string, error)
}

// Solver is what callers depend on: a single provider wrapped by Solve, or
// a Chain of them.
type Solver interface {
	Solve(ctx context.Context, ch Challenge) (string, error)
}

func Solve(ctx context.Context, p Provider, ch Challenge) (string, error) {
	taskID, err := p.CreateTask(ctx, ch)
	if err != nil {
		return "", err
	}
	return p.PollResult(ctx, taskID)
}

const (
	defaultPollInterval = 5 * time.Second
	defaultPollAttempts = 30
	requestTimeout      = 30 * time.Second
)

type options struct {
	baseURL  string
	client   *http.Client
	interval time.Duration
	attempts int
	sleep    retry.SleepFunc
}

type Option func(*options)

func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithPolling sets the fixed pause between result polls and the poll ceiling.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(o *options) {
		o.interval = interval
		if attempts > 0 {
			o.attempts = attempts
		}
	}
}

func WithSleep(sleep retry.SleepFunc) Option {
	return func(o *options) { o.sleep = sleep }
}

func buildOptions(baseURL string, opts []Option) options {
	o := options{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: requestTimeout},
		interval: defaultPollInterval,
		attempts: defaultPollAttempts,
		sleep:    retry.Sleep,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type pollState int

const (
	pollPending pollState = iota
	pollReady
)

// poll calls fetch up to o.attempts times with o.interval between calls.
// Pending keeps looping; any error stops it at once.
func (o options) poll(ctx context.Context, name string, fetch func(ctx context.Context) (string, pollState, error)) (string, error) {
	for attempt := 1; attempt <= o.attempts; attempt++ {
		if err := o.sleep(ctx, o.interval); err != nil {
			return "", err
		}
		token, state, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		if state == pollReady {
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: %s gave no result after %d polls", ErrTimeout, name, o.attempts)
}

func (o options) postJSON(ctx context.Context, name, path string, headers map[string]string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s encode error: %w", name, err)
	}
	return o.do(ctx, name, http.MethodPost, path, headers, bytes.NewReader(body), out)
}

func (o options) do(ctx context.Context, name, method, path string, headers map[string]string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s request build error: %w", name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s http error: %w", name, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%s read error: %w", name, err)
	}
	if res.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s rejected api key", ErrCreateTask, name)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("%s status %s body=%s", name, res.Status, strings.TrimSpace(string(resBody)))
	}
	if err := json.Unmarshal(resBody, out); err != nil {
		return fmt.Errorf("%s decode error: %w", name, err)
	}
	return nil
}

// Chain tries providers in order. A provider reporting zero balance is
// disabled for the rest of the process.
type Chain struct {
	providers []Provider
	disabled  []atomic.Bool
	log       *logger.ClassLogger
}

func NewChain(providers ...Provider) *Chain {
	c := &Chain{providers: providers, disabled: make([]atomic.Bool, len(providers))}
	c.log = logger.NewLogger(c, nil)
	return c
}

func (c *Chain) Len() int { return len(c.providers) }

func (c *Chain) Solve(ctx context.Context, ch Challenge) (string, error) {
	var lastErr error
	tried := 0
	for i, p := range c.providers {
		if c.disabled[i].Load() {
			continue
		}
		tried++
		token, err := Solve(ctx, p, ch)
		if err == nil && strings.TrimSpace(token) != "" {
			return token, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		switch {
		case errors.Is(err, ErrZeroBalance):
			c.log.JustLog(fmt.Sprintf("%s reports zero balance, disabling it", p.Name()))
			c.disabled[i].Store(true)
		case errors.Is(err, ErrUnsupported):
			continue
		case err != nil:
			c.log.JustLog(fmt.Sprintf("%s failed (%v), falling back to next solver", p.Name(), err))
		}
		if err == nil {
			err = fmt.Errorf("%w: %s returned empty token", ErrSolve, p.Name())
		}
		lastErr = err
	}

	if lastErr != nil {
		return "", lastErr
	}
	if tried == 0 {
		return "", ErrNoProvider
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, ch.Kind)
}

// Available reports whether any provider is still enabled.
func (c *Chain) Available() bool {
	for i := range c.providers {
		if !c.disabled[i].Load() {
			return true
		}
	}
	return false
}

func requireFields(name string, ch Challenge) error {
	if strings.TrimSpace(ch.PageURL) == "" {
		return fmt.Errorf("%w: %s page url required", ErrCreateTask, name)
	}
	if ch.Kind != KindCFClearance && strings.TrimSpace(ch.SiteKey) == "" {
		return fmt.Errorf("%w: %s site key required", ErrCreateTask, name)
	}
	return nil
}
