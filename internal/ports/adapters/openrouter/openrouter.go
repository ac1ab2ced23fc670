package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	requestTimeout = 90 * time.Second
	defaultModel   = "google/gemini-2.0-flash-001"
)

type Adapter struct {
	key     string
	model   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger

	maxRetries int
	backoff    time.Duration
}

type Option func(*Adapter)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithRateLimit paces outgoing requests; rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *Adapter) {
		if rps <= 0 {
			a.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRetries(n int, backoff time.Duration) Option {
	return func(a *Adapter) {
		if n >= 0 {
			a.maxRetries = n
		}
		if backoff > 0 {
			a.backoff = backoff
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

func New(apiKey, model, baseURL string, opts ...Option) *Adapter {
	if model == "" {
		model = defaultModel
	}
	a := &Adapter{
		key:        apiKey,
		model:      model,
		baseURL:    normalizeBaseURL(baseURL),
		client:     &http.Client{Timeout: 5 * time.Minute},
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		log:        zerolog.Nop(),
		maxRetries: 2,
		backoff:    time.Second,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("openrouter status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

var errRequestTimeout = errors.New("openrouter request timeout")

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, errRequestTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// complete sends one chat completion, retrying transient failures with
// exponential backoff, and returns the assistant message text.
func (a *Adapter) complete(ctx context.Context, msgs []chatMessage, schemaName string, schema map[string]any) (string, error) {
	payload := map[string]any{
		"model":    a.model,
		"stream":   false,
		"messages": msgs,
	}
	if schema != nil {
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"schema": schema,
			},
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			wait := a.backoff << (attempt - 1)
			a.log.Debug().Err(lastErr).Int("attempt", attempt).Dur("wait", wait).Msg("retrying openrouter request")
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return "", err
			}
		}
		content, err := a.do(ctx, body)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil || !isRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (a *Adapter) do(ctx context.Context, body []byte) (string, error) {
	url := a.baseURL + "/api/v1/chat/completions"

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s (model=%s)", errRequestTimeout, requestTimeout, a.model)
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			return "", &StatusError{Code: resp.StatusCode, Body: "read body failed: " + readErr.Error()}
		}
		return "", &StatusError{Code: resp.StatusCode, Body: truncate(redactSecrets(string(rb), a.key), 400)}
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("decode openrouter response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return "", errors.New("openrouter: no choices")
	}
	return messageContentToString(raw.Choices[0].Message.Content)
}

func messageContentToString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return "", errors.New("openrouter: empty content")
		}
		return x, nil
	case []any:
		// Some providers return an array of {type,text} parts.
		var b strings.Builder
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
		s := b.String()
		if strings.TrimSpace(s) == "" {
			return "", errors.New("openrouter: empty content")
		}
		return s, nil
	default:
		return "", fmt.Errorf("openrouter: unexpected content type %T", v)
	}
}

func extractJSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("openrouter: empty content")
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}

	return "", fmt.Errorf("openrouter: could not locate JSON object in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
