// Package notify delivers finished run results to an external channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"testbot/pkg/logger"
	"testbot/pkg/models"
	"testbot/pkg/resilience"
)

// Notifier types accepted in target configuration.
const (
	TypeNone    = "none"
	TypeFeishu  = "feishu"
	TypeDiscord = "discord"
	TypeWebhook = "webhook"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 10 * time.Second

// maxOutput caps the command output quoted in chat messages.
const maxOutput = 1500

// Notifier delivers the metadata of one finished run.
type Notifier interface {
	// Name identifies the channel in logs and metrics.
	Name() string
	Notify(ctx context.Context, meta models.RunMetadata) error
}

// Option configures the HTTP transport shared by the webhook-based notifiers.
type Option func(*poster)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *poster) { p.client = c }
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *poster) { p.breaker = cb }
}

// Build selects the notifier for cfg. A nil config or an empty type selects
// NoneNotifier; an unknown type is a configuration error.
func Build(cfg *models.NotifierConfig, opts ...Option) (Notifier, error) {
	if cfg == nil {
		return NoneNotifier{}, nil
	}

	kind := strings.ToLower(strings.TrimSpace(cfg.Type))
	if kind == "" || kind == TypeNone {
		return NoneNotifier{}, nil
	}

	switch kind {
	case TypeFeishu, TypeDiscord, TypeWebhook:
	default:
		return nil, &models.ConfigurationError{Field: "notifier.type", Reason: fmt.Sprintf("unsupported notifier %q", cfg.Type)}
	}
	if cfg.URL == "" {
		return nil, &models.ConfigurationError{Field: "notifier.url", Reason: "is required for " + kind}
	}

	p := newPoster(kind, opts...)
	switch kind {
	case TypeFeishu:
		return &FeishuNotifier{url: cfg.URL, poster: p}, nil
	case TypeDiscord:
		return &DiscordNotifier{url: cfg.URL, poster: p}, nil
	default:
		return &WebhookNotifier{url: cfg.URL, poster: p}, nil
	}
}

// NoneNotifier discards every notification.
type NoneNotifier struct{}

func (NoneNotifier) Name() string { return TypeNone }

func (NoneNotifier) Notify(ctx context.Context, meta models.RunMetadata) error { return nil }

// Title renders the one-line summary shared by all chat channels.
func Title(meta models.RunMetadata) string {
	return fmt.Sprintf("[testbot %s] %s env: %s branch: %s", meta.Status(), meta.Project, meta.Environment, meta.Branch)
}

// OutcomeLines renders one line per outcome, quoting the output of failures.
func OutcomeLines(meta models.RunMetadata) []string {
	lines := make([]string, 0, len(meta.Outcomes))
	for _, o := range meta.Outcomes {
		if o.Succeeded() {
			lines = append(lines, fmt.Sprintf("%s succeeded.", o.Label))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s failed, code %d\nOutput: %s", o.Label, o.ExitCode, truncateTail(o.Stdout, maxOutput)))
	}
	return lines
}

// truncateTail keeps at most the last n bytes of s, where failures usually
// are, without splitting a UTF-8 sequence.
func truncateTail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}

// poster sends JSON payloads through a circuit breaker.
type poster struct {
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

func newPoster(name string, opts ...Option) *poster {
	log := logger.ForComponent("notify")
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		log.Warn("Notifier circuit changed state",
			zap.String("channel", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}

	p := &poster{
		client:  &http.Client{Timeout: DefaultTimeout},
		breaker: resilience.NewCircuitBreaker(name, cfg),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// maxResponse caps how much of a channel's reply is read.
const maxResponse = 64 << 10

// postJSON sends payload and, when accept is set, lets the channel reject a
// 2xx reply based on its body.
func (p *poster) postJSON(ctx context.Context, url string, payload interface{}, accept func(body []byte) error) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return p.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		if accept == nil {
			return nil
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return accept(body)
	})
}
