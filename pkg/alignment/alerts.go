package alignment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// AlertSeverity orders alert channels' minimum-severity filters.
type AlertSeverity int

const (
	AlertInfo AlertSeverity = iota
	AlertWarning
	AlertCritical
)

// String implements fmt.Stringer.
func (s AlertSeverity) String() string {
	switch s {
	case AlertInfo:
		return "info"
	case AlertWarning:
		return "warning"
	case AlertCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Alert is the payload delivered to every channel.
type Alert struct {
	AgentID   string        `json:"agent_id"`
	Operation string        `json:"operation"`
	Severity  AlertSeverity `json:"severity"`
	Reason    string        `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
}

// Channel delivers alerts to one sink. Send failures are the dispatcher's
// problem; channels just report them.
type Channel interface {
	Name() string
	MinSeverity() AlertSeverity
	Send(ctx context.Context, alert Alert) error
}

// ConsoleChannel logs alerts via slog. It is always available as the fallback
// sink even when no external channel is configured.
type ConsoleChannel struct {
	Min    AlertSeverity
	Logger *slog.Logger
}

// NewConsoleChannel returns a console channel accepting every severity.
func NewConsoleChannel() *ConsoleChannel {
	return &ConsoleChannel{Min: AlertInfo, Logger: slog.Default().With("component", "alerts")}
}

func (c *ConsoleChannel) Name() string               { return "console" }
func (c *ConsoleChannel) MinSeverity() AlertSeverity { return c.Min }

func (c *ConsoleChannel) Send(_ context.Context, alert Alert) error {
	c.Logger.Warn("safety alert",
		"agent_id", alert.AgentID,
		"operation", alert.Operation,
		"severity", alert.Severity.String(),
		"reason", alert.Reason,
	)
	return nil
}

// WebhookChannel POSTs alerts as JSON. Outbound calls are rate-limited so a
// misbehaving agent cannot turn the alerting path into a flood.
type WebhookChannel struct {
	url     string
	min     AlertSeverity
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookChannel creates a webhook channel with a 10 alerts/sec limit and
// burst of 20.
func NewWebhookChannel(url string, min AlertSeverity) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		min:     min,
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (w *WebhookChannel) Name() string               { return "webhook" }
func (w *WebhookChannel) MinSeverity() AlertSeverity { return w.min }

func (w *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	if !w.limiter.Allow() {
		return fmt.Errorf("alerts: webhook rate limit exceeded")
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("alerts: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Dispatcher fans an alert out to every channel whose minimum severity is
// met. Delivery is best-effort: failures are logged locally and never
// surfaced to the caller.
type Dispatcher struct {
	channels []Channel
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher. A console channel is appended when the
// caller supplies none, so there is always at least one sink.
func NewDispatcher(channels ...Channel) *Dispatcher {
	if len(channels) == 0 {
		channels = []Channel{NewConsoleChannel()}
	}
	return &Dispatcher{
		channels: channels,
		logger:   slog.Default().With("component", "alerts"),
	}
}

// Dispatch sends the alert to all eligible channels.
func (d *Dispatcher) Dispatch(ctx context.Context, alert Alert) {
	for _, ch := range d.channels {
		if alert.Severity < ch.MinSeverity() {
			continue
		}
		if err := ch.Send(ctx, alert); err != nil {
			d.logger.Error("alert delivery failed",
				"channel", ch.Name(),
				"agent_id", alert.AgentID,
				"error", err,
			)
		}
	}
}
