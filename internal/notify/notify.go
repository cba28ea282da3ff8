// Package notify posts a fixed-shape JSON notification for every smile.
//
// Delivery is fire-and-forget: the outcome is logged and otherwise dropped.
// There is no retry and nothing is returned to the detection path.
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

	"github.com/rs/zerolog"

	"smilecam/internal/metrics"
	"smilecam/internal/types"
)

type Config struct {
	URL           string
	Title         string
	UserID        int
	SuccessStatus int
	Timeout       time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	log     zerolog.Logger
	metrics *metrics.Counters
}

func NewClient(cfg Config, log zerolog.Logger, m *metrics.Counters) *Client {
	if cfg.SuccessStatus == 0 {
		cfg.SuccessStatus = http.StatusCreated
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if m == nil {
		m = &metrics.Counters{}
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log,
		metrics: m,
	}
}

// Send posts message and reports whether the endpoint answered with the
// success status. Exactly one log line is written either way.
func (c *Client) Send(ctx context.Context, message string) bool {
	payload, err := json.Marshal(types.Notification{
		Title:    c.cfg.Title,
		Body:     message,
		SenderID: c.cfg.UserID,
	})
	if err != nil {
		return c.failed(fmt.Sprintf("API call failed: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return c.failed(fmt.Sprintf("API call failed: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.failed(fmt.Sprintf("API call failed: %v", err))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()

	if resp.StatusCode != c.cfg.SuccessStatus {
		return c.failed(fmt.Sprintf("API call failed: %d", resp.StatusCode))
	}
	c.metrics.NotificationsOK.Add(1)
	c.log.Info().Msgf("API call successful: %s", oneLine(body))
	return true
}

func (c *Client) failed(msg string) bool {
	c.metrics.NotificationsFailed.Add(1)
	c.log.Error().Msg(msg)
	return false
}

func (c *Client) Name() string {
	return "notify"
}

// Handle sends one notification per smile event and ignores everything else.
// Failures are already logged by Send, so Handle never returns an error.
func (c *Client) Handle(ctx context.Context, ev types.Event) error {
	if ev.Kind != types.KindSmile {
		return nil
	}
	c.Send(ctx, ev.Message)
	return nil
}

func oneLine(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		return buf.String()
	}
	return strings.Join(strings.Fields(string(body)), " ")
}
