package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackAdapter posts alerts to one Slack channel with the Web API.
type SlackAdapter struct {
	channelID   string
	client      *slack.Client
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack alert adapter. botToken is the Bot User
// OAuth Token (xoxb-...).
func NewSlackAdapter(botToken, channelID string, logger *zap.Logger, opts ...slack.Option) *SlackAdapter {
	return &SlackAdapter{
		channelID: channelID,
		client:    slack.New(botToken, opts...),
		logger:    logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

// Connect verifies the bot token.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	resp, err := a.client.AuthTestContext(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.connected = false
		a.lastError = fmt.Sprintf("auth test: %v", err)
		return fmt.Errorf("slack auth: %w", err)
	}
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.logger.Info("slack adapter connected",
		zap.String("team", resp.Team),
		zap.String("user", resp.User))
	return nil
}

// Send posts alert as a colored attachment.
func (a *SlackAdapter) Send(ctx context.Context, alert *Alert) error {
	attachment := slack.Attachment{
		Color:    fmt.Sprintf("#%06X", colorFor(alert.Severity)),
		Title:    alert.Title,
		Text:     alert.Content,
		Footer:   fmt.Sprintf("aegis %s", alert.Kind),
		Fallback: alert.Title,
	}
	_, _, err := a.client.PostMessageContext(ctx, a.channelID,
		slack.MsgOptionText(fmt.Sprintf("*[%s]* %s", alert.Severity, alert.Title), false),
		slack.MsgOptionAttachments(attachment),
	)
	if err != nil {
		a.mu.Lock()
		a.lastError = err.Error()
		a.mu.Unlock()
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close is a no-op; the Web API client holds no connection.
func (a *SlackAdapter) Close() error {
	return nil
}

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
	}
	return s
}
