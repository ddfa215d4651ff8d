package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordDescriptionLimit is Discord's cap on embed descriptions.
const discordDescriptionLimit = 4096

// DiscordAdapter posts alerts to one Discord channel through the REST API.
type DiscordAdapter struct {
	token       string
	channelID   string
	session     *discordgo.Session
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord alert adapter.
func NewDiscordAdapter(token, channelID string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:     token,
		channelID: channelID,
		logger:    logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

// Connect creates the session and verifies the bot can see its channel.
func (a *DiscordAdapter) Connect(ctx context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}

	ch, err := session.Channel(a.channelID, discordgo.WithContext(ctx))
	if err != nil {
		a.setError(fmt.Sprintf("channel lookup: %v", err))
		return fmt.Errorf("discord channel %s: %w", a.channelID, err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	a.logger.Info("discord adapter connected", zap.String("channel", ch.Name))
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.lastError = msg
}

// Send posts alert as an embed.
func (a *DiscordAdapter) Send(ctx context.Context, alert *Alert) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord send: not connected")
	}

	embed := &discordgo.MessageEmbed{
		Title:       alert.Title,
		Description: truncate(alert.Content, discordDescriptionLimit),
		Color:       colorFor(alert.Severity),
		Footer:      &discordgo.MessageEmbedFooter{Text: "aegis " + alert.Kind},
	}
	if !alert.RaisedAt.IsZero() {
		embed.Timestamp = alert.RaisedAt.UTC().Format(time.RFC3339)
	}

	if _, err := session.ChannelMessageSendEmbed(a.channelID, embed, discordgo.WithContext(ctx)); err != nil {
		a.mu.Lock()
		a.lastError = err.Error()
		a.mu.Unlock()
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n-3], "") + "..."
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "discord", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
	}
	return s
}
