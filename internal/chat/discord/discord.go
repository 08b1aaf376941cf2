// Package discord implements the chat.Adapter interface on top of Discord.
// It owns the discordgo.Session lifecycle, converts console messages into
// message-component rows, and routes button interactions back to the
// registered press handler.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/calloway-ai/switchboard/internal/chat"
)

// Config holds Discord adapter configuration.
type Config struct {
	// Token is the Discord bot token (without the "Bot " prefix).
	Token string

	// GuildID is the target guild. Button presses from other guilds are
	// ignored.
	GuildID string
}

// Adapter implements chat.Adapter backed by a Discord bot session.
type Adapter struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	guildID   string
	handler   chat.PressHandler
	opened    bool
	closeOnce sync.Once
}

// New creates an Adapter. The gateway connection is deferred to Open.
func New(cfg Config) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: token must not be empty")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsGuilds

	return &Adapter{session: session, guildID: cfg.GuildID}, nil
}

// SetPressHandler registers the handler invoked for button interactions.
func (a *Adapter) SetPressHandler(h chat.PressHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// Open connects to the Discord gateway and starts delivering button presses.
func (a *Adapter) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return nil
	}

	a.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(ctx, i)
	})

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	a.opened = true
	return nil
}

// Close disconnects from the gateway. Safe to call more than once.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		opened := a.opened
		a.opened = false
		a.mu.Unlock()
		if opened {
			err = a.session.Close()
		}
	})
	return err
}

// Healthy reports whether the gateway connection is up. Used by the
// readiness checker.
func (a *Adapter) Healthy(context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.opened {
		return errors.New("discord: gateway not connected")
	}
	return nil
}

// SendMessage posts a new message with component rows and returns its id.
func (a *Adapter) SendMessage(_ context.Context, channelID string, msg chat.Message) (string, error) {
	sent, err := a.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    msg.Text,
		Components: buildComponents(msg.Buttons),
	})
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return sent.ID, nil
}

// EditMessage replaces the text and buttons of an existing message.
func (a *Adapter) EditMessage(_ context.Context, channelID, messageID string, msg chat.Message) error {
	components := buildComponents(msg.Buttons)
	_, err := a.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    channelID,
		ID:         messageID,
		Content:    &msg.Text,
		Components: &components,
	})
	if err != nil {
		return fmt.Errorf("discord: edit message %s: %w", messageID, err)
	}
	return nil
}

// AnswerCallback acknowledges an interaction so Discord stops showing its
// loading state. The callback id is the interaction id and token joined by
// a colon.
func (a *Adapter) AnswerCallback(_ context.Context, callbackID string) error {
	id, token, ok := splitCallbackID(callbackID)
	if !ok {
		return fmt.Errorf("discord: malformed callback id %q", callbackID)
	}
	interaction := &discordgo.Interaction{ID: id, Token: token}
	err := a.session.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		return fmt.Errorf("discord: answer callback: %w", err)
	}
	return nil
}

// handleInteraction converts a component interaction into a ButtonPress and
// hands it to the registered handler.
func (a *Adapter) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	if a.guildID != "" && i.GuildID != a.guildID {
		return
	}

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler == nil {
		slog.Warn("discord: button press with no handler registered", "custom_id", i.MessageComponentData().CustomID)
		return
	}

	press := chat.ButtonPress{
		CallbackID: joinCallbackID(i.ID, i.Token),
		ChannelID:  i.ChannelID,
		ButtonID:   i.MessageComponentData().CustomID,
	}
	if i.Message != nil {
		press.MessageID = i.Message.ID
	}
	if i.Member != nil && i.Member.User != nil {
		press.OperatorID = i.Member.User.ID
	} else if i.User != nil {
		press.OperatorID = i.User.ID
	}

	handler(ctx, press)
}

// buildComponents converts button rows into Discord action rows. Discord
// caps each row at five buttons; overflow is dropped with a warning.
func buildComponents(rows [][]chat.Button) []discordgo.MessageComponent {
	components := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if len(row) > 5 {
			slog.Warn("discord: button row exceeds limit, truncating", "buttons", len(row))
			row = row[:5]
		}
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, discordgo.Button{
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
				CustomID: componentCustomID(b),
				URL:      b.URL,
				Disabled: b.Disabled,
			})
		}
		components = append(components, discordgo.ActionsRow{Components: buttons})
	}
	return components
}

// componentCustomID returns the custom id for a button, empty for links
// (Discord rejects link buttons that carry one).
func componentCustomID(b chat.Button) string {
	if b.Style == chat.StyleLink {
		return ""
	}
	return b.ID
}

// buttonStyle maps the adapter-neutral style onto Discord's.
func buttonStyle(s chat.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case chat.StylePrimary:
		return discordgo.PrimaryButton
	case chat.StyleDanger:
		return discordgo.DangerButton
	case chat.StyleLink:
		return discordgo.LinkButton
	default:
		return discordgo.SecondaryButton
	}
}

func joinCallbackID(id, token string) string {
	return id + ":" + token
}

func splitCallbackID(callbackID string) (id, token string, ok bool) {
	for i := 0; i < len(callbackID); i++ {
		if callbackID[i] == ':' {
			return callbackID[:i], callbackID[i+1:], i > 0 && i < len(callbackID)-1
		}
	}
	return "", "", false
}

// Ensure Adapter implements chat.Adapter at compile time.
var _ chat.Adapter = (*Adapter)(nil)
