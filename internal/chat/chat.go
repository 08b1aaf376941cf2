// Package chat defines the Adapter interface for the operator chat surface.
//
// The live console renders each call as a single chat message that is edited
// in place; operators act on the call through the message's inline buttons.
// Adapter abstracts the concrete chat backend (Discord in production, a mock
// in tests) so the renderer and the notification dispatcher never import a
// vendor SDK.
package chat

import "context"

// ButtonStyle selects the visual weight of an inline button.
type ButtonStyle string

const (
	StylePrimary   ButtonStyle = "primary"
	StyleSecondary ButtonStyle = "secondary"
	StyleDanger    ButtonStyle = "danger"
	StyleLink      ButtonStyle = "link"
)

// Button is one inline action button attached to a message.
type Button struct {
	// Label is the visible button text.
	Label string

	// ID is the callback identifier delivered in ButtonPress when the
	// operator clicks the button. Ignored for StyleLink.
	ID string

	// URL is the target for StyleLink buttons.
	URL string

	Style    ButtonStyle
	Disabled bool
}

// Message is the renderable content of one console bubble: text plus rows of
// inline buttons.
type Message struct {
	Text string

	// Buttons holds button rows, outer slice is rows top to bottom.
	Buttons [][]Button
}

// ButtonPress reports one operator click on an inline button.
type ButtonPress struct {
	// CallbackID identifies this press for AnswerCallback.
	CallbackID string

	// ChannelID and MessageID locate the bubble the press came from.
	ChannelID string
	MessageID string

	// ButtonID is the Button.ID that was clicked.
	ButtonID string

	// OperatorID identifies who clicked.
	OperatorID string
}

// PressHandler receives operator button presses. Handlers must return
// quickly; long work belongs on the session's own queue.
type PressHandler func(ctx context.Context, press ButtonPress)

// Adapter is the abstraction over any operator chat backend.
//
// Implementations must be safe for concurrent use.
type Adapter interface {
	// SendMessage posts a new message and returns its backend message id.
	SendMessage(ctx context.Context, channelID string, msg Message) (string, error)

	// EditMessage replaces the text and buttons of an existing message.
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error

	// AnswerCallback acknowledges a button press so the backend stops showing
	// a loading state. Must be called once per delivered ButtonPress.
	AnswerCallback(ctx context.Context, callbackID string) error

	// SetPressHandler registers the handler invoked for every button press.
	// Must be called before Open.
	SetPressHandler(h PressHandler)

	// Open connects to the backend and starts delivering button presses.
	Open(ctx context.Context) error

	// Close disconnects from the backend. Safe to call more than once.
	Close() error
}
