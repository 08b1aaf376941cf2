// Package mock provides a test double for the chat.Adapter interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/calloway-ai/switchboard/internal/chat"
)

// SendMessageCall records a single invocation of SendMessage.
type SendMessageCall struct {
	ChannelID string
	Msg       chat.Message
}

// EditMessageCall records a single invocation of EditMessage.
type EditMessageCall struct {
	ChannelID string
	MessageID string
	Msg       chat.Message
}

// Adapter is a mock implementation of chat.Adapter.
type Adapter struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SendMessageID is the id returned by SendMessage. Empty generates
	// sequential ids ("msg-1", "msg-2", ...).
	SendMessageID string

	// SendMessageErr, if non-nil, is returned as the error from SendMessage.
	SendMessageErr error

	// EditMessageErr, if non-nil, is returned as the error from EditMessage.
	EditMessageErr error

	// AnswerCallbackErr, if non-nil, is returned from AnswerCallback.
	AnswerCallbackErr error

	// --- Call records ---

	SendMessageCalls    []SendMessageCall
	EditMessageCalls    []EditMessageCall
	AnswerCallbackCalls []string
	OpenCallCount       int
	CloseCallCount      int

	handler chat.PressHandler
}

// SendMessage records the call and returns SendMessageID or a generated id.
func (a *Adapter) SendMessage(_ context.Context, channelID string, msg chat.Message) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SendMessageCalls = append(a.SendMessageCalls, SendMessageCall{ChannelID: channelID, Msg: msg})
	if a.SendMessageErr != nil {
		return "", a.SendMessageErr
	}
	if a.SendMessageID != "" {
		return a.SendMessageID, nil
	}
	return fmt.Sprintf("msg-%d", len(a.SendMessageCalls)), nil
}

// EditMessage records the call and returns EditMessageErr.
func (a *Adapter) EditMessage(_ context.Context, channelID, messageID string, msg chat.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.EditMessageCalls = append(a.EditMessageCalls, EditMessageCall{ChannelID: channelID, MessageID: messageID, Msg: msg})
	return a.EditMessageErr
}

// AnswerCallback records the call and returns AnswerCallbackErr.
func (a *Adapter) AnswerCallback(_ context.Context, callbackID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AnswerCallbackCalls = append(a.AnswerCallbackCalls, callbackID)
	return a.AnswerCallbackErr
}

// SetPressHandler stores the handler for Press to invoke.
func (a *Adapter) SetPressHandler(h chat.PressHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

// Open records the call.
func (a *Adapter) Open(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.OpenCallCount++
	return nil
}

// Close records the call.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CloseCallCount++
	return nil
}

// Press simulates an operator button press by invoking the registered
// handler synchronously.
func (a *Adapter) Press(ctx context.Context, press chat.ButtonPress) {
	a.mu.Lock()
	handler := a.handler
	a.mu.Unlock()
	if handler != nil {
		handler(ctx, press)
	}
}

// LastEdit returns the most recent EditMessage call, or false if none.
func (a *Adapter) LastEdit() (EditMessageCall, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.EditMessageCalls) == 0 {
		return EditMessageCall{}, false
	}
	return a.EditMessageCalls[len(a.EditMessageCalls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SendMessageCalls = nil
	a.EditMessageCalls = nil
	a.AnswerCallbackCalls = nil
	a.OpenCallCount = 0
	a.CloseCallCount = 0
}

// Ensure Adapter implements chat.Adapter at compile time.
var _ chat.Adapter = (*Adapter)(nil)
