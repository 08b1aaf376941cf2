package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/calloway-ai/switchboard/internal/digits"
	"github.com/calloway-ai/switchboard/internal/store"
	"github.com/calloway-ai/switchboard/pkg/provider/llm"
)

// Argument shapes for the model-facing tool set. Field names follow the
// schemas in [llm.CallTools].
type confirmIdentityArgs struct {
	Confirmed bool   `json:"confirmed"`
	Note      string `json:"note"`
}

type routeToAgentArgs struct {
	Reason     string `json:"reason"`
	Department string `json:"department"`
}

type collectDigitsArgs struct {
	Type           string `json:"type"`
	FirstMessage   string `json:"first_message"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxRetries     int    `json:"max_retries"`
	MinDigits      int    `json:"min_digits"`
	MaxDigits      int    `json:"max_digits"`
}

type collectMultipleArgs struct {
	Group        string   `json:"group"`
	Types        []string `json:"types"`
	FirstMessage string   `json:"first_message"`
}

type playDisclosureArgs struct {
	Text string `json:"text"`
}

type endCallArgs struct {
	Reason string `json:"reason"`
}

// handleToolCalls dispatches each requested tool in order and appends one
// tool-result message per call so the next turn sees the outcome.
func (s *Session) handleToolCalls(ctx context.Context, calls []llm.ToolCall) {
	for _, tc := range calls {
		result, err := s.dispatchTool(ctx, tc)
		if err != nil {
			slog.Warn("session: tool call failed",
				"call_id", s.cfg.CallID, "tool", tc.Name, "err", err)
			result = "error: " + err.Error()
		}
		if err := s.history.Append(ctx, llm.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: tc.ID,
		}); err != nil {
			slog.Warn("session: history append failed", "call_id", s.cfg.CallID, "err", err)
		}
		if s.Ending() {
			return
		}
	}
}

func (s *Session) dispatchTool(ctx context.Context, tc llm.ToolCall) (string, error) {
	switch tc.Name {
	case llm.ToolConfirmIdentity:
		var args confirmIdentityArgs
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return "", fmt.Errorf("session: %s arguments: %w", tc.Name, err)
		}
		return s.toolConfirmIdentity(args), nil

	case llm.ToolRouteToAgent:
		var args routeToAgentArgs
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return "", fmt.Errorf("session: %s arguments: %w", tc.Name, err)
		}
		return s.toolRouteToAgent(ctx, args), nil

	case llm.ToolCollectDigits:
		// Absent max_retries means the profile default, which the engine
		// spells as a negative value.
		args := collectDigitsArgs{MaxRetries: -1}
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return "", fmt.Errorf("session: %s arguments: %w", tc.Name, err)
		}
		return s.toolCollectDigits(ctx, args)

	case llm.ToolCollectMultipleDigit:
		var args collectMultipleArgs
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return "", fmt.Errorf("session: %s arguments: %w", tc.Name, err)
		}
		return s.toolCollectMultiple(ctx, args)

	case llm.ToolPlayDisclosure:
		var args playDisclosureArgs
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return "", fmt.Errorf("session: %s arguments: %w", tc.Name, err)
		}
		if args.Text == "" {
			return "", fmt.Errorf("session: %s needs text", tc.Name)
		}
		s.Say(args.Text)
		return "disclosure played", nil

	case llm.ToolEndCall:
		var args endCallArgs
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return "", fmt.Errorf("session: %s arguments: %w", tc.Name, err)
		}
		reason := args.Reason
		if reason == "" {
			reason = "completed"
		}
		s.End("assistant_"+reason, "")
		return "call ended", nil

	default:
		return "", fmt.Errorf("session: unknown tool %q", tc.Name)
	}
}

func (s *Session) toolConfirmIdentity(args confirmIdentityArgs) string {
	if s.cfg.Store != nil {
		s.cfg.Store.AppendEvent(s.ctx, store.CallEvent{
			CallID: s.cfg.CallID,
			Kind:   "identity_confirmed",
			Payload: map[string]any{
				"confirmed": args.Confirmed,
				"note":      args.Note,
			},
		})
	}
	if args.Confirmed {
		s.notifyEvent("Identity confirmed")
		return "identity confirmed"
	}
	s.notifyEvent("Identity denied")
	return "identity denied"
}

func (s *Session) toolRouteToAgent(ctx context.Context, args routeToAgentArgs) string {
	line := "Transferring to agent: " + args.Reason
	if args.Department != "" {
		line += " (" + args.Department + ")"
	}
	s.notifyEvent(line)
	s.RouteToAgent(ctx, s.cfg.CallID)
	return "transfer started"
}

func (s *Session) toolCollectDigits(ctx context.Context, args collectDigitsArgs) (string, error) {
	if args.Type == "" || args.FirstMessage == "" {
		return "", fmt.Errorf("session: collect_digits needs type and first_message")
	}
	params := digits.Params{
		Profile:        args.Type,
		Prompt:         args.FirstMessage,
		TimeoutSeconds: args.TimeoutSeconds,
		MaxRetries:     args.MaxRetries,
		MinDigits:      args.MinDigits,
		MaxDigits:      args.MaxDigits,
		MaskForLLM:     true,
	}
	if err := s.cfg.Engine.RequestCollection(ctx, s.cfg.CallID, params, false, ""); err != nil {
		return "", err
	}
	return "collection started", nil
}

func (s *Session) toolCollectMultiple(ctx context.Context, args collectMultipleArgs) (string, error) {
	if args.FirstMessage == "" {
		return "", fmt.Errorf("session: collect_multiple_digits needs first_message")
	}

	// An explicit type list overrides the named group.
	if len(args.Types) > 0 {
		steps := make([]digits.Params, 0, len(args.Types))
		for i, typ := range args.Types {
			step := digits.Params{
				Profile:    typ,
				MaxRetries: -1,
				MaskForLLM: true,
			}
			if i == 0 {
				step.Prompt = args.FirstMessage
			}
			steps = append(steps, step)
		}
		if err := s.cfg.Engine.RequestPlan(ctx, s.cfg.CallID, steps, false, ""); err != nil {
			return "", err
		}
		return "collection plan started", nil
	}

	params := digits.Params{
		Profile:    args.Group,
		Prompt:     args.FirstMessage,
		MaxRetries: -1,
		MaskForLLM: true,
	}
	if err := s.cfg.Engine.RequestCollection(ctx, s.cfg.CallID, params, false, ""); err != nil {
		return "", err
	}
	return "collection plan started", nil
}
