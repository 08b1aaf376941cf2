package llm

// Call tool names. These are the fixed tools offered to the model during a
// live call; the orchestrator executes them and feeds results back into the
// conversation.
const (
	ToolConfirmIdentity      = "confirm_identity"
	ToolRouteToAgent         = "route_to_agent"
	ToolCollectDigits        = "collect_digits"
	ToolCollectMultipleDigit = "collect_multiple_digits"
	ToolPlayDisclosure       = "play_disclosure"
	ToolEndCall              = "end_call"
)

// CallTools returns the fixed tool set offered to the model on every call
// turn. The returned slice is freshly allocated; callers may append
// deployment-specific tools.
func CallTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        ToolConfirmIdentity,
			Description: "Record that the caller confirmed or denied being the intended contact. Call this once, as soon as identity is established or ruled out.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"confirmed": map[string]any{
						"type":        "boolean",
						"description": "True if the caller confirmed they are the intended contact.",
					},
					"note": map[string]any{
						"type":        "string",
						"description": "Optional free-text detail, e.g. 'spouse answered'.",
					},
				},
				"required": []string{"confirmed"},
			},
		},
		{
			Name:        ToolRouteToAgent,
			Description: "Transfer the call to a human agent. Use when the caller asks for a person or the conversation exceeds what the assistant can handle.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Short reason for the transfer.",
					},
					"department": map[string]any{
						"type":        "string",
						"description": "Target department, if the caller named one.",
					},
				},
				"required": []string{"reason"},
			},
		},
		{
			Name:        ToolCollectDigits,
			Description: "Start a keypad digit collection from the caller. The system plays first_message, then captures DTMF input matching the requested type.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type": map[string]any{
						"type":        "string",
						"description": "What is being collected, e.g. verification, pin, ssn, dob, routing_number, account_number, card_number, cvv, card_expiry, zip, phone, amount, extension.",
					},
					"first_message": map[string]any{
						"type":        "string",
						"description": "The prompt spoken to the caller before collection starts.",
					},
					"timeout_seconds": map[string]any{
						"type":        "integer",
						"description": "Seconds to wait for input before a retry. Optional.",
					},
					"max_retries": map[string]any{
						"type":        "integer",
						"description": "Retry attempts after a failed entry. Optional.",
					},
					"min_digits": map[string]any{
						"type":        "integer",
						"description": "Minimum digit count override. Optional.",
					},
					"max_digits": map[string]any{
						"type":        "integer",
						"description": "Maximum digit count override. Optional.",
					},
				},
				"required": []string{"type", "first_message"},
			},
		},
		{
			Name:        ToolCollectMultipleDigit,
			Description: "Start a multi-step keypad collection, e.g. routing then account number. Steps run in order with one spoken intro.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"group": map[string]any{
						"type":        "string",
						"description": "Named step group: banking (routing + account) or card (card number, expiry, zip, cvv).",
					},
					"types": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Explicit ordered list of digit types. Overrides group when present.",
					},
					"first_message": map[string]any{
						"type":        "string",
						"description": "The prompt spoken before the first step.",
					},
				},
				"required": []string{"first_message"},
			},
		},
		{
			Name:        ToolPlayDisclosure,
			Description: "Play a mandated disclosure statement verbatim. Use before collecting regulated information.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "The disclosure text to speak verbatim.",
					},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        ToolEndCall,
			Description: "End the call politely. Use when the conversation is complete or the caller asks to stop.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{
						"type":        "string",
						"description": "Why the call is ending, e.g. completed, caller_requested, wrong_number.",
					},
				},
				"required": []string{"reason"},
			},
		},
	}
}
