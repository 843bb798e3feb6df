// Package generator turns an assembled context and a conversation history
// into a final answer by calling the configured chat model. Before the call,
// the raw history is validated into the shape the chat APIs require:
// non-empty turns, normalized roles, and a leading user turn.
package generator

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docqa/docqa-go/internal/prompt"
)

// Generator calls the chat model with a validated conversation. Only the
// Generate side of the model is needed, so any model.BaseChatModel works —
// tool binding is never used here.
type Generator struct {
	// chatModel is the LLM backend constructed by the provider factory.
	chatModel model.BaseChatModel
}

// New constructs a Generator for the given chat model.
func New(chatModel model.BaseChatModel) *Generator {
	return &Generator{chatModel: chatModel}
}

// ValidateHistory normalizes a raw conversation history into the form the
// chat APIs accept. It is a pure transform:
//
//   - turns with empty content are dropped
//   - roles are mapped onto the two allowed values (anything that is not a
//     user role becomes assistant)
//   - leading non-user turns are dropped until the history is empty or
//     starts with a user turn
//
// The result is terminal — validating an already validated history returns
// it unchanged.
func ValidateHistory(history []prompt.Turn) []prompt.Turn {
	validated := make([]prompt.Turn, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		validated = append(validated, prompt.Turn{
			Role:    normalizeRole(t.Role),
			Content: t.Content,
		})
	}

	for len(validated) > 0 && validated[0].Role != prompt.RoleUser {
		validated = validated[1:]
	}
	return validated
}

// normalizeRole maps arbitrary role labels onto the two allowed values.
func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case prompt.RoleUser, "human":
		return prompt.RoleUser
	default:
		return prompt.RoleAssistant
	}
}

// Generate validates the history, builds the message sequence (system block,
// prior turns, assembled user turn), and returns the model's raw answer text
// unmodified. Failures surface as *ServiceError with the kind preserved; no
// retry is attempted here.
func (g *Generator) Generate(ctx context.Context, assembled prompt.AssembledContext, history []prompt.Turn) (string, error) {
	validated := ValidateHistory(history)

	messages := make([]*schema.Message, 0, len(validated)+2)
	messages = append(messages, schema.SystemMessage(assembled.Instructions))
	for _, t := range validated {
		if t.Role == prompt.RoleUser {
			messages = append(messages, schema.UserMessage(t.Content))
		} else {
			messages = append(messages, schema.AssistantMessage(t.Content, nil))
		}
	}
	messages = append(messages, schema.UserMessage(assembled.UserMessage()))

	resp, err := g.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", &ServiceError{Kind: classify(err), Err: err}
	}
	if resp == nil {
		return "", &ServiceError{Kind: KindUnknown, Err: errNilResponse}
	}
	return resp.Content, nil
}

// errNilResponse guards against a backend returning no message and no error.
var errNilResponse = &nilResponseError{}

type nilResponseError struct{}

func (*nilResponseError) Error() string { return "chat model returned nil response" }
