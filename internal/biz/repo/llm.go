package repo

import (
	"context"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// ChatMessage is one prompt message
type ChatMessage struct {
	Role    string // system, user, assistant
	Content string
}

// CompletionRequest is a chat completion request
type CompletionRequest struct {
	Messages    []ChatMessage
	JSONMode    bool
	Temperature float32
	MaxTokens   int
}

// Completion is the model output
type Completion struct {
	Content string
	Model   string
	Usage   domain.TokenUsage
}

// LLMRepo is the language model interface
type LLMRepo interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}
