package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// GenerateRequest is one generation call
type GenerateRequest struct {
	Config    *domain.BotConfig
	Fragments []domain.KnowledgeFragment
	History   []*domain.Message
	Text      string
	Now       time.Time

	// RetrievalFailed marks a turn whose knowledge lookup errored
	RetrievalFailed bool
}

// Response is a generated answer with its calibrated confidence
type Response struct {
	Answer         string
	Confidence     float64
	NeedsKnowledge bool
	Model          string
	Usage          domain.TokenUsage
}

// modelAnswer is the JSON contract the model is asked to follow
type modelAnswer struct {
	Answer         string   `json:"answer"`
	Certainty      *float64 `json:"certainty"`
	NeedsKnowledge *bool    `json:"needs_knowledge"`
}

// ResponseUsecase generates answers and scores them
type ResponseUsecase struct {
	llm     repo.LLMRepo
	builder *ContextBuilderUsecase
	policy  ConfidencePolicy
}

// NewResponseUsecase creates a new response usecase
func NewResponseUsecase(llm repo.LLMRepo, builder *ContextBuilderUsecase, policy ConfidencePolicy) *ResponseUsecase {
	if policy == nil {
		policy = DefaultBlendedConfidence()
	}
	return &ResponseUsecase{llm: llm, builder: builder, policy: policy}
}

// Generate produces an answer for the turn. Any failure is a GenerationFailed error;
// when the model did answer, the returned Response still carries its token usage.
func (uc *ResponseUsecase) Generate(ctx context.Context, req *GenerateRequest) (*Response, error) {
	messages := uc.builder.Build(&PromptInput{
		Config:    req.Config,
		Fragments: req.Fragments,
		History:   req.History,
		Text:      req.Text,
		Now:       req.Now,
	})

	completion, err := uc.llm.Complete(ctx, &repo.CompletionRequest{
		Messages:    messages,
		JSONMode:    true,
		Temperature: 0.3,
		MaxTokens:   600,
	})
	if err != nil {
		return nil, domain.NewError(domain.KindGenerationFailed, "generate", err)
	}

	answer, parsed := parseModelAnswer(completion.Content)
	if strings.TrimSpace(answer.Answer) == "" {
		// The tokens were spent, so usage comes back with the error
		failed := &Response{Model: completion.Model, Usage: completion.Usage}
		return failed, domain.NewError(domain.KindGenerationFailed, "generate", fmt.Errorf("empty answer"))
	}

	in := ConfidenceInput{
		Fragments:       req.Fragments,
		Parsed:          parsed,
		NeedsKnowledge:  true,
		RetrievalFailed: req.RetrievalFailed,
	}
	if answer.Certainty != nil {
		in.ModelCertainty = *answer.Certainty
	} else {
		in.Parsed = false
	}
	if answer.NeedsKnowledge != nil {
		in.NeedsKnowledge = *answer.NeedsKnowledge
	}

	return &Response{
		Answer:         strings.TrimSpace(answer.Answer),
		Confidence:     uc.policy.Score(in),
		NeedsKnowledge: in.NeedsKnowledge,
		Model:          completion.Model,
		Usage:          completion.Usage,
	}, nil
}

// parseModelAnswer decodes the JSON answer, tolerating code fences and
// repairable syntax such as trailing commas or a truncated closing brace.
// Output that does not follow the contract is used verbatim and reported as unparsed.
func parseModelAnswer(content string) (modelAnswer, bool) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	if start < 0 {
		return modelAnswer{Answer: strings.TrimSpace(content)}, false
	}
	candidate := raw[start:]
	if end := strings.LastIndex(candidate, "}"); end > 0 {
		var a modelAnswer
		if err := json.Unmarshal([]byte(candidate[:end+1]), &a); err == nil {
			return a, a.Answer != ""
		}
	}

	if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
		var a modelAnswer
		if err := json.Unmarshal([]byte(repaired), &a); err == nil {
			return a, a.Answer != ""
		}
	}
	return modelAnswer{Answer: strings.TrimSpace(content)}, false
}
