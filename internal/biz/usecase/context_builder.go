package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"
)

// PromptConfig contains prompt configuration
type PromptConfig struct {
	SystemTemplate  string // Supports {{business_name}}, {{tone}}, {{instructions}}
	KnowledgeHeader string
	NoKnowledgeNote string
	AnswerFormat    string // Instructs the JSON answer contract
	ToneGuides      map[domain.Tone]string

	// History message truncation config
	MaxHistoryCount   int // Max history messages to keep (0 = no limit)
	MaxHistoryMinutes int // Max minutes of history to keep (0 = no limit)
	MaxFragmentChars  int // Truncate each knowledge fragment (0 = no limit)
}

// DefaultPromptConfig contains default prompt configuration
var DefaultPromptConfig = PromptConfig{
	SystemTemplate: `Você é o assistente virtual de {{business_name}} no WhatsApp.
Responda como um atendente humano da empresa. Tom: {{tone}}.

Regras:
1. Use apenas as informações da base de conhecimento abaixo para fatos sobre a empresa (preços, produtos, horários, políticas).
2. Se a informação não estiver na base, não invente: diga que vai verificar.
3. Mensagens curtas, sem markdown.

{{instructions}}`,
	KnowledgeHeader: "## Base de conhecimento",
	NoKnowledgeNote: "## Base de conhecimento\n(nenhum trecho relevante encontrado)",
	AnswerFormat: `Responda SOMENTE com um objeto JSON:
{"answer": "<mensagem para o cliente>", "certainty": <0.0 a 1.0, quão seguro você está de que a resposta está correta e completa>, "needs_knowledge": <true se a pergunta depende de informações da empresa>}`,
	ToneGuides: map[domain.Tone]string{
		domain.ToneFriendly:     "amigável e acolhedor",
		domain.ToneProfessional: "profissional e objetivo",
		domain.ToneCasual:       "descontraído",
		domain.ToneFormal:       "formal",
	},
	MaxHistoryCount:   10,
	MaxHistoryMinutes: 24 * 60,
	MaxFragmentChars:  1200,
}

// ContextBuilderUsecase assembles the generation prompt
type ContextBuilderUsecase struct {
	cfg PromptConfig
}

// NewContextBuilderUsecase creates a new context builder usecase
func NewContextBuilderUsecase(cfg PromptConfig) *ContextBuilderUsecase {
	return &ContextBuilderUsecase{cfg: cfg}
}

// PromptInput is everything the prompt is built from
type PromptInput struct {
	Config    *domain.BotConfig
	Fragments []domain.KnowledgeFragment
	History   []*domain.Message // Chronological, excluding the current turn
	Text      string
	Now       time.Time
}

// Build builds the chat messages for one turn
func (uc *ContextBuilderUsecase) Build(in *PromptInput) []repo.ChatMessage {
	var parts []string

	// 1. System prompt with tenant persona
	parts = append(parts, uc.formatSystem(in.Config))

	// 2. Knowledge
	parts = append(parts, uc.formatKnowledge(in.Fragments))

	// 3. Answer contract
	if uc.cfg.AnswerFormat != "" {
		parts = append(parts, uc.cfg.AnswerFormat)
	}

	messages := []repo.ChatMessage{{
		Role:    "system",
		Content: strings.Join(parts, "\n\n---\n\n"),
	}}

	// 4. History messages (apply truncation strategy)
	limit := uc.cfg.MaxHistoryCount
	if in.Config != nil {
		limit = in.Config.History()
	}
	for _, m := range uc.truncateHistory(in.History, limit, in.Now) {
		content := m.Content
		if m.SenderKind == domain.SenderHuman {
			content = "[atendente] " + content
		}
		messages = append(messages, repo.ChatMessage{Role: m.Role(), Content: content})
	}

	// 5. Current turn
	messages = append(messages, repo.ChatMessage{Role: "user", Content: in.Text})
	return messages
}

func (uc *ContextBuilderUsecase) formatSystem(cfg *domain.BotConfig) string {
	if cfg == nil {
		cfg = domain.DefaultBotConfig("")
	}

	name := cfg.BusinessName
	if name == "" {
		name = "nossa empresa"
	}
	tone := uc.cfg.ToneGuides[cfg.Tone]
	if tone == "" {
		tone = uc.cfg.ToneGuides[domain.ToneFriendly]
	}

	result := strings.ReplaceAll(uc.cfg.SystemTemplate, "{{business_name}}", name)
	result = strings.ReplaceAll(result, "{{tone}}", tone)
	result = strings.ReplaceAll(result, "{{instructions}}", cfg.Instructions)
	return strings.TrimSpace(result)
}

func (uc *ContextBuilderUsecase) formatKnowledge(fragments []domain.KnowledgeFragment) string {
	if len(fragments) == 0 {
		return uc.cfg.NoKnowledgeNote
	}

	var sb strings.Builder
	sb.WriteString(uc.cfg.KnowledgeHeader)
	sb.WriteString("\n")
	for i, f := range fragments {
		text := f.Text
		if uc.cfg.MaxFragmentChars > 0 && len([]rune(text)) > uc.cfg.MaxFragmentChars {
			text = string([]rune(text)[:uc.cfg.MaxFragmentChars]) + "..."
		}
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, text))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// truncateHistory keeps the last limit messages, dropping those older than the time window
func (uc *ContextBuilderUsecase) truncateHistory(messages []*domain.Message, limit int, now time.Time) []*domain.Message {
	if len(messages) == 0 {
		return messages
	}

	if uc.cfg.MaxHistoryMinutes > 0 && !now.IsZero() {
		cutoff := now.Add(-time.Duration(uc.cfg.MaxHistoryMinutes) * time.Minute)
		start := len(messages)
		for i, m := range messages {
			if m.IsAfter(cutoff) {
				start = i
				break
			}
		}
		messages = messages[start:]
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages
}
