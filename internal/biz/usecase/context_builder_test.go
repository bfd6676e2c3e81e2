package usecase

import (
	"strings"
	"testing"
	"time"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

func TestBuild_IncludesPersonaKnowledgeAndTurn(t *testing.T) {
	uc := NewContextBuilderUsecase(DefaultPromptConfig)

	msgs := uc.Build(&PromptInput{
		Config: &domain.BotConfig{
			TenantID:     "t1",
			BusinessName: "Locadora Sol",
			Tone:         domain.ToneFormal,
			Instructions: "Nunca ofereça descontos.",
		},
		Fragments: []domain.KnowledgeFragment{
			{Text: "Carro pequeno: R$ 120 por dia.", Score: 0.9},
		},
		Text: "quanto custa o carro pequeno",
	})

	if len(msgs) != 2 {
		t.Fatalf("Expected system + user, got %d messages", len(msgs))
	}
	system := msgs[0].Content
	for _, want := range []string{"Locadora Sol", "formal", "Nunca ofereça descontos.", "[1] Carro pequeno: R$ 120 por dia.", "needs_knowledge"} {
		if !strings.Contains(system, want) {
			t.Errorf("System prompt missing %q", want)
		}
	}
	if msgs[1].Role != "user" || msgs[1].Content != "quanto custa o carro pequeno" {
		t.Errorf("Unexpected current turn %+v", msgs[1])
	}
}

func TestBuild_NoKnowledgeNote(t *testing.T) {
	uc := NewContextBuilderUsecase(DefaultPromptConfig)
	msgs := uc.Build(&PromptInput{Config: domain.DefaultBotConfig("t1"), Text: "oi"})

	if !strings.Contains(msgs[0].Content, "nenhum trecho relevante") {
		t.Error("Expected the empty-knowledge note")
	}
}

func TestBuild_TruncatesHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	uc := NewContextBuilderUsecase(DefaultPromptConfig)

	var history []*domain.Message
	history = append(history, &domain.Message{SenderKind: domain.SenderUser, Content: "ancient", CreatedAt: now.Add(-48 * time.Hour)})
	for i := 0; i < 6; i++ {
		history = append(history, &domain.Message{
			SenderKind: domain.SenderUser,
			Content:    string(rune('a' + i)),
			CreatedAt:  now.Add(time.Duration(i-10) * time.Minute),
		})
	}
	history = append(history, &domain.Message{SenderKind: domain.SenderHuman, Content: "posso ajudar", CreatedAt: now.Add(-time.Minute)})

	cfg := domain.DefaultBotConfig("t1")
	cfg.HistoryWindow = 3
	msgs := uc.Build(&PromptInput{Config: cfg, History: history, Text: "ok", Now: now})

	// system + 3 history + current
	if len(msgs) != 5 {
		t.Fatalf("Expected 5 messages, got %d", len(msgs))
	}
	if msgs[1].Content != "e" || msgs[2].Content != "f" {
		t.Errorf("Expected the most recent history, got %q %q", msgs[1].Content, msgs[2].Content)
	}
	if msgs[3].Role != "assistant" || !strings.HasPrefix(msgs[3].Content, "[atendente]") {
		t.Errorf("Operator message should be an annotated assistant turn, got %+v", msgs[3])
	}
	for _, m := range msgs {
		if m.Content == "ancient" {
			t.Error("Messages outside the time window should be dropped")
		}
	}
}
