package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

func TestReclaimer_ReturnsIdleThreads(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.llm.set(`{"answer":"Olá!","certainty":0.95,"needs_knowledge":false}`, nil)
	h.say(t, "5511999990020", "oi")
	_, err := h.orch.Takeover(ctx, "locadora-sol", "5511999990020")
	require.NoError(t, err)
	_, err = h.orch.HumanReplied(ctx, "locadora-sol", "5511999990020", "Olá, aqui é o Rui.")
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	r := NewReclaimer(h.orch, 5*time.Millisecond, zerolog.Nop())
	r.Start(ctx)
	defer r.Stop()

	assert.Eventually(t, func() bool {
		conv, err := h.uc.Conversation.Get(ctx, domain.ConversationKey{TenantID: "locadora-sol", EndUserID: "5511999990020"})
		return err == nil && conv != nil && conv.State == domain.StateAIActive
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReclaimer_StopIsIdempotentBeforeStart(t *testing.T) {
	r := NewReclaimer(nil, 0, zerolog.Nop())
	assert.Equal(t, time.Minute, r.interval)
	r.Stop()
}
