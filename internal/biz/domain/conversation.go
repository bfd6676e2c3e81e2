package domain

import (
	"errors"
	"fmt"
	"time"
)

// ConversationState is the escalation state of a conversation
type ConversationState string

const (
	StateAIActive       ConversationState = "AI_ACTIVE"
	StateAwaitingHuman  ConversationState = "AWAITING_HUMAN"
	StateHumanResponded ConversationState = "HUMAN_RESPONDED"
)

// Valid reports whether s is a known state
func (s ConversationState) Valid() bool {
	switch s {
	case StateAIActive, StateAwaitingHuman, StateHumanResponded:
		return true
	}
	return false
}

// Event drives a state transition
type Event string

const (
	EventLowConfidence    Event = "low_confidence"
	EventGenerationFailed Event = "generation_failed"
	EventHumanReplied     Event = "human_replied"
	EventHumanInactive    Event = "human_inactive"
	EventOperatorRelease  Event = "operator_release"
	EventOperatorTakeover Event = "operator_takeover"
)

// ErrIllegalTransition is returned when an event is not allowed in the current state.
// The conversation is left untouched.
var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionError carries the rejected (state, event) pair
type TransitionError struct {
	State ConversationState
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s on %s", ErrIllegalTransition, e.Event, e.State)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// Conversation is the aggregate root for one end user of one tenant
type Conversation struct {
	TenantID       string
	EndUserID      string
	State          ConversationState
	CreatedAt      time.Time
	LastMessageAt  time.Time
	StateChangedAt time.Time
	LastHumanAt    time.Time // Last operator reply, zero if never
}

// NewConversation creates a conversation in the initial AI_ACTIVE state
func NewConversation(tenantID, endUserID string, now time.Time) *Conversation {
	return &Conversation{
		TenantID:       tenantID,
		EndUserID:      endUserID,
		State:          StateAIActive,
		CreatedAt:      now,
		LastMessageAt:  now,
		StateChangedAt: now,
	}
}

// Key returns the conversation key
func (c *Conversation) Key() ConversationKey {
	return ConversationKey{TenantID: c.TenantID, EndUserID: c.EndUserID}
}

// AIActive reports whether the AI is allowed to answer
func (c *Conversation) AIActive() bool {
	return c.State == StateAIActive
}

// Fire applies an event at time now.
// On an illegal event the conversation is left unchanged and a *TransitionError is returned.
func (c *Conversation) Fire(ev Event, now time.Time) error {
	next, ok := transition(c.State, ev)
	if !ok {
		return &TransitionError{State: c.State, Event: ev}
	}

	if ev == EventHumanReplied {
		c.LastHumanAt = now
	}
	if next != c.State {
		c.State = next
		c.StateChangedAt = now
	}
	return nil
}

// InactiveSince reports whether the human operator has been silent for at least d
func (c *Conversation) InactiveSince(now time.Time, d time.Duration) bool {
	if c.State != StateHumanResponded {
		return false
	}
	last := c.LastHumanAt
	if last.IsZero() {
		last = c.StateChangedAt
	}
	return now.Sub(last) >= d
}

// Touch records inbound activity
func (c *Conversation) Touch(now time.Time) {
	if now.After(c.LastMessageAt) {
		c.LastMessageAt = now
	}
}

func transition(from ConversationState, ev Event) (ConversationState, bool) {
	switch from {
	case StateAIActive:
		switch ev {
		case EventLowConfidence, EventGenerationFailed, EventOperatorTakeover:
			return StateAwaitingHuman, true
		}
	case StateAwaitingHuman:
		switch ev {
		case EventHumanReplied:
			return StateHumanResponded, true
		case EventOperatorRelease:
			return StateAIActive, true
		}
	case StateHumanResponded:
		switch ev {
		case EventHumanReplied:
			return StateHumanResponded, true
		case EventHumanInactive, EventOperatorRelease:
			return StateAIActive, true
		}
	}
	return from, false
}

// ConversationKey identifies a conversation
type ConversationKey struct {
	TenantID  string
	EndUserID string
}

func (k ConversationKey) String() string {
	return k.TenantID + "/" + k.EndUserID
}
