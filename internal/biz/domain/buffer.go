package domain

import (
	"strings"
	"time"
)

// Turn is one debounced burst of user fragments
type Turn struct {
	ID        string
	TenantID  string
	EndUserID string
	Fragments []string
	FirstAt   time.Time
	LastAt    time.Time
}

// Text joins the fragments with single spaces in arrival order
func (t *Turn) Text() string {
	return strings.Join(t.Fragments, " ")
}

// FragmentCount returns how many fragments the turn contains
func (t *Turn) FragmentCount() int {
	return len(t.Fragments)
}

// Key returns the conversation key of the turn
func (t *Turn) Key() ConversationKey {
	return ConversationKey{TenantID: t.TenantID, EndUserID: t.EndUserID}
}

// DroppedTurn records a turn whose persistence failed after all retries
type DroppedTurn struct {
	TurnID    string
	TenantID  string
	EndUserID string
	Text      string
	Reply     string
	Reason    string
	DroppedAt time.Time
}

// BufferStats is a snapshot of the debounce buffer
type BufferStats struct {
	PendingKeys      int
	PendingFragments int
	InFlight         int
}
