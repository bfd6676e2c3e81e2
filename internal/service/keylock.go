package service

import (
	"sync"

	"github.com/brunobiu/chatbotprincipal/internal/biz/domain"
)

// keyLocks hands out one mutex per conversation key.
// Entries are reference counted and removed when the last holder unlocks.
type keyLocks struct {
	mu    sync.Mutex
	locks map[domain.ConversationKey]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[domain.ConversationKey]*keyLock)}
}

// Lock blocks until key is held and returns its unlock func
func (l *keyLocks) Lock(key domain.ConversationKey) func() {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()

	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys held or waited on
func (l *keyLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
