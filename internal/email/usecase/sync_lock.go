package usecase

import "sync"

// SyncLocker serializes syncs per account within this process
type SyncLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewSyncLocker creates an empty lock table
func NewSyncLocker() *SyncLocker {
	return &SyncLocker{held: make(map[string]struct{})}
}

// TryLock claims the account without blocking. The returned func releases it.
func (l *SyncLocker) TryLock(accountID string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[accountID]; busy {
		return nil, false
	}
	l.held[accountID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, accountID)
			l.mu.Unlock()
		})
	}, true
}
