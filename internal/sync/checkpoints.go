package sync

import (
	"context"
	gosync "sync"
	"time"
)

// MemoryCheckpoints is a Checkpoints store that forgets everything on exit.
type MemoryCheckpoints struct {
	mu   gosync.Mutex
	done map[string]time.Time
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{done: make(map[string]time.Time)}
}

func checkpointID(remote, localRoot, fingerprint string) string {
	return remote + "\x00" + localRoot + "\x00" + fingerprint
}

func (m *MemoryCheckpoints) HasCompleted(_ context.Context, remote, localRoot, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.done[checkpointID(remote, localRoot, fingerprint)]
	return ok, nil
}

func (m *MemoryCheckpoints) MarkCompleted(_ context.Context, remote, localRoot, fingerprint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[checkpointID(remote, localRoot, fingerprint)] = at
	return nil
}
