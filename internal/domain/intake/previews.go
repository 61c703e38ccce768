package intake

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanwahyu/defect-inspector/internal/domain/inspection"
)

// Preview is the displayable payload behind a handle.
type Preview struct {
	MIMEType string
	Data     []byte
}

// MemoryPreviews keeps preview payloads in memory, keyed by a random handle.
// It is shared by all sessions and safe for concurrent use.
type MemoryPreviews struct {
	mu    sync.RWMutex
	items map[string]Preview
}

func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{items: make(map[string]Preview)}
}

func (m *MemoryPreviews) Acquire(img inspection.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.New("empty image payload")
	}
	h := uuid.NewString()
	m.mu.Lock()
	m.items[h] = Preview{MIMEType: img.MIMEType, Data: img.Data}
	m.mu.Unlock()
	return h, nil
}

func (m *MemoryPreviews) Release(handle string) {
	m.mu.Lock()
	delete(m.items, handle)
	m.mu.Unlock()
}

// Get looks up a live preview.
func (m *MemoryPreviews) Get(handle string) (Preview, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.items[handle]
	return p, ok
}

// Len reports the number of live previews.
func (m *MemoryPreviews) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
