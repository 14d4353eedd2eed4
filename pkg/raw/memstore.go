package raw

import (
	"sync"
)

// MemStore is an in-memory Store. It is the reference backend for tests,
// including attack simulations that mutate physical bytes directly.
type MemStore struct {
	mu     sync.RWMutex
	blocks map[Key][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		blocks: make(map[Key][]byte),
	}
}

func (s *MemStore) TryCreate(key Key, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocks[key]; exists {
		return false, nil
	}
	s.blocks[key] = append([]byte(nil), data...)
	return true, nil
}

func (s *MemStore) Load(key Key) (Block, error) {
	s.mu.RLock()
	data, exists := s.blocks[key]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	return &memBlock{
		store: s,
		key:   key,
		data:  append([]byte(nil), data...),
	}, nil
}

func (s *MemStore) Remove(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blocks, key)
	return nil
}

func (s *MemStore) NumBlocks() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.blocks)), nil
}

func (s *MemStore) AllKeys() ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.blocks))
	for k := range s.blocks {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemStore) EstimateNumFreeBytes() (uint64, error) {
	// Memory-backed, no meaningful limit
	return 1 << 40, nil
}

type memBlock struct {
	store *MemStore
	key   Key
	data  []byte
}

func (b *memBlock) Key() Key {
	return b.key
}

func (b *memBlock) Size() uint64 {
	return uint64(len(b.data))
}

func (b *memBlock) Data() []byte {
	return b.data
}

func (b *memBlock) Write(offset uint64, p []byte) error {
	if offset+uint64(len(p)) > uint64(len(b.data)) {
		return ErrOutOfRange
	}
	copy(b.data[offset:], p)
	return nil
}

func (b *memBlock) Resize(newSize uint64) {
	if newSize <= uint64(len(b.data)) {
		b.data = b.data[:newSize]
		return
	}
	grown := make([]byte, newSize)
	copy(grown, b.data)
	b.data = grown
}

func (b *memBlock) Flush() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	b.store.blocks[b.key] = append([]byte(nil), b.data...)
	return nil
}

var _ Store = (*MemStore)(nil)
