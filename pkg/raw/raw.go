// Package raw defines the contract of the underlying block storage backend
// and provides in-memory and on-disk implementations.
//
// The backend is assumed adversarial: anything reachable through this
// interface may be deleted, duplicated, or rolled back to a previously valid
// state by whoever controls the physical storage. Integrity enforcement
// happens a layer above, in pkg/store.
package raw

import (
	"errors"
)

var ErrOutOfRange = errors.New("write outside block bounds")

// Store is a key-addressed byte blob store.
type Store interface {
	// TryCreate stores data under key. Returns false, without modifying
	// anything, when a block with that key already exists.
	TryCreate(key Key, data []byte) (bool, error)

	// Load returns the block stored under key, or (nil, nil) when absent.
	Load(key Key) (Block, error)

	// Remove deletes the block stored under key. Removing an absent key is
	// not an error.
	Remove(key Key) error

	// NumBlocks returns the number of stored blocks.
	NumBlocks() (uint64, error)

	// AllKeys lists the keys of all stored blocks, in no particular order.
	AllKeys() ([]Key, error)

	// EstimateNumFreeBytes estimates the space available for new blocks.
	EstimateNumFreeBytes() (uint64, error)
}

// Block is a loaded physical block. Mutations through Write and Resize
// affect an in-memory copy; Flush persists it back to the backend.
type Block interface {
	// Key returns the key this block is stored under.
	Key() Key

	// Size returns the current physical size in bytes.
	Size() uint64

	// Data returns the block's bytes. The slice is owned by the block and
	// valid until the next Write, Resize or Flush.
	Data() []byte

	// Write copies p into the block at the given offset.
	Write(offset uint64, p []byte) error

	// Resize grows (zero-filled) or truncates the block.
	Resize(newSize uint64)

	// Flush persists the current contents to the backend.
	Flush() error
}
