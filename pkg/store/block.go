package store

import (
	"github.com/LatchDB/latch/pkg/header"
	"github.com/LatchDB/latch/pkg/raw"
	"github.com/LatchDB/latch/pkg/stats"
)

// Block is a validated block's virtual view: the caller-visible data region
// behind the integrity header. All offsets are virtual; the header offset is
// applied internally. Mutations are buffered until Flush.
type Block struct {
	store *Store
	raw   raw.Block
	dirty bool
}

// Key returns the block's key.
func (b *Block) Key() raw.Key {
	return b.raw.Key()
}

// VirtualSize returns the caller-visible size.
func (b *Block) VirtualSize() uint64 {
	return header.VirtualSize(b.raw.Size())
}

// Read returns the virtual data. The slice is valid until the next Write,
// Resize or Flush.
func (b *Block) Read() []byte {
	return b.raw.Data()[header.HeaderSize:]
}

// Write copies p into the virtual region at the given offset.
func (b *Block) Write(offset uint64, p []byte) error {
	if err := b.raw.Write(header.HeaderSize+offset, p); err != nil {
		return err
	}
	b.dirty = true
	return nil
}

// Resize grows (zero-filled) or truncates the virtual region.
func (b *Block) Resize(newVirtualSize uint64) {
	b.raw.Resize(header.PhysicalSize(newVirtualSize))
	b.dirty = true
}

// Flush persists pending mutations. The header is re-stamped with this
// node's client id and a fresh version from the ledger, so every local
// modification takes ownership and strictly increases this node's counter,
// regardless of who wrote the block last. Flushing a clean block is a
// no-op.
func (b *Block) Flush() error {
	if !b.dirty {
		return nil
	}

	b.store.collector.TrackOperation(stats.OpFlush)

	// Ledger first: the new minimum acceptable version must be durable
	// before the physical write can be observed.
	version, err := b.store.ledger.NextOwnVersion(b.raw.Key())
	if err != nil {
		return err
	}
	if err := header.Stamp(b.raw.Data(), b.store.ledger.OwnClientID(), version); err != nil {
		return err
	}

	if err := b.raw.Flush(); err != nil {
		return err
	}

	b.store.collector.TrackBytes(true, b.raw.Size())
	b.dirty = false
	return nil
}
