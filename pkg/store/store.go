// Package store implements the version counting block store: a façade over
// an untrusted raw backend that stamps every block with this node's client
// id and a strictly increasing version number, and validates every load
// against the durable version ledger.
//
// A block whose version the ledger rejects is reported as absent, exactly
// like a block that was never stored. Collapsing the two cases denies an
// attacker an oracle for probing how close a forged version was to being
// accepted.
package store

import (
	"errors"
	"fmt"

	"github.com/LatchDB/latch/pkg/common/log"
	"github.com/LatchDB/latch/pkg/header"
	"github.com/LatchDB/latch/pkg/ledger"
	"github.com/LatchDB/latch/pkg/raw"
	"github.com/LatchDB/latch/pkg/stats"
)

// ErrCorruptedHeader reports a block whose header could not be decoded.
// Unlike a rejected version this is surfaced distinctly: it indicates
// malformed storage, not a plausible replay of old valid bytes. Integrators
// that prefer the anti-oracle fold can map it to absence at their boundary.
var ErrCorruptedHeader = errors.New("corrupted block header")

// Store is the version counting block store.
type Store struct {
	base      raw.Store
	ledger    *ledger.Ledger
	collector *stats.AtomicCollector
	logger    log.Logger
}

// New wraps the given raw backend with version counting backed by the
// given ledger.
func New(base raw.Store, l *ledger.Ledger) *Store {
	return &Store{
		base:      base,
		ledger:    l,
		collector: stats.NewCollector(),
		logger:    log.GetDefaultLogger().WithField("component", "store"),
	}
}

// Create stores a new block with the given virtual data under a fresh key
// and returns the key. The version is reserved in the ledger before the
// physical write, so a crash in between can lose the block but never lower
// the minimum acceptable version.
func (s *Store) Create(data []byte) (raw.Key, error) {
	s.collector.TrackOperation(stats.OpCreate)

	for {
		key := raw.NewRandomKey()

		version, err := s.ledger.NextOwnVersion(key)
		if err != nil {
			return raw.Key{}, err
		}

		physical := make([]byte, 0, header.PhysicalSize(uint64(len(data))))
		physical = append(physical, header.Encode(s.ledger.OwnClientID(), version)...)
		physical = append(physical, data...)

		created, err := s.base.TryCreate(key, physical)
		if err != nil {
			return raw.Key{}, fmt.Errorf("failed to create block: %w", err)
		}
		if created {
			s.collector.TrackBytes(true, uint64(len(physical)))
			return key, nil
		}
		// Key collision in the backend; the reserved version for the
		// abandoned key stays in the ledger, which is harmless.
	}
}

// Load returns the block stored under key, or (nil, nil) when the block is
// absent or its version was rejected by the ledger. The two cases are
// deliberately indistinguishable. An undecodable header returns an error
// wrapping ErrCorruptedHeader.
func (s *Store) Load(key raw.Key) (*Block, error) {
	s.collector.TrackOperation(stats.OpLoad)

	rawBlock, err := s.base.Load(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load block: %w", err)
	}
	if rawBlock == nil {
		return nil, nil
	}

	h, err := header.Decode(rawBlock.Data())
	if err != nil {
		s.collector.TrackError(stats.ErrCorruptHeader)
		s.logger.Warn("block %s has an undecodable header: %v", key, err)
		return nil, fmt.Errorf("block %s: %w: %v", key, ErrCorruptedHeader, err)
	}

	accepted, err := s.ledger.TryAccept(key, h.ClientID, h.Version)
	if err != nil {
		return nil, err
	}
	if !accepted {
		s.collector.TrackError(stats.ErrRollbackRejected)
		s.logger.Warn("rejected version %d from client %d for block %s", h.Version, h.ClientID, key)
		return nil, nil
	}

	s.collector.TrackBytes(false, rawBlock.Size())
	return &Block{store: s, raw: rawBlock}, nil
}

// Remove deletes the physical block from the backend. The key is marked
// deleted in the ledger first: version maxima for it are kept forever and
// the mark closes the re-read path, so reintroducing the deleted block's
// exact bytes later is still rejected. Marking before the physical delete
// means a crash in between leaves an unloadable block, never a loadable
// ghost.
func (s *Store) Remove(key raw.Key) error {
	s.collector.TrackOperation(stats.OpRemove)

	if err := s.ledger.MarkDeleted(key); err != nil {
		return err
	}
	if err := s.base.Remove(key); err != nil {
		return fmt.Errorf("failed to remove block: %w", err)
	}
	return nil
}

// BlockSizeFromPhysicalBlockSize maps an observed physical block size to
// the caller-visible size.
func (s *Store) BlockSizeFromPhysicalBlockSize(physicalSize uint64) uint64 {
	return header.VirtualSize(physicalSize)
}

// NumBlocks returns the number of blocks in the backend.
func (s *Store) NumBlocks() (uint64, error) {
	return s.base.NumBlocks()
}

// AllKeys lists the keys of all blocks in the backend. Keys are reported
// as stored; loading each one is what validates it.
func (s *Store) AllKeys() ([]raw.Key, error) {
	return s.base.AllKeys()
}

// EstimateNumFreeBytes estimates the virtual space available for new
// blocks.
func (s *Store) EstimateNumFreeBytes() (uint64, error) {
	return s.base.EstimateNumFreeBytes()
}

// Stats returns operation and integrity counters.
func (s *Store) Stats() map[string]interface{} {
	return s.collector.GetStats()
}
