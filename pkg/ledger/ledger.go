// Package ledger implements the durable version ledger: this node's
// locally-trusted record of the highest version number ever witnessed per
// (block key, client id) pair, plus the identity of each key's last
// accepted updater.
//
// The ledger is the trust anchor of the whole design. It lives in storage
// exclusive to this node, its recorded maxima never decrease, and its
// entries are never deleted, so a block that was removed from the untrusted
// backend still has its history held against any reintroduced bytes.
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/LatchDB/latch/pkg/common/log"
	"github.com/LatchDB/latch/pkg/config"
	"github.com/LatchDB/latch/pkg/raw"
)

const (
	logFileName      = "ledger.log"
	snapshotFileName = "ledger.snapshot"

	// numShards bounds lock contention between unrelated keys. All state
	// for one key (every client's maximum and the last-updater mark)
	// lives in a single shard, so check-and-update is serialized per key;
	// keys in different shards never block each other outside the shared
	// log append.
	numShards = 16
)

var ErrLedgerClosed = errors.New("ledger is closed")

// pairKey identifies one (block key, writer) history.
type pairKey struct {
	key      raw.Key
	clientID uint32
}

// lastUpdate records who produced the key's current content. A version
// equal to the recorded maximum is acceptable only from this client: that
// is an idempotent re-read, not a replay. The deleted mark closes that
// path once the block has been removed.
type lastUpdate struct {
	clientID uint32
	deleted  bool
}

// ledgerState is the recovered in-memory form of the persisted ledger.
type ledgerState struct {
	versions map[pairKey]uint64
	updaters map[raw.Key]lastUpdate
}

type shard struct {
	mu       sync.Mutex
	versions map[pairKey]uint64
	updaters map[raw.Key]lastUpdate
}

// Ledger is the persisted map from (key, client id) to the maximum version
// number accepted for that pair.
type Ledger struct {
	cfg         *config.Config
	ownClientID uint32
	codec       byte

	shards [numShards]*shard

	// logMu serializes log appends and compaction. It is always acquired
	// after any shard locks, never before.
	logMu sync.Mutex
	log   *appendLog

	comp   *compressor
	logger log.Logger
	closed int32
}

// Open recovers the ledger from cfg.LedgerDir and prepares it for appends.
// ownClientID is this node's identity; generating and persisting it is the
// caller's responsibility.
func Open(cfg *config.Config, ownClientID uint32) (*Ledger, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.LedgerDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	codec, err := codecFromName(cfg.SnapshotCompression)
	if err != nil {
		return nil, err
	}

	comp, err := newCompressor()
	if err != nil {
		return nil, err
	}

	logger := log.GetDefaultLogger().WithField("component", "ledger")

	snapshotPath := filepath.Join(cfg.LedgerDir, snapshotFileName)
	state, err := readSnapshot(snapshotPath, comp)
	if err != nil {
		comp.close()
		return nil, fmt.Errorf("failed to recover ledger snapshot: %w", err)
	}

	// Replay the log over the snapshot. Versions merge by maximum and the
	// last updater follows append order, so replaying records already
	// captured in the snapshot is a no-op and a crash between snapshot
	// and log truncation is safe.
	logPath := filepath.Join(cfg.LedgerDir, logFileName)
	stats, err := replayLog(logPath, func(r record) error {
		switch r.recordType {
		case recordTypeVersion:
			pk := pairKey{key: r.key, clientID: r.clientID}
			if r.version > state.versions[pk] {
				state.versions[pk] = r.version
			}
			state.updaters[r.key] = lastUpdate{clientID: r.clientID}
		case recordTypeDelete:
			state.updaters[r.key] = lastUpdate{deleted: true}
		}
		return nil
	})
	if err != nil {
		comp.close()
		return nil, fmt.Errorf("failed to replay ledger log: %w", err)
	}

	if stats.recordsReplayed > 0 || stats.recordsSkipped > 0 {
		logger.Info("recovered %d pairs: %d log records replayed, %d skipped",
			len(state.versions), stats.recordsReplayed, stats.recordsSkipped)
	}
	if stats.recordsSkipped > 0 {
		logger.Warn("skipped %d corrupt or truncated ledger records during recovery",
			stats.recordsSkipped)
	}

	alog, err := openLog(logPath, cfg.LedgerSyncMode, cfg.LedgerSyncBytes)
	if err != nil {
		comp.close()
		return nil, err
	}

	l := &Ledger{
		cfg:         cfg,
		ownClientID: ownClientID,
		codec:       codec,
		log:         alog,
		comp:        comp,
		logger:      logger,
	}
	for i := range l.shards {
		l.shards[i] = &shard{
			versions: make(map[pairKey]uint64),
			updaters: make(map[raw.Key]lastUpdate),
		}
	}
	for pk, version := range state.versions {
		l.shardFor(pk.key).versions[pk] = version
	}
	for key, updater := range state.updaters {
		l.shardFor(key).updaters[key] = updater
	}

	return l, nil
}

// OwnClientID returns the identity this node writes under.
func (l *Ledger) OwnClientID() uint32 {
	return l.ownClientID
}

func (l *Ledger) shardFor(key raw.Key) *shard {
	return l.shards[xxhash.Sum64(key[:])%numShards]
}

// CurrentMax returns the highest version accepted for the pair, 0 if the
// pair has never been seen.
func (l *Ledger) CurrentMax(key raw.Key, clientID uint32) uint64 {
	pk := pairKey{key: key, clientID: clientID}
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[pk]
}

// TryAccept atomically validates a version read from the untrusted backend.
// Accepted are a version strictly greater than the recorded maximum for the
// pair, or one equal to it when this client is the key's last accepted
// updater (an idempotent re-read of current content). Anything else is a
// rollback or reintroduction and is rejected, leaving the ledger unchanged;
// rejection is a detection result, not an error.
func (l *Ledger) TryAccept(key raw.Key, clientID uint32, version uint64) (bool, error) {
	if atomic.LoadInt32(&l.closed) != 0 {
		return false, ErrLedgerClosed
	}

	pk := pairKey{key: key, clientID: clientID}
	s := l.shardFor(key)

	s.mu.Lock()
	max := s.versions[pk]

	if version == max && max > 0 {
		updater, known := s.updaters[key]
		reread := known && !updater.deleted && updater.clientID == clientID
		s.mu.Unlock()
		return reread, nil
	}

	if version < max || version == 0 {
		s.mu.Unlock()
		return false, nil
	}

	// Strictly greater: record durably before admitting it.
	rec := record{recordType: recordTypeVersion, key: key, clientID: clientID, version: version}
	if err := l.appendRecord(rec); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.versions[pk] = version
	s.updaters[key] = lastUpdate{clientID: clientID}
	s.mu.Unlock()

	if err := l.maybeCompact(); err != nil {
		return false, err
	}
	return true, nil
}

// NextOwnVersion reserves the next version for a local write: the recorded
// maximum for (key, own client id) plus one, durably recorded before
// return. This is the write-path entry point; self-writes never go through
// TryAccept, which keeps them strictly increasing by construction.
func (l *Ledger) NextOwnVersion(key raw.Key) (uint64, error) {
	if atomic.LoadInt32(&l.closed) != 0 {
		return 0, ErrLedgerClosed
	}

	pk := pairKey{key: key, clientID: l.ownClientID}
	s := l.shardFor(key)

	s.mu.Lock()
	version := s.versions[pk] + 1
	rec := record{recordType: recordTypeVersion, key: key, clientID: l.ownClientID, version: version}
	if err := l.appendRecord(rec); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.versions[pk] = version
	s.updaters[key] = lastUpdate{clientID: l.ownClientID}
	s.mu.Unlock()

	if err := l.maybeCompact(); err != nil {
		return 0, err
	}
	return version, nil
}

// MarkDeleted records that the block behind key has been removed. Version
// maxima for the key are kept; the mark only closes the idempotent re-read
// path, so reinserting the removed block's exact bytes is rejected.
func (l *Ledger) MarkDeleted(key raw.Key) error {
	if atomic.LoadInt32(&l.closed) != 0 {
		return ErrLedgerClosed
	}

	s := l.shardFor(key)

	s.mu.Lock()
	if err := l.appendRecord(record{recordType: recordTypeDelete, key: key}); err != nil {
		s.mu.Unlock()
		return err
	}
	s.updaters[key] = lastUpdate{deleted: true}
	s.mu.Unlock()

	return l.maybeCompact()
}

func (l *Ledger) appendRecord(r record) error {
	l.logMu.Lock()
	defer l.logMu.Unlock()
	return l.log.append(r)
}

// NumPairs returns the number of (key, client id) histories tracked.
func (l *Ledger) NumPairs() uint64 {
	var n uint64
	for _, s := range l.shards {
		s.mu.Lock()
		n += uint64(len(s.versions))
		s.mu.Unlock()
	}
	return n
}

// maybeCompact rewrites the log as a snapshot once it exceeds the
// configured threshold. Runs inline on the appending caller; there are no
// background tasks in this component.
func (l *Ledger) maybeCompact() error {
	l.logMu.Lock()
	needCompact := l.log.size() >= l.cfg.LedgerCompactThreshold
	l.logMu.Unlock()

	if !needCompact {
		return nil
	}
	return l.compact()
}

func (l *Ledger) compact() error {
	// Shard locks before the log lock, same order as the accept paths.
	for _, s := range l.shards {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range l.shards {
			s.mu.Unlock()
		}
	}()

	l.logMu.Lock()
	defer l.logMu.Unlock()

	// Another caller may have compacted while we waited.
	if l.log.size() < l.cfg.LedgerCompactThreshold {
		return nil
	}

	state := &ledgerState{
		versions: make(map[pairKey]uint64),
		updaters: make(map[raw.Key]lastUpdate),
	}
	for _, s := range l.shards {
		for pk, version := range s.versions {
			state.versions[pk] = version
		}
		for key, updater := range s.updaters {
			state.updaters[key] = updater
		}
	}

	snapshotPath := filepath.Join(l.cfg.LedgerDir, snapshotFileName)
	if err := writeSnapshot(snapshotPath, state, l.codec, l.comp); err != nil {
		return err
	}

	if err := l.log.reset(); err != nil {
		return err
	}

	l.logger.Debug("compacted ledger log into snapshot of %d pairs", len(state.versions))
	return nil
}

// Sync flushes buffered log records to durable storage.
func (l *Ledger) Sync() error {
	if atomic.LoadInt32(&l.closed) != 0 {
		return ErrLedgerClosed
	}

	l.logMu.Lock()
	defer l.logMu.Unlock()
	return l.log.sync()
}

// Close flushes and closes the ledger. Further operations fail with
// ErrLedgerClosed.
func (l *Ledger) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}

	l.logMu.Lock()
	defer l.logMu.Unlock()

	err := l.log.close()
	l.comp.close()
	return err
}
