package ledger

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/LatchDB/latch/pkg/raw"
)

const (
	// snapshotMagic identifies a ledger snapshot file
	snapshotMagic = uint64(0x4C41544348534E41) // "ANSHCTAL" little-endian

	// snapshotFormatVersion is the current snapshot layout version
	snapshotFormatVersion = uint32(1)

	// Snapshot header layout:
	// - Magic (8 bytes)
	// - Format version (4 bytes)
	// - Codec (1 byte)
	// - Pair count (4 bytes)
	// - Updater count (4 bytes)
	// - Payload checksum (8 bytes)
	snapshotHeaderSize = 29

	// Payload entry sizes
	pairEntrySize    = raw.KeyLen + 4 + 8 // key + clientID + version
	updaterEntrySize = raw.KeyLen + 4 + 1 // key + clientID + deleted flag
)

// writeSnapshot persists the full ledger state to path, replacing any
// previous snapshot atomically. Entries are never dropped here: a snapshot
// holds every pair ever accepted, which is what keeps deleted blocks from
// being reintroduced after compaction.
func writeSnapshot(path string, state *ledgerState, codec byte, comp *compressor) error {
	payload := make([]byte, 0, len(state.versions)*pairEntrySize+len(state.updaters)*updaterEntrySize)

	entry := make([]byte, pairEntrySize)
	for pk, version := range state.versions {
		copy(entry[:raw.KeyLen], pk.key[:])
		binary.LittleEndian.PutUint32(entry[raw.KeyLen:raw.KeyLen+4], pk.clientID)
		binary.LittleEndian.PutUint64(entry[raw.KeyLen+4:], version)
		payload = append(payload, entry...)
	}

	entry = entry[:updaterEntrySize]
	for key, updater := range state.updaters {
		copy(entry[:raw.KeyLen], key[:])
		binary.LittleEndian.PutUint32(entry[raw.KeyLen:raw.KeyLen+4], updater.clientID)
		if updater.deleted {
			entry[raw.KeyLen+4] = 1
		} else {
			entry[raw.KeyLen+4] = 0
		}
		payload = append(payload, entry...)
	}

	compressed, err := comp.compress(payload, codec)
	if err != nil {
		return fmt.Errorf("failed to compress snapshot payload: %w", err)
	}

	buf := make([]byte, snapshotHeaderSize+len(compressed))
	binary.LittleEndian.PutUint64(buf[0:8], snapshotMagic)
	binary.LittleEndian.PutUint32(buf[8:12], snapshotFormatVersion)
	buf[12] = codec
	binary.LittleEndian.PutUint32(buf[13:17], uint32(len(state.versions)))
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(state.updaters)))
	binary.LittleEndian.PutUint64(buf[21:29], xxhash.Sum64(compressed))
	copy(buf[snapshotHeaderSize:], compressed)

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, buf, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}

	return nil
}

// readSnapshot loads the ledger state from path. A missing snapshot returns
// empty state; a malformed one is an error, since silently ignoring it
// would lower accepted maxima.
func readSnapshot(path string, comp *compressor) (*ledgerState, error) {
	state := &ledgerState{
		versions: make(map[pairKey]uint64),
		updaters: make(map[raw.Key]lastUpdate),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if len(data) < snapshotHeaderSize {
		return nil, fmt.Errorf("snapshot too small: %d bytes, expected at least %d",
			len(data), snapshotHeaderSize)
	}

	if magic := binary.LittleEndian.Uint64(data[0:8]); magic != snapshotMagic {
		return nil, fmt.Errorf("invalid snapshot magic: %x, expected %x", magic, snapshotMagic)
	}
	if version := binary.LittleEndian.Uint32(data[8:12]); version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format version: %d", version)
	}

	codec := data[12]
	pairCount := binary.LittleEndian.Uint32(data[13:17])
	updaterCount := binary.LittleEndian.Uint32(data[17:21])
	checksum := binary.LittleEndian.Uint64(data[21:29])
	compressed := data[snapshotHeaderSize:]

	if actual := xxhash.Sum64(compressed); actual != checksum {
		return nil, fmt.Errorf("snapshot checksum mismatch: file has %d, calculated %d",
			checksum, actual)
	}

	payload, err := comp.decompress(compressed, codec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot payload: %w", err)
	}

	expectedSize := int(pairCount)*pairEntrySize + int(updaterCount)*updaterEntrySize
	if len(payload) != expectedSize {
		return nil, fmt.Errorf("snapshot payload is %d bytes, expected %d", len(payload), expectedSize)
	}

	offset := 0
	for i := 0; i < int(pairCount); i++ {
		entry := payload[offset : offset+pairEntrySize]
		offset += pairEntrySize

		var pk pairKey
		copy(pk.key[:], entry[:raw.KeyLen])
		pk.clientID = binary.LittleEndian.Uint32(entry[raw.KeyLen : raw.KeyLen+4])
		state.versions[pk] = binary.LittleEndian.Uint64(entry[raw.KeyLen+4:])
	}

	for i := 0; i < int(updaterCount); i++ {
		entry := payload[offset : offset+updaterEntrySize]
		offset += updaterEntrySize

		var key raw.Key
		copy(key[:], entry[:raw.KeyLen])
		state.updaters[key] = lastUpdate{
			clientID: binary.LittleEndian.Uint32(entry[raw.KeyLen : raw.KeyLen+4]),
			deleted:  entry[raw.KeyLen+4] != 0,
		}
	}

	return state, nil
}
