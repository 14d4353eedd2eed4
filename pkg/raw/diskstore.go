package raw

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DiskStore stores one file per block under a root directory, named by the
// hex form of the key. Writes go through a temp file and rename so a block
// file is never observed half-written.
type DiskStore struct {
	dir string
}

// NewDiskStore opens (creating if needed) a disk-backed store rooted at dir.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create block directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(key Key) string {
	return filepath.Join(s.dir, key.String())
}

func (s *DiskStore) TryCreate(key Key, data []byte) (bool, error) {
	path := s.path(key)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat block file: %w", err)
	}

	if err := s.writeBlockFile(path, data); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DiskStore) writeBlockFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write block file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename block file: %w", err)
	}
	return nil
}

func (s *DiskStore) Load(key Key) (Block, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read block file: %w", err)
	}
	return &diskBlock{
		store: s,
		key:   key,
		data:  data,
	}, nil
}

func (s *DiskStore) Remove(key Key) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove block file: %w", err)
	}
	return nil
}

func (s *DiskStore) NumBlocks() (uint64, error) {
	keys, err := s.AllKeys()
	if err != nil {
		return 0, err
	}
	return uint64(len(keys)), nil
}

func (s *DiskStore) AllKeys() ([]Key, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read block directory: %w", err)
	}

	var keys []Key
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, err := ParseKey(entry.Name())
		if err != nil {
			// Temp files and strays are not blocks
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *DiskStore) EstimateNumFreeBytes() (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to statfs block directory: %w", err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

type diskBlock struct {
	store *DiskStore
	key   Key
	data  []byte
}

func (b *diskBlock) Key() Key {
	return b.key
}

func (b *diskBlock) Size() uint64 {
	return uint64(len(b.data))
}

func (b *diskBlock) Data() []byte {
	return b.data
}

func (b *diskBlock) Write(offset uint64, p []byte) error {
	if offset+uint64(len(p)) > uint64(len(b.data)) {
		return ErrOutOfRange
	}
	copy(b.data[offset:], p)
	return nil
}

func (b *diskBlock) Resize(newSize uint64) {
	if newSize <= uint64(len(b.data)) {
		b.data = b.data[:newSize]
		return
	}
	grown := make([]byte, newSize)
	copy(grown, b.data)
	b.data = grown
}

func (b *diskBlock) Flush() error {
	return b.store.writeBlockFile(b.store.path(b.key), b.data)
}

var _ Store = (*DiskStore)(nil)
