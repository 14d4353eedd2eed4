package raw

import (
	"bytes"
	"testing"
)

// Both implementations must satisfy the same contract.
func testStores(t *testing.T) map[string]Store {
	disk, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create disk store: %v", err)
	}
	return map[string]Store{
		"mem":  NewMemStore(),
		"disk": disk,
	}
}

func TestTryCreateAndLoad(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := NewRandomKey()
			data := []byte("some block data")

			created, err := store.TryCreate(key, data)
			if err != nil {
				t.Fatalf("TryCreate failed: %v", err)
			}
			if !created {
				t.Fatal("TryCreate returned false for a fresh key")
			}

			block, err := store.Load(key)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if block == nil {
				t.Fatal("Load returned nil for an existing block")
			}
			if !bytes.Equal(block.Data(), data) {
				t.Errorf("Loaded data %q, expected %q", block.Data(), data)
			}
			if block.Size() != uint64(len(data)) {
				t.Errorf("Size() = %d, expected %d", block.Size(), len(data))
			}
			if block.Key() != key {
				t.Errorf("Key() = %s, expected %s", block.Key(), key)
			}
		})
	}
}

func TestTryCreateExistingKey(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := NewRandomKey()
			if _, err := store.TryCreate(key, []byte("first")); err != nil {
				t.Fatalf("TryCreate failed: %v", err)
			}

			created, err := store.TryCreate(key, []byte("second"))
			if err != nil {
				t.Fatalf("TryCreate failed: %v", err)
			}
			if created {
				t.Fatal("TryCreate returned true for an existing key")
			}

			// Original data must be untouched
			block, err := store.Load(key)
			if err != nil || block == nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !bytes.Equal(block.Data(), []byte("first")) {
				t.Errorf("Existing block was overwritten: %q", block.Data())
			}
		})
	}
}

func TestLoadAbsent(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			block, err := store.Load(NewRandomKey())
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if block != nil {
				t.Fatal("Load returned a block for an absent key")
			}
		})
	}
}

func TestRemove(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := NewRandomKey()
			if _, err := store.TryCreate(key, []byte("data")); err != nil {
				t.Fatalf("TryCreate failed: %v", err)
			}

			if err := store.Remove(key); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}

			block, err := store.Load(key)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if block != nil {
				t.Fatal("Load returned a block after Remove")
			}

			// Removing again is not an error
			if err := store.Remove(key); err != nil {
				t.Errorf("Second Remove failed: %v", err)
			}
		})
	}
}

func TestWriteResizeFlush(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := NewRandomKey()
			if _, err := store.TryCreate(key, make([]byte, 16)); err != nil {
				t.Fatalf("TryCreate failed: %v", err)
			}

			block, err := store.Load(key)
			if err != nil || block == nil {
				t.Fatalf("Load failed: %v", err)
			}

			if err := block.Write(4, []byte{1, 2, 3, 4}); err != nil {
				t.Fatalf("Write failed: %v", err)
			}

			block.Resize(32)
			if block.Size() != 32 {
				t.Errorf("Size after grow = %d, expected 32", block.Size())
			}
			if block.Data()[31] != 0 {
				t.Error("Grown region not zero-filled")
			}

			if err := block.Flush(); err != nil {
				t.Fatalf("Flush failed: %v", err)
			}

			reloaded, err := store.Load(key)
			if err != nil || reloaded == nil {
				t.Fatalf("Reload failed: %v", err)
			}
			if reloaded.Size() != 32 {
				t.Errorf("Persisted size = %d, expected 32", reloaded.Size())
			}
			if !bytes.Equal(reloaded.Data()[4:8], []byte{1, 2, 3, 4}) {
				t.Errorf("Persisted data mismatch: %v", reloaded.Data()[4:8])
			}

			block.Resize(8)
			if block.Size() != 8 {
				t.Errorf("Size after truncate = %d, expected 8", block.Size())
			}
		})
	}
}

func TestWriteOutOfRange(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := NewRandomKey()
			if _, err := store.TryCreate(key, make([]byte, 8)); err != nil {
				t.Fatalf("TryCreate failed: %v", err)
			}
			block, err := store.Load(key)
			if err != nil || block == nil {
				t.Fatalf("Load failed: %v", err)
			}
			if err := block.Write(6, []byte{1, 2, 3}); err == nil {
				t.Error("Write past end of block succeeded")
			}
		})
	}
}

func TestNumBlocksAndAllKeys(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			want := map[Key]bool{}
			for i := 0; i < 3; i++ {
				key := NewRandomKey()
				want[key] = true
				if _, err := store.TryCreate(key, []byte("x")); err != nil {
					t.Fatalf("TryCreate failed: %v", err)
				}
			}

			n, err := store.NumBlocks()
			if err != nil {
				t.Fatalf("NumBlocks failed: %v", err)
			}
			if n != 3 {
				t.Errorf("NumBlocks = %d, expected 3", n)
			}

			keys, err := store.AllKeys()
			if err != nil {
				t.Fatalf("AllKeys failed: %v", err)
			}
			if len(keys) != 3 {
				t.Fatalf("AllKeys returned %d keys, expected 3", len(keys))
			}
			for _, k := range keys {
				if !want[k] {
					t.Errorf("AllKeys returned unexpected key %s", k)
				}
			}
		})
	}
}

func TestLoadReturnsCopy(t *testing.T) {
	// Two loads of the same block must not share mutable state
	store := NewMemStore()
	key := NewRandomKey()
	if _, err := store.TryCreate(key, []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("TryCreate failed: %v", err)
	}

	a, _ := store.Load(key)
	b, _ := store.Load(key)
	if err := a.Write(0, []byte{0xFF}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if b.Data()[0] == 0xFF {
		t.Error("Unflushed write leaked into a second load")
	}
}

func TestKeyParseRoundTrip(t *testing.T) {
	key := NewRandomKey()
	parsed, err := ParseKey(key.String())
	if err != nil {
		t.Fatalf("ParseKey failed: %v", err)
	}
	if parsed != key {
		t.Errorf("Round trip mismatch: %s != %s", parsed, key)
	}

	if _, err := ParseKey("too-short"); err == nil {
		t.Error("ParseKey accepted a malformed key")
	}
	if _, err := ParseKey("zz000000000000000000000000000000"); err == nil {
		t.Error("ParseKey accepted non-hex input")
	}
}
