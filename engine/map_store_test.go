package engine

import (
	"sync"
	"testing"
)

func TestMapStore(t *testing.T) {
	st := NewMapStore()

	// Test Set and Get
	st.Set([]byte("one"), []byte("1"), 1)

	e, ok := st.Get([]byte("one"))
	if !ok || string(e.Value) != "1" {
		t.Fatalf("Get failed: expected '1', got '%s', ok=%v", e.Value, ok)
	}
	if e.Seq != 1 {
		t.Fatalf("Get returned seq %d, want 1", e.Seq)
	}

	// Test Get non-existent
	_, ok = st.Get([]byte("missing"))
	if ok {
		t.Fatal("Get should return false for non-existent key")
	}

	// Test overwrite
	st.Set([]byte("one"), []byte("uno"), 2)
	e, _ = st.Get([]byte("one"))
	if string(e.Value) != "uno" || e.Seq != 2 {
		t.Fatalf("overwrite failed: got %q seq %d", e.Value, e.Seq)
	}

	// Test Exists
	if !st.Exists([]byte("one")) {
		t.Fatal("Exists should return true")
	}
	if st.Exists([]byte("missing")) {
		t.Fatal("Exists should return false for non-existent key")
	}

	// Test Len
	st.Set([]byte("two"), []byte("2"), 3)
	st.Set([]byte("three"), []byte("3"), 4)
	if st.Len() != 3 {
		t.Fatalf("Len should be 3, got %d", st.Len())
	}

	// Test Delete
	if !st.Delete([]byte("one"), 5) {
		t.Fatal("Delete should report existed=true")
	}
	if _, ok := st.Get([]byte("one")); ok {
		t.Fatal("Get should return false after Delete")
	}

	// Test Delete non-existent
	if st.Delete([]byte("one"), 6) {
		t.Fatal("Delete should report existed=false for non-existent key")
	}

	// Test Snapshot
	kvs := st.Snapshot()
	if len(kvs) != 2 {
		t.Fatalf("Snapshot should return 2 entries, got %d", len(kvs))
	}

	// Test Clear
	st.Clear(7)
	if st.Len() != 0 {
		t.Fatalf("Len should be 0 after Clear, got %d", st.Len())
	}
}

func TestMapStoreConcurrent(t *testing.T) {
	st := NewMapStore()
	var wg sync.WaitGroup

	// Concurrent writes
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			st.Set([]byte{id}, []byte{id}, uint64(id)+1)
		}(byte(i))
	}

	// Concurrent reads
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			_, _ = st.Get([]byte{id})
		}(byte(i))
	}

	wg.Wait()

	if st.Len() != 100 {
		t.Fatalf("Expected 100 entries, got %d", st.Len())
	}
}
