package puic

import "testing"

func TestSlabAllocGetFree(t *testing.T) {
	var s Slab

	h := s.Alloc("hello")
	v, ok := s.Get(h)
	if !ok || v != "hello" {
		t.Fatalf("Get = %v, %v, want hello, true", v, ok)
	}

	s.Free(h)
	if _, ok := s.Get(h); ok {
		t.Fatal("Get after Free should report ok=false")
	}
}

func TestSlabStaleHandleAfterReuse(t *testing.T) {
	var s Slab

	h1 := s.Alloc("first")
	s.Free(h1)

	h2 := s.Alloc("second")
	if h2.index != h1.index {
		t.Fatalf("expected slot reuse, got index %d want %d", h2.index, h1.index)
	}

	if _, ok := s.Get(h1); ok {
		t.Fatal("stale handle h1 should not resolve after slot reuse")
	}
	v, ok := s.Get(h2)
	if !ok || v != "second" {
		t.Fatalf("Get(h2) = %v, %v, want second, true", v, ok)
	}
}
