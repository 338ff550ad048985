package dv

import "testing"

func TestBatch(t *testing.T) {
	t.Run("signals flush at threshold", func(t *testing.T) {
		b := NewBatch[int](3)
		if b.Add(1) || b.Add(2) {
			t.Fatal("Add() signalled flush before threshold")
		}
		if !b.Add(3) {
			t.Fatal("Add() did not signal flush at threshold")
		}
		if b.Len() != 3 {
			t.Errorf("Len() = %d, want 3", b.Len())
		}
	})

	t.Run("drain empties the batch", func(t *testing.T) {
		b := NewBatch[string](2)
		b.Add("a")
		items := b.Drain()
		if len(items) != 1 || items[0] != "a" {
			t.Fatalf("Drain() = %v", items)
		}
		if b.Len() != 0 {
			t.Errorf("Len() after Drain = %d, want 0", b.Len())
		}
		b.Add("b")
		if len(items) != 1 {
			t.Error("Drain() result shares storage with the batch")
		}
	})

	t.Run("defaults threshold", func(t *testing.T) {
		b := NewBatch[int](0)
		for i := 1; i < DefaultBatchSize; i++ {
			if b.Add(i) {
				t.Fatalf("Add() asked for a flush after %d items", i)
			}
		}
		if !b.Add(DefaultBatchSize) {
			t.Errorf("Add() did not ask for a flush at %d items", DefaultBatchSize)
		}
	})
}
