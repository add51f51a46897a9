package mixer

import (
	"sync"
	"testing"
)

func TestRingCapacityRoundsUp(t *testing.T) {
	cases := map[int]int{0: 1, 1: 1, 3: 4, 64: 64, 65: 128, 1000: 1024}
	for in, want := range cases {
		if got := NewRing[int](in).Cap(); got != want {
			t.Fatalf("NewRing(%d).Cap()=%d want=%d", in, got, want)
		}
	}
}

func TestRingFIFOAndFull(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 4; i++ {
		if !r.Push(i) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if r.Push(99) {
		t.Fatalf("push into full ring accepted")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.Pop()
		if !ok || v != i {
			t.Fatalf("pop=%d,%v want=%d,true", v, ok, i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatalf("pop from empty ring succeeded")
	}
}

func TestRingConcurrentOrder(t *testing.T) {
	const total = 100_000
	r := NewRing[int](8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if r.Push(i) {
				i++
			}
		}
	}()

	next := 0
	for next < total {
		v, ok := r.Pop()
		if !ok {
			continue
		}
		if v != next {
			t.Fatalf("pop=%d want=%d", v, next)
		}
		next++
	}
	wg.Wait()
}
