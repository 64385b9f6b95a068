package tasks

import (
	"sync"
	"testing"
)

func TestCounterStartsAtInitial(t *testing.T) {
	c := NewCounter(2)
	if got := c.Outstanding(); got != 2 {
		t.Fatalf("Outstanding() = %d, want 2", got)
	}
}

func TestAcquireRelease(t *testing.T) {
	c := NewCounter(2)

	c.Acquire()
	if got := c.Outstanding(); got != 3 {
		t.Fatalf("after Acquire: Outstanding() = %d, want 3", got)
	}

	c.Release()
	c.Release()
	c.Release()
	if got := c.Outstanding(); got != 0 {
		t.Fatalf("after draining: Outstanding() = %d, want 0", got)
	}
}

func TestReleaseBelowZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Release below zero did not panic")
		}
	}()

	NewCounter(0).Release()
}

func TestCounterIsSafeForConcurrentUse(t *testing.T) {
	c := NewCounter(0)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Acquire()
			c.Release()
		}()
	}
	wg.Wait()

	if got := c.Outstanding(); got != 0 {
		t.Fatalf("Outstanding() = %d, want 0", got)
	}
}

func TestString(t *testing.T) {
	c := NewCounter(2)
	if got := c.String(); got != "2 outstanding" {
		t.Fatalf("String() = %q", got)
	}
}
