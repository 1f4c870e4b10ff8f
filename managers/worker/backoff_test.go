package worker

import (
	"testing"
	"time"
)

func TestBackoff_Doubles(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 1*time.Second)

	if b.Current() != 100*time.Millisecond {
		t.Errorf("initial = %v, want 100ms", b.Current())
	}

	d := b.Next()
	if d < 80*time.Millisecond || d > 120*time.Millisecond {
		t.Errorf("first delay = %v, want 100ms ±20%%", d)
	}
	if b.Current() != 200*time.Millisecond {
		t.Errorf("after Next = %v, want 200ms", b.Current())
	}
}

func TestBackoff_Max(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 300*time.Millisecond)

	for i := 0; i < 10; i++ {
		b.Next()
	}
	if b.Current() != 300*time.Millisecond {
		t.Errorf("after many Next = %v, want max 300ms", b.Current())
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 1*time.Second)

	b.Next()
	b.Next()
	b.Reset()

	if b.Current() != 100*time.Millisecond {
		t.Errorf("after reset = %v, want 100ms", b.Current())
	}
}

func TestBackoff_MaxBelowInitial(t *testing.T) {
	b := NewBackoff(time.Second, time.Millisecond)
	b.Next()
	if b.Current() != time.Second {
		t.Errorf("Current() = %v, want 1s", b.Current())
	}
}
