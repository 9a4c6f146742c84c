package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBurstSemaphore_ResizesOnPolicyChange(t *testing.T) {
	l := New(nil)

	first := l.burstSemaphore("example.com", 5)
	assert.Equal(t, 5, cap(first))

	second := l.burstSemaphore("example.com", 5)
	assert.True(t, first == second, "same burst size must reuse the existing semaphore so in-flight holds aren't lost")

	third := l.burstSemaphore("example.com", 10)
	assert.False(t, first == third)
	assert.Equal(t, 10, cap(third))
}

func TestBurstSemaphore_BoundsConcurrentHolds(t *testing.T) {
	l := New(nil)
	sem := l.burstSemaphore("example.com", 2)

	sem <- struct{}{}
	sem <- struct{}{}

	select {
	case sem <- struct{}{}:
		t.Fatal("a semaphore of size 2 must refuse a 3rd concurrent holder")
	default:
	}

	<-sem
	select {
	case sem <- struct{}{}:
	default:
		t.Fatal("releasing a slot must free capacity for the next acquirer")
	}
}
