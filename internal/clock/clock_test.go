package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReal_Now(t *testing.T) {
	c := NewReal()
	before := time.Now()
	got := c.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestFake_AdvanceAndSet(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(base)

	assert.Equal(t, base, c.Now())

	c.Advance(90 * time.Second)
	assert.Equal(t, base.Add(90*time.Second), c.Now())

	other := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	c.Set(other)
	assert.Equal(t, other, c.Now())
}
