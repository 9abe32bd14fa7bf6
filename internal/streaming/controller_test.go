package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestController_FirstPushSignalsAnimationStart(t *testing.T) {
	c := New(80)
	assert.True(t, c.Push("hello"))
	assert.False(t, c.Push(" world"))
	assert.Equal(t, StateAccumulating, c.State())
}

func TestController_TickFlushesCompleteLinesOnly(t *testing.T) {
	c := New(80)
	c.Push("line one\nline two\nline thr")

	committed := c.Tick()
	assert.Equal(t, []string{"line one", "line two"}, committed)
	assert.Equal(t, StateCommitting, c.State())
}

func TestController_TickWrapsLongUnbrokenLineAtWidth(t *testing.T) {
	c := New(5)
	c.Push("abcdefghij") // no newline, 10 chars, width 5

	committed := c.Tick()
	assert.Equal(t, []string{"abcde", "fghij"}, committed)
}

func TestController_FinalizeFlushesRemainder(t *testing.T) {
	c := New(80)
	c.Push("complete\nincomplete tail")
	c.Tick()

	final := c.Finalize()
	assert.Equal(t, []string{"incomplete tail"}, final)
	assert.Equal(t, StateFinalized, c.State())
	assert.Equal(t, []string{"complete", "incomplete tail"}, c.Lines())
}

func TestController_FinalizeIsIdempotent(t *testing.T) {
	c := New(80)
	c.Push("text")
	first := c.Finalize()
	second := c.Finalize()

	assert.Equal(t, []string{"text"}, first)
	assert.Nil(t, second)
}

func TestController_FinalizeOnEmptyStreamProducesNothing(t *testing.T) {
	c := New(80)
	final := c.Finalize()
	assert.Nil(t, final)
	assert.Equal(t, StateFinalized, c.State())
}

func TestController_ZeroWidthDisablesWrapping(t *testing.T) {
	c := New(0)
	c.Push("a very long line with no newline at all")
	final := c.Finalize()
	assert.Equal(t, []string{"a very long line with no newline at all"}, final)
}
