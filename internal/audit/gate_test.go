package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateCheck(t *testing.T) {
	g := NewGate([]string{"Spam Phrase", "casino", "  ", ""})

	t.Run("clean content passes", func(t *testing.T) {
		res := g.Check("Braised pork belly", "Slow-cooked classic", []string{"Cube the pork", "Simmer for an hour"})
		assert.True(t, res.Passed)
		assert.Empty(t, res.Reason)
	})

	t.Run("denylist match is case-insensitive substring", func(t *testing.T) {
		res := g.Check("Best CASINO night snacks", "", nil)
		require.False(t, res.Passed)
		assert.Contains(t, res.Reason, "title ")
		assert.Contains(t, res.Reason, "casino")
	})

	t.Run("url in description fails", func(t *testing.T) {
		res := g.Check("Dumplings", "full video at https://example.com/v", nil)
		require.False(t, res.Passed)
		assert.Contains(t, res.Reason, "description ")
		assert.Contains(t, res.Reason, "link")
	})

	t.Run("www prefix counts as a link", func(t *testing.T) {
		res := g.Check("Dumplings", "see www.example.com", nil)
		assert.False(t, res.Passed)
	})

	t.Run("step violations are labeled by position", func(t *testing.T) {
		res := g.Check("Dumplings", "homemade", []string{"Mix the dough", "order from spam phrase kitchen"})
		require.False(t, res.Passed)
		assert.Contains(t, res.Reason, "step 2 ")
	})

	t.Run("first violating field short-circuits", func(t *testing.T) {
		res := g.Check("casino", "also casino", []string{"casino again"})
		require.False(t, res.Passed)
		assert.Contains(t, res.Reason, "title ")
	})

	t.Run("empty and whitespace fields are skipped", func(t *testing.T) {
		res := g.Check("", "   ", []string{"", "Roll thin"})
		assert.True(t, res.Passed)
	})

	t.Run("deterministic across repeated runs", func(t *testing.T) {
		first := g.Check("casino", "", nil)
		second := g.Check("casino", "", nil)
		assert.Equal(t, first, second)
	})
}
