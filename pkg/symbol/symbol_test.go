package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredefinedSymbolsOccupyFixedIndices(t *testing.T) {
	s := New()
	assert.Equal(t, Constructor, 0)
	assert.Equal(t, ToString, 1)
	assert.Equal(t, 15, s.Count())

	id, ok := s.IDFor("+")
	assert.True(t, ok)
	assert.Equal(t, OpAdd, id)

	name, ok := s.Lookup(OpLe)
	assert.True(t, ok)
	assert.Equal(t, "<=", name)
}

func TestGetOrCreateIsMonotonicAndStable(t *testing.T) {
	s := New()
	first := s.GetOrCreate("speak")
	second := s.GetOrCreate("fetch")
	assert.Equal(t, first+1, second)
	assert.Equal(t, first, s.GetOrCreate("speak"))

	name, ok := s.Lookup(second)
	assert.True(t, ok)
	assert.Equal(t, "fetch", name)
}

func TestIDForNeverAllocates(t *testing.T) {
	s := New()
	before := s.Count()
	_, ok := s.IDFor("nosuch")
	assert.False(t, ok)
	assert.Equal(t, before, s.Count())
}
