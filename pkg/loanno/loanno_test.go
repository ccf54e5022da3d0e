package loanno

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIsUniqueAndPrefixed(t *testing.T) {
	g, err := NewGenerator(7)
	require.NoError(t, err)

	seen := make(map[string]bool)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 1000; i++ {
		n := g.Next(day)
		assert.True(t, strings.HasPrefix(n, "LN-2025-"), n)
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}
}

func TestNewGeneratorRejectsOutOfRangeNode(t *testing.T) {
	_, err := NewGenerator(5000)
	assert.Error(t, err)
}
