// SPDX-License-Identifier: MIT

package procpool

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLimitKeepsHead(t *testing.T) {
	data := strings.Repeat("a", 100) + strings.Repeat("b", 100)
	got, err := ReadLimit(strings.NewReader(data), 100)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 100), string(got))
}

func TestReadLimitShortInput(t *testing.T) {
	got, err := ReadLimit(strings.NewReader("hello"), 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestReadAllLimit(t *testing.T) {
	got, overflow, err := ReadAllLimit(strings.NewReader("hello"), 10)
	require.NoError(t, err)
	assert.False(t, overflow)
	assert.Equal(t, "hello", string(got))
}

func TestReadAllLimitOverflow(t *testing.T) {
	r := strings.NewReader(strings.Repeat("x", 200))
	got, overflow, err := ReadAllLimit(r, 100)
	require.NoError(t, err)
	assert.True(t, overflow)
	assert.Nil(t, got)
	// The reader must be fully drained so a child process could exit.
	assert.Zero(t, r.Len())
}
