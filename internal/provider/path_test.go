package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"root", "/", false},
		{"simple", "/docs/notes.txt", false},
		{"dotted file names are fine", "/docs/.hidden", false},
		{"parent traversal", "/docs/../etc", true},
		{"current dir segment", "/docs/./notes.txt", true},
		{"leading traversal", "../etc/passwd", true},
		{"bare double dot", "..", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrBadRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitJoinPath(t *testing.T) {
	assert.Empty(t, SplitPath("/"))
	assert.Empty(t, SplitPath(""))
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a/b"))
	assert.Equal(t, []string{"a", "b"}, SplitPath("a//b/"))

	assert.Equal(t, "/", JoinPath())
	assert.Equal(t, "/a/b", JoinPath("a", "b"))
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, Depth("/"))
	assert.Equal(t, 1, Depth("/a"))
	assert.Equal(t, 3, Depth("/a/b/c"))
}

func TestSplitShared(t *testing.T) {
	shared, rest := SplitShared("/Shared/reports/q1")
	assert.True(t, shared)
	assert.Equal(t, []string{"reports", "q1"}, rest)

	shared, rest = SplitShared("/Shared")
	assert.True(t, shared)
	assert.Empty(t, rest)

	shared, rest = SplitShared("/docs/Shared")
	assert.False(t, shared)
	assert.Equal(t, []string{"docs", "Shared"}, rest)
}
