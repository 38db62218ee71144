package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopFlags(t *testing.T) {
	flags, err := NewStopFlags(t.TempDir() + "/flags")
	require.NoError(t, err)

	assert.False(t, flags.Stopped("chat-1"))

	require.NoError(t, flags.Set("chat-1"))
	assert.True(t, flags.Stopped("chat-1"))
	assert.False(t, flags.Stopped("chat-2"))

	flags.Clear("chat-1")
	assert.False(t, flags.Stopped("chat-1"))
	flags.Clear("chat-1") // clearing twice is fine
}

func TestIsTextLike(t *testing.T) {
	assert.True(t, isTextLike("notes.md"))
	assert.True(t, isTextLike("DATA.CSV"))
	assert.False(t, isTextLike("report.docx"))
	assert.False(t, isTextLike("archive"))
}
