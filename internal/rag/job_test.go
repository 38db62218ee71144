package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIndexResult_LastJSONLineWins(t *testing.T) {
	combined := `loading model
{"ok": false, "progress": 0.5}
chunking 37 segments
{"ok": true, "collection": "staffchat", "chunk_count": 37, "progress": 1.0}
`
	result := ParseIndexResult(combined)
	require.NotNil(t, result)
	assert.True(t, result.OK)
	assert.Equal(t, "staffchat", result.Collection)
	assert.Equal(t, 37, result.ChunkCount)
}

func TestParseIndexResult_Failure(t *testing.T) {
	result := ParseIndexResult(`Traceback (most recent call last):
  something broke
{"ok": false, "error": "embedding service unreachable"}`)
	require.NotNil(t, result)
	assert.False(t, result.OK)
	assert.Equal(t, "embedding service unreachable", result.Error)
}

func TestParseIndexResult_NoJSON(t *testing.T) {
	assert.Nil(t, ParseIndexResult("killed\n"))
	assert.Nil(t, ParseIndexResult(""))
	assert.Nil(t, ParseIndexResult("{not json}\nplain text"))
}
