package queue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffchat/internal/config"
)

func newTestQueue(t *testing.T) *JobQueue {
	t.Helper()
	q, err := New(config.NewWorkspacePaths(t.TempDir()))
	require.NoError(t, err)
	return q
}

func TestEnqueueNamed_DeduplicatesPendingJob(t *testing.T) {
	q := newTestQueue(t)

	first, created, err := q.EnqueueNamed("summary_chat-1.json", map[string]any{"chat_id": "chat-1", "force": false})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := q.EnqueueNamed("summary_chat-1.json", map[string]any{"chat_id": "chat-1", "force": true})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	// The original payload must survive the duplicate enqueue.
	var payload map[string]any
	require.NoError(t, q.Load(first, &payload))
	assert.Equal(t, false, payload["force"])

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEnqueue_UniqueNames(t *testing.T) {
	q := newTestQueue(t)

	a, err := q.Enqueue("job", map[string]any{"document_id": 1})
	require.NoError(t, err)
	b, err := q.Enqueue("job", map[string]any{"document_id": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestPending_SortedAndIgnoresNonJSON(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, os.WriteFile(filepath.Join(q.Paths().Queue, "job_b.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(q.Paths().Queue, "job_a.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(q.Paths().Queue, "job_c.json.123.tmp"), []byte("{"), 0o644))

	pending, err := q.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "job_a.json", filepath.Base(pending[0]))
	assert.Equal(t, "job_b.json", filepath.Base(pending[1]))
}

func TestCompleteAndFail_MoveJobFiles(t *testing.T) {
	q := newTestQueue(t)

	done, _, err := q.EnqueueNamed("done.json", map[string]int{"n": 1})
	require.NoError(t, err)
	bad, _, err := q.EnqueueNamed("bad.json", map[string]int{"n": 2})
	require.NoError(t, err)

	require.NoError(t, q.Complete(done))
	require.NoError(t, q.Fail(bad))

	pending, err := q.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.FileExists(t, filepath.Join(q.Paths().Completed, "done.json"))
	assert.FileExists(t, filepath.Join(q.Paths().Failed, "bad.json"))
}

func TestRemove_MissingFileIsNotAnError(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, q.Remove(filepath.Join(q.Paths().Queue, "gone.json")))
}

func TestLoad_MissingJob(t *testing.T) {
	q := newTestQueue(t)
	var out map[string]any
	err := q.Load(filepath.Join(q.Paths().Queue, "gone.json"), &out)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
