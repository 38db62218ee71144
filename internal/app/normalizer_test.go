package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffchat/internal/backend"
	"staffchat/internal/config"
)

func TestChatCompletion_ExtractsReplyAndUsage(t *testing.T) {
	n := NewNormalizer(backend.NewClient(), t.TempDir(), t.TempDir())

	body := []byte(`{"choices":[{"message":{"content":"hello there"}}],"usage":{"prompt_tokens":42,"completion_tokens":7}}`)
	reply, usage, err := n.ChatCompletion(body)
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Equal(t, 42, usage.PromptTokens)
	assert.Equal(t, 7, usage.CompletionTokens)
}

func TestChatCompletion_APIErrorIsError(t *testing.T) {
	n := NewNormalizer(backend.NewClient(), t.TempDir(), t.TempDir())

	_, _, err := n.ChatCompletion([]byte(`{"error":{"message":"context length exceeded"}}`))
	require.Error(t, err)
	assert.Equal(t, "context length exceeded", err.Error())

	_, _, err = n.ChatCompletion([]byte(`not json`))
	require.Error(t, err)
}

func TestChatCompletion_NoChoices(t *testing.T) {
	n := NewNormalizer(backend.NewClient(), t.TempDir(), t.TempDir())

	reply, _, err := n.ChatCompletion([]byte(`{"choices":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "No response text found.", reply)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImage_Base64WritesFullsizeAndThumbnail(t *testing.T) {
	imageDir := t.TempDir()
	n := NewNormalizer(backend.NewClient(), imageDir, t.TempDir())

	payload := fmt.Sprintf(`{"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString(testPNG(t)))
	name, err := n.Image(context.Background(), []byte(payload), "chat-1")
	require.NoError(t, err)
	assert.Contains(t, name, "chat-1-")
	assert.Contains(t, name, ".png")

	_, err = os.Stat(filepath.Join(imageDir, "fullsize", name))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(imageDir, "small", name))
	require.NoError(t, err)
}

func TestImage_URLShape(t *testing.T) {
	pngBytes := testPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	imageDir := t.TempDir()
	n := NewNormalizer(backend.NewClient(), imageDir, t.TempDir())

	payload := fmt.Sprintf(`{"data":[{"url":%q}]}`, srv.URL+"/img.png")
	name, err := n.Image(context.Background(), []byte(payload), "chat-2")
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(imageDir, "fullsize", name))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, written)
}

func TestImage_MissingData(t *testing.T) {
	n := NewNormalizer(backend.NewClient(), t.TempDir(), t.TempDir())

	_, err := n.Image(context.Background(), []byte(`{"data":[]}`), "chat-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing b64_json/url")
}

func assistantMessage(fileID string) *backend.ThreadMessage {
	msg := &backend.ThreadMessage{ID: "msg_1", Role: "assistant"}
	part := backend.ThreadContent{Type: "text"}
	part.Text = &struct {
		Value       string               `json:"value"`
		Annotations []backend.Annotation `json:"annotations"`
	}{
		Value: "Here is your file [report.csv](sandbox:/mnt/data/report.csv) enjoy",
	}
	if fileID != "" {
		ann := backend.Annotation{Type: "file_path", Text: "/mnt/data/report.csv"}
		ann.FilePath = &struct {
			FileID string `json:"file_id"`
		}{FileID: fileID}
		part.Text.Annotations = []backend.Annotation{ann, ann} // duplicate on purpose
	}
	msg.Content = []backend.ThreadContent{part}
	return msg
}

func TestAssistant_StripsSandboxLinksAndSavesFilesOnce(t *testing.T) {
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openai/files/file-abc/content" {
			fetches++
			_, _ = w.Write([]byte("a,b,c\n1,2,3\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := backend.Deployment{
		Name: "assistant-test",
		Kind: backend.HostAssistant,
		DeploymentConfig: config.DeploymentConfig{
			URL:        srv.URL,
			APIVersion: "2024-05-01-preview",
		},
	}

	filesDir := t.TempDir()
	n := NewNormalizer(backend.NewClient(), t.TempDir(), filesDir)

	answer, links, err := n.Assistant(context.Background(), d, "chat-9", assistantMessage("file-abc"))
	require.NoError(t, err)
	assert.Equal(t, 1, fetches, "duplicate annotations should fetch once")
	require.Len(t, links, 1)
	assert.NotContains(t, answer, "sandbox:")
	assert.Contains(t, answer, "**Download:**")
	assert.Contains(t, answer, links[0].URL)

	saved, err := os.ReadFile(filepath.Join(filesDir, "chat-9", links[0].Filename))
	require.NoError(t, err)
	assert.Equal(t, "a,b,c\n1,2,3\n", string(saved))
}

func TestAssistant_NoAnnotations(t *testing.T) {
	n := NewNormalizer(backend.NewClient(), t.TempDir(), t.TempDir())

	answer, links, err := n.Assistant(context.Background(), backend.Deployment{}, "chat-10", assistantMessage(""))
	require.NoError(t, err)
	assert.Empty(t, links)
	assert.NotContains(t, answer, "Download")
}
