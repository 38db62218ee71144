package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffchat/internal/config"
	"staffchat/internal/prompt"
)

func testDeployment(name, host, url string) Deployment {
	d, err := ResolveDeployment(name, config.DeploymentConfig{
		Host:           host,
		URL:            url,
		APIKey:         "k",
		DeploymentName: name,
		APIVersion:     "2024-05-01",
		ContextLimit:   8192,
		AssistantID:    "asst_1",
		Enabled:        true,
	})
	if err != nil {
		panic(err)
	}
	return d
}

func TestParseHostKind(t *testing.T) {
	for host, want := range map[string]HostKind{
		"":             HostChatCompletion,
		"azure":        HostChatCompletion,
		"assistant":    HostAssistant,
		"dall-e":       HostImageGeneration,
		"gpt-image-1":  HostImageGeneration,
		"custom-proxy": HostCustomProxy,
	} {
		got, err := ParseHostKind(host)
		require.NoError(t, err, host)
		assert.Equal(t, want, got, host)
	}

	_, err := ParseHostKind("carrier-pigeon")
	assert.Error(t, err)
}

func TestResolveDeployment_RequiresContextLimit(t *testing.T) {
	_, err := ResolveDeployment("d", config.DeploymentConfig{Host: "azure", URL: "http://x"})
	assert.ErrorContains(t, err, "context_limit")

	// Image deployments never budget tokens, so no limit is fine.
	_, err = ResolveDeployment("d", config.DeploymentConfig{Host: "dall-e", URL: "http://x"})
	assert.NoError(t, err)
}

func TestBuildChatPayload_GPT5OmitsSamplingKnobs(t *testing.T) {
	d := testDeployment("gpt-5-mini", "azure", "http://x")
	d.MaxCompletionTokens = 20000

	payload := BuildChatPayload(d, nil, ChatOptions{
		Temperature:     0.3,
		ReasoningEffort: "high",
		Verbosity:       "medium",
		DocTokens:       1000,
	})

	assert.Equal(t, "high", payload["reasoning_effort"])
	assert.Equal(t, "medium", payload["verbosity"])
	assert.NotContains(t, payload, "temperature")
	assert.NotContains(t, payload, "top_p")
	assert.NotContains(t, payload, "frequency_penalty")
	// Capped by remaining context: 8192 - 1000.
	assert.Equal(t, 7192, payload["max_completion_tokens"])
}

func TestBuildChatPayload_ClassicModel(t *testing.T) {
	d := testDeployment("gpt-4.1-mini", "azure", "http://x")
	d.MaxTokens = 4096

	payload := BuildChatPayload(d, nil, ChatOptions{Temperature: 0.7})

	assert.Equal(t, 0.7, payload["temperature"])
	assert.Equal(t, 0.95, payload["top_p"])
	assert.Equal(t, 0, payload["frequency_penalty"])
	assert.Equal(t, 4096, payload["max_tokens"])
	assert.NotContains(t, payload, "reasoning_effort")
}

func TestBuildChatPayload_ReasoningFamilyTopP(t *testing.T) {
	d := testDeployment("o3-mini", "azure", "http://x")
	payload := BuildChatPayload(d, nil, ChatOptions{Temperature: 1})
	assert.Equal(t, 1.0, payload["top_p"])
}

func TestBuildChatPayload_MaxCompletionForcesTemperature(t *testing.T) {
	d := testDeployment("gpt-4o", "azure", "http://x")
	d.MaxCompletionTokens = 2000
	payload := BuildChatPayload(d, nil, ChatOptions{Temperature: 0.2})
	assert.Equal(t, 2000, payload["max_completion_tokens"])
	assert.Equal(t, 1, payload["temperature"])
}

// assistantServer scripts a run through the given status sequence.
func assistantServer(t *testing.T, statuses []string, withToolCall bool) *httptest.Server {
	t.Helper()
	step := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /openai/threads", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
	})
	mux.HandleFunc("POST /openai/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg"})
	})
	mux.HandleFunc("POST /openai/threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "queued"})
	})
	mux.HandleFunc("GET /openai/threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		status := statuses[min(step, len(statuses)-1)]
		step++
		resp := map[string]any{"id": "run_1", "status": status}
		if status == "requires_action" && withToolCall {
			resp["required_action"] = map[string]any{
				"type": "submit_tool_outputs",
				"submit_tool_outputs": map[string]any{
					"tool_calls": []map[string]string{{"id": "call_1"}},
				},
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /openai/threads/thread_1/runs/run_1/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		outputs := body["tool_outputs"].([]any)
		require.Len(t, outputs, 1)
		assert.Equal(t, "", outputs[0].(map[string]any)["output"])
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "queued"})
	})
	mux.HandleFunc("GET /openai/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"id":   "msg_9",
				"role": "assistant",
				"content": []map[string]any{
					{"type": "text", "text": map[string]any{"value": "final answer"}},
				},
			}},
		})
	})
	return httptest.NewServer(mux)
}

func fastClient() *Client {
	c := NewClient()
	c.pollInterval = time.Millisecond
	c.maxRunWait = time.Second
	return c
}

func TestRunAssistant_PollsToCompletion(t *testing.T) {
	server := assistantServer(t, []string{"queued", "in_progress", "completed"}, false)
	defer server.Close()

	c := fastClient()
	d := testDeployment("asst", "assistant", server.URL)

	msg, err := c.RunAssistant(context.Background(), d, "thread_1", []prompt.Message{
		{Role: prompt.RoleUser, Content: "question"},
	})
	require.NoError(t, err)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "final answer", msg.Content[0].Text.Value)
}

func TestRunAssistant_SubmitsEmptyToolOutputs(t *testing.T) {
	server := assistantServer(t, []string{"queued", "requires_action", "completed"}, true)
	defer server.Close()

	c := fastClient()
	d := testDeployment("asst", "assistant", server.URL)

	msg, err := c.RunAssistant(context.Background(), d, "thread_1", nil)
	require.NoError(t, err)
	assert.Equal(t, "msg_9", msg.ID)
}

func TestRunAssistant_FatalStatus(t *testing.T) {
	server := assistantServer(t, []string{"queued", "failed"}, false)
	defer server.Close()

	c := fastClient()
	d := testDeployment("asst", "assistant", server.URL)

	_, err := c.RunAssistant(context.Background(), d, "thread_1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run ended with status failed")
}

func TestRunAssistant_TimesOut(t *testing.T) {
	server := assistantServer(t, []string{"in_progress"}, false)
	defer server.Close()

	c := fastClient()
	c.maxRunWait = 20 * time.Millisecond
	d := testDeployment("asst", "assistant", server.URL)

	_, err := c.RunAssistant(context.Background(), d, "thread_1", nil)
	assert.ErrorIs(t, err, ErrRunTimeout)
}

func TestCreateThread(t *testing.T) {
	server := assistantServer(t, nil, false)
	defer server.Close()

	c := fastClient()
	d := testDeployment("asst", "assistant", server.URL)

	id, err := c.CreateThread(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "thread_1", id)
}
