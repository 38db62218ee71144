package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"staffchat/internal/prompt"
)

// ErrRunTimeout is returned when an assistant run stays unfinished past the
// maximum wait. Runs used to be polled forever; the cap turns a stuck remote
// run into a reportable error instead of a hung request.
var ErrRunTimeout = errors.New("assistant run timed out")

// ThreadMessage is one message fetched from an assistant thread.
type ThreadMessage struct {
	ID      string          `json:"id"`
	Role    string          `json:"role"`
	Content []ThreadContent `json:"content"`
}

// ThreadContent is one part of a thread message.
type ThreadContent struct {
	Type string `json:"type"`
	Text *struct {
		Value       string       `json:"value"`
		Annotations []Annotation `json:"annotations"`
	} `json:"text,omitempty"`
}

// Annotation marks a span of assistant text that references a generated file.
type Annotation struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	FilePath *struct {
		FileID string `json:"file_id"`
	} `json:"file_path,omitempty"`
}

type threadEnvelope struct {
	ID string `json:"id"`
}

type runEnvelope struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	RequiredAction *struct {
		Type              string `json:"type"`
		SubmitToolOutputs *struct {
			ToolCalls []struct {
				ID string `json:"id"`
			} `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
}

type messageList struct {
	Data []ThreadMessage `json:"data"`
}

// CreateThread makes a fresh remote thread.
func (c *Client) CreateThread(ctx context.Context, d Deployment) (string, error) {
	var thread threadEnvelope
	if err := c.restJSON(ctx, d, http.MethodPost, "/openai/threads", nil, &thread); err != nil {
		return "", err
	}
	if thread.ID == "" {
		return "", errors.New("thread create returned no id")
	}
	return thread.ID, nil
}

// AddThreadMessage appends one message to a thread. Blank content is skipped
// because the API rejects empty messages.
func (c *Client) AddThreadMessage(ctx context.Context, d Deployment, threadID, role, content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	body := map[string]string{"role": role, "content": content}
	return c.restJSON(ctx, d, http.MethodPost, "/openai/threads/"+threadID+"/messages", body, nil)
}

// RunAssistant posts this turn's messages onto the thread, starts a run, and
// polls it to completion. When the run pauses for tool output it submits an
// empty result per pending call so the remote code interpreter executes the
// tools itself. Any terminal status other than completed is fatal.
func (c *Client) RunAssistant(ctx context.Context, d Deployment, threadID string, turn []prompt.Message) (*ThreadMessage, error) {
	for _, m := range turn {
		if err := c.AddThreadMessage(ctx, d, threadID, m.Role, m.Content); err != nil {
			return nil, err
		}
	}

	var run runEnvelope
	err := c.restJSON(ctx, d, http.MethodPost, "/openai/threads/"+threadID+"/runs",
		map[string]string{"assistant_id": d.AssistantID}, &run)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.maxRunWait)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s (run %s status %s)", ErrRunTimeout, c.maxRunWait, run.ID, run.Status)
		}

		err := c.restJSON(ctx, d, http.MethodGet, "/openai/threads/"+threadID+"/runs/"+run.ID, nil, &run)
		if err != nil {
			return nil, err
		}

		if run.Status == "completed" {
			break
		}

		if run.Status == "requires_action" && run.RequiredAction != nil && run.RequiredAction.Type == "submit_tool_outputs" {
			var outputs []map[string]string
			if run.RequiredAction.SubmitToolOutputs != nil {
				for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
					outputs = append(outputs, map[string]string{
						"tool_call_id": tc.ID,
						"output":       "",
					})
				}
			}
			err := c.restJSON(ctx, d, http.MethodPost,
				"/openai/threads/"+threadID+"/runs/"+run.ID+"/submit_tool_outputs",
				map[string]any{"tool_outputs": outputs}, nil)
			if err != nil {
				return nil, err
			}
			continue
		}

		if run.Status != "queued" && run.Status != "in_progress" {
			return nil, fmt.Errorf("run ended with status %s", run.Status)
		}
	}

	var msgs messageList
	err = c.restJSON(ctx, d, http.MethodGet, "/openai/threads/"+threadID+"/messages?order=desc&limit=1", nil, &msgs)
	if err != nil {
		return nil, err
	}
	if len(msgs.Data) == 0 {
		return nil, errors.New("assistant run produced no messages")
	}
	return &msgs.Data[0], nil
}
