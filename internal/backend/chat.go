package backend

import (
	"context"
	"regexp"

	"staffchat/internal/prompt"
)

var (
	gpt5Pattern     = regexp.MustCompile(`(?i)\bgpt-5\b`)
	wideTopPPattern = regexp.MustCompile(`o1|o3|o4|5`)
)

// ChatOptions carries the per-chat generation preferences.
type ChatOptions struct {
	Temperature     float64
	ReasoningEffort string
	Verbosity       string
	DocTokens       int
}

// IsGPT5 reports whether the deployment targets a gpt-5 family reasoning
// model, checked against every name the deployment is known by.
func (d Deployment) IsGPT5() bool {
	combined := d.Name + " " + d.DeploymentName + " " + d.Model
	return gpt5Pattern.MatchString(combined)
}

// BuildChatPayload shapes the chat-completion request body. Reasoning models
// reject the classic sampling knobs and take reasoning_effort/verbosity
// instead; everything else keeps the legacy parameter set.
func BuildChatPayload(d Deployment, messages []prompt.Message, opts ChatOptions) map[string]any {
	payload := map[string]any{
		"messages": messages,
	}

	if d.IsGPT5() {
		effort := opts.ReasoningEffort
		if effort == "" {
			effort = "low"
		}
		verbosity := opts.Verbosity
		if verbosity == "" {
			verbosity = "low"
		}
		payload["reasoning_effort"] = effort
		payload["verbosity"] = verbosity

		if d.MaxCompletionTokens > 0 {
			payload["max_completion_tokens"] = completionCap(d, opts.DocTokens)
		}
		return payload
	}

	topP := 0.95
	if wideTopPPattern.MatchString(d.Name) {
		topP = 1.0
	}
	payload["temperature"] = opts.Temperature
	payload["frequency_penalty"] = 0
	payload["presence_penalty"] = 0
	payload["top_p"] = topP

	if d.MaxTokens > 0 {
		payload["max_tokens"] = d.MaxTokens
	}
	if d.MaxCompletionTokens > 0 {
		payload["max_completion_tokens"] = completionCap(d, opts.DocTokens)
		// models that take max_completion_tokens want the default temperature
		payload["temperature"] = 1
	}
	return payload
}

// completionCap bounds the completion budget by whatever context remains
// after inlined documents.
func completionCap(d Deployment, docTokens int) int {
	remaining := d.ContextLimit - docTokens
	if remaining < 1 {
		remaining = 1
	}
	if d.MaxCompletionTokens < remaining {
		return d.MaxCompletionTokens
	}
	return remaining
}

// ChatCompletion sends one chat-completion request and returns the raw
// response body for the normalizer to interpret.
func (c *Client) ChatCompletion(ctx context.Context, d Deployment, messages []prompt.Message, opts ChatOptions) ([]byte, error) {
	url := endpoint(d, "/openai/deployments/"+d.DeploymentName+"/chat/completions")
	if d.Kind == HostCustomProxy {
		// proxies take the payload at their configured URL verbatim
		url = d.URL
	}
	return c.postJSON(ctx, d, url, BuildChatPayload(d, messages, opts))
}
