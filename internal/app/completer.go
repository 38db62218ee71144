package app

import (
	"context"
	"fmt"

	"staffchat/internal/backend"
	"staffchat/internal/prompt"
)

// BackendCompleter runs one-off chat completions against a named deployment.
// The summary and title services use it for their low-temperature calls.
type BackendCompleter struct {
	client      *backend.Client
	deployments map[string]backend.Deployment
	normalizer  *Normalizer
}

func NewBackendCompleter(client *backend.Client, deployments map[string]backend.Deployment, normalizer *Normalizer) *BackendCompleter {
	return &BackendCompleter{
		client:      client,
		deployments: deployments,
		normalizer:  normalizer,
	}
}

func (c *BackendCompleter) Complete(ctx context.Context, deployment string, messages []prompt.Message, temperature float64) (string, error) {
	d, ok := c.deployments[deployment]
	if !ok {
		return "", fmt.Errorf("deployment %q is not configured", deployment)
	}

	body, err := c.client.ChatCompletion(ctx, d, messages, backend.ChatOptions{Temperature: temperature})
	if err != nil {
		return "", err
	}
	reply, _, err := c.normalizer.ChatCompletion(body)
	if err != nil {
		return "", err
	}
	return reply, nil
}
