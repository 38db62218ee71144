package backend

import "context"

// GenerateImage requests one 1024x1024 image and returns the raw response
// body; the normalizer handles both base64 and URL result shapes.
func (c *Client) GenerateImage(ctx context.Context, d Deployment, promptText string) ([]byte, error) {
	model := d.Model
	if model == "" {
		model = "dall-e"
	}
	payload := map[string]any{
		"model":  model,
		"prompt": promptText,
		"n":      1,
		"size":   "1024x1024",
	}
	url := endpoint(d, "/openai/deployments/"+d.DeploymentName+"/images/generations")
	return c.postJSON(ctx, d, url, payload)
}
