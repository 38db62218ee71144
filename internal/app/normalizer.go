package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"staffchat/internal/backend"
)

var sandboxLinkPattern = regexp.MustCompile(`(?i)\[[^\]]+\]\(sandbox:[^)]+\)`)

// DownloadLink is one assistant-generated file saved locally.
type DownloadLink struct {
	Filename    string `json:"filename"`
	DisplayName string `json:"display_name,omitempty"`
	URL         string `json:"url"`
}

// Normalizer flattens the three backend response shapes into plain reply
// text plus side artifacts (saved images, download links).
type Normalizer struct {
	client   *backend.Client
	imageDir string
	filesDir string
}

func NewNormalizer(client *backend.Client, imageDir, filesDir string) *Normalizer {
	return &Normalizer{
		client:   client,
		imageDir: imageDir,
		filesDir: filesDir,
	}
}

type completionBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// CompletionUsage is the token accounting a completions response reported.
type CompletionUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatCompletion extracts the reply text from a completions response body.
// An API-reported error comes back as a non-nil error; no exchange should be
// recorded for it.
func (n *Normalizer) ChatCompletion(body []byte) (string, CompletionUsage, error) {
	var data completionBody
	if err := json.Unmarshal(body, &data); err != nil {
		return "", CompletionUsage{}, errors.New("invalid JSON from completions API")
	}
	usage := CompletionUsage{
		PromptTokens:     data.Usage.PromptTokens,
		CompletionTokens: data.Usage.CompletionTokens,
	}
	if data.Error != nil {
		message := data.Error.Message
		if message == "" {
			message = "Unknown error"
		}
		return "", usage, errors.New(message)
	}
	if len(data.Choices) == 0 {
		return "No response text found.", usage, nil
	}
	return data.Choices[0].Message.Content, usage, nil
}

// Assistant flattens an assistant thread message. Text parts are concatenated,
// file annotations are downloaded once per file id, sandbox links the model
// wrote are removed, and a download list is appended in their place.
func (n *Normalizer) Assistant(ctx context.Context, d backend.Deployment, chatID string, msg *backend.ThreadMessage) (string, []DownloadLink, error) {
	var text strings.Builder
	var links []DownloadLink
	seen := map[string]bool{}

	save := func(fileID, label string) {
		if fileID == "" || seen[fileID] {
			return
		}
		seen[fileID] = true
		link, err := n.saveAssistantFile(ctx, d, chatID, fileID, label)
		if err != nil {
			log.Printf("save assistant file %s failed: %v", fileID, err)
			return
		}
		links = append(links, link)
	}

	for _, part := range msg.Content {
		switch part.Type {
		case "text":
			if part.Text == nil {
				continue
			}
			text.WriteString(part.Text.Value)
			for _, ann := range part.Text.Annotations {
				if ann.Type == "file_path" && ann.FilePath != nil {
					save(ann.FilePath.FileID, ann.Text)
				}
			}
		}
	}

	answer := sandboxLinkPattern.ReplaceAllString(text.String(), "")
	if len(links) > 0 {
		var list strings.Builder
		list.WriteString("\n\n---\n**Download:**\n")
		for _, l := range links {
			label := l.DisplayName
			if label == "" {
				label = l.Filename
			}
			fmt.Fprintf(&list, "- [%s](%s)\n", label, l.URL)
		}
		answer += list.String()
	}
	return answer, links, nil
}

func (n *Normalizer) saveAssistantFile(ctx context.Context, d backend.Deployment, chatID, fileID, label string) (DownloadLink, error) {
	data, err := n.client.FetchFileContent(ctx, d, fileID)
	if err != nil {
		return DownloadLink{}, err
	}

	name := filepath.Base(strings.TrimSpace(label))
	if name == "" || name == "." || name == "/" {
		name = fileID
	}
	filename := chatID + "-" + uuid.NewString()[:8] + "-" + name

	dir := filepath.Join(n.filesDir, chatID)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return DownloadLink{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o664); err != nil {
		return DownloadLink{}, err
	}

	return DownloadLink{
		Filename:    filename,
		DisplayName: name,
		URL:         "/files/" + chatID + "/" + filename,
	}, nil
}

type imageBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// Image decodes an image-generation response, writes the full-size PNG plus a
// half-scale thumbnail, and returns the stored image name. Thumbnail failures
// are logged and tolerated.
func (n *Normalizer) Image(ctx context.Context, body []byte, chatID string) (string, error) {
	var data imageBody
	if err := json.Unmarshal(body, &data); err != nil {
		return "", errors.New("invalid JSON from image API")
	}
	if data.Error != nil && data.Error.Message != "" {
		return "", errors.New(data.Error.Message)
	}

	var bin []byte
	for _, item := range data.Data {
		if item.B64JSON != "" {
			decoded, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return "", errors.New("failed to base64-decode image data")
			}
			bin = decoded
			break
		}
		if item.URL != "" {
			fetched, err := n.client.FetchURL(ctx, item.URL)
			if err != nil {
				return "", fmt.Errorf("failed to fetch image URL: %w", err)
			}
			bin = fetched
			break
		}
	}
	if bin == nil {
		return "", errors.New("image API response missing b64_json/url")
	}

	fullDir := filepath.Join(n.imageDir, "fullsize")
	smallDir := filepath.Join(n.imageDir, "small")
	for _, dir := range []string{fullDir, smallDir} {
		if err := os.MkdirAll(dir, 0o775); err != nil {
			return "", err
		}
	}

	imageName := chatID + "-" + uuid.NewString()[:13] + ".png"
	fullPath := filepath.Join(fullDir, imageName)
	if err := os.WriteFile(fullPath, bin, 0o664); err != nil {
		return "", fmt.Errorf("cannot write full-size image: %w", err)
	}

	if err := writeThumbnail(bin, filepath.Join(smallDir, imageName)); err != nil {
		log.Printf("thumbnail generation failed for %s: %v", fullPath, err)
	}
	return imageName, nil
}

func writeThumbnail(bin []byte, path string) error {
	img, err := imaging.Decode(bytes.NewReader(bin))
	if err != nil {
		return err
	}
	bounds := img.Bounds()
	small := imaging.Resize(img, bounds.Dx()/2, bounds.Dy()/2, imaging.Lanczos)

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	return png.Encode(out, small)
}
