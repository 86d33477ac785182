package agents

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"

	"github.com/rskrny/aipromptai/pkg/refiner"
)

// NoScreenshotText stands in for the image when no capture exists.
const NoScreenshotText = "No screenshot available yet (first run or error)."

const planningPrompt = `You are the technical lead for a mobile-first web app.
User request: %q
Iteration: %d (initial planning)
Write structured instructions for a coder to build the first version as a single Python Flask file.`

const reviewPrompt = `You are the technical lead reviewing a mobile-first web app.
User request: %q
Iteration: %d
The screenshot, when present, is the running app in a mobile viewport. Review it and the code against the request.
If the app fully meets the request respond with exactly: APPROVED
Otherwise respond with a critique ending in concrete instructions for the coder.`

// Reviewer critiques the current program and screenshot.
type Reviewer struct {
	client *Client
}

// NewReviewer creates a Reviewer.
func NewReviewer(client *Client) *Reviewer {
	return &Reviewer{client: client}
}

// Review asks the model for an instruction or an approval. API failures are
// returned as critique text so the loop keeps going.
func (r *Reviewer) Review(ctx context.Context, req refiner.ReviewRequest) (string, error) {
	messages, err := reviewMessages(req)
	if err != nil {
		return "", err
	}

	text, err := r.client.complete(ctx, "reviewer", messages)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fmt.Sprintf("Error generating critique: %v", err), nil
	}
	return text, nil
}

func reviewMessages(req refiner.ReviewRequest) ([]openai.ChatCompletionMessage, error) {
	prompt := fmt.Sprintf(reviewPrompt, req.Goal, req.Ordinal)
	if req.Ordinal <= 1 {
		prompt = fmt.Sprintf(planningPrompt, req.Goal, req.Ordinal)
	}

	var parts []openai.ChatMessagePart
	text := func(s string) {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: s})
	}

	if req.Program != "" {
		text("Current Code:\n```python\n" + req.Program + "\n```")
	}

	image, err := imageURL(req.ArtifactPath)
	if err != nil {
		return nil, err
	}
	if image != "" {
		text("Here is the screenshot of the running application:")
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: image, Detail: openai.ImageURLDetailAuto},
		})
	} else {
		text(NoScreenshotText)
	}

	if last, ok := req.LastIteration(); ok {
		if last.Instruction != "" {
			text("Previous Instruction: " + last.Instruction)
		}
		if report := last.Report(); report != "" {
			text("System Report: " + report)
		}
	}

	return []openai.ChatCompletionMessage{
		system(prompt),
		{Role: openai.ChatMessageRoleUser, MultiContent: parts},
	}, nil
}

// imageURL encodes the artifact as a data URL, or returns "" when there is
// no artifact on disk.
func imageURL(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read screenshot: %w", err)
	}
	if len(data) == 0 {
		return "", nil
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}

var _ refiner.Reviewer = (*Reviewer)(nil)
