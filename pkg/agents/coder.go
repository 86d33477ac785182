package agents

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/rskrny/aipromptai/pkg/refiner"
)

const coderPrompt = `You write complete single-file Python Flask applications.
Put the HTML, CSS and JavaScript in the same file and serve it with render_template_string; there is no templates folder.
The app must listen on the port in the PORT environment variable:
    port = int(os.environ.get("PORT", 5000))
    app.run(host="0.0.0.0", port=port)
Return only the Python code.`

// Coder turns instructions into programs.
type Coder struct {
	client *Client
}

// NewCoder creates a Coder.
func NewCoder(client *Client) *Coder {
	return &Coder{client: client}
}

// Write sends the instruction after every earlier exchange and returns the
// extracted program.
func (c *Coder) Write(ctx context.Context, instruction string, turns []refiner.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+2)
	messages = append(messages, system(coderPrompt))
	for _, t := range turns {
		messages = append(messages, user("Instruction: "+t.Instruction+"\nCode: "+t.Code))
	}
	messages = append(messages, user(instruction))

	text, err := c.client.complete(ctx, "coder", messages)
	if err != nil {
		return "", err
	}
	return ExtractCode(text), nil
}

// ExtractCode returns the contents of the first ```python block, else of the
// first fenced block, else the trimmed text.
func ExtractCode(text string) string {
	if _, rest, ok := strings.Cut(text, "```python"); ok {
		code, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(code)
	}
	if _, rest, ok := strings.Cut(text, "```"); ok {
		code, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(code)
	}
	return strings.TrimSpace(text)
}

var _ refiner.Coder = (*Coder)(nil)
