package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const maxListedProgram = 10000

const listerPrompt = `List the PyPI packages required to run the following Python code.
Ignore standard library modules such as os, sys, time, json and socket.

Code:
` + "```python\n%s\n```" + `

Output ONLY the package names, one per line. No other text.`

// PackageLister asks the model which packages a program imports.
type PackageLister struct {
	client *Client
}

// NewPackageLister creates a PackageLister.
func NewPackageLister(client *Client) *PackageLister {
	return &PackageLister{client: client}
}

// ListPackages returns the package names for program.
func (l *PackageLister) ListPackages(ctx context.Context, program string) ([]string, error) {
	if len(program) > maxListedProgram {
		program = program[:maxListedProgram]
	}
	text, err := l.client.complete(ctx, "lister", []openai.ChatCompletionMessage{user(fmt.Sprintf(listerPrompt, program))})
	if err != nil {
		return nil, err
	}
	return ParsePackages(text), nil
}

// ParsePackages splits a one-per-line answer, dropping fences, bullets and
// duplicates.
func ParsePackages(text string) []string {
	var pkgs []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = strings.TrimLeft(line, "-*• ")
		line = strings.TrimSpace(line)
		if line == "" || strings.ContainsAny(line, " \t") || seen[line] {
			continue
		}
		seen[line] = true
		pkgs = append(pkgs, line)
	}
	return pkgs
}
