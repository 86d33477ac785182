package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rskrny/aipromptai/pkg/refiner"
)

// fakeAPI serves /chat/completions with a canned answer and records requests.
type fakeAPI struct {
	mu       sync.Mutex
	requests []openai.ChatCompletionRequest
	answer   string
	status   int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
		http.NotFound(w, r)
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	status, answer := f.status, f.answer
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		ID:     "chatcmpl-test",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: answer},
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

func (f *fakeAPI) last(t *testing.T) openai.ChatCompletionRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Model: "test-model"}, nil)
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), APIKeyEnv)
}

func TestNewClient_EnvKeyAndDefaultModel(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")
	c, err := NewClient(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())
}

func TestReviewer_PlanningWithoutScreenshot(t *testing.T) {
	api := &fakeAPI{answer: "Build a landing page with a bottom nav"}
	r := NewReviewer(newTestClient(t, api))

	got, err := r.Review(context.Background(), refiner.ReviewRequest{Goal: "coffee shop app", Ordinal: 1})
	require.NoError(t, err)
	assert.Equal(t, "Build a landing page with a bottom nav", got)

	req := api.last(t)
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "initial planning")
	assert.Contains(t, req.Messages[0].Content, "coffee shop app")

	parts := req.Messages[1].MultiContent
	require.Len(t, parts, 1, "no code and no history on the first pass")
	assert.Equal(t, NoScreenshotText, parts[0].Text)
}

func TestReviewer_ReviewWithScreenshotAndHistory(t *testing.T) {
	dir := t.TempDir()
	shot := filepath.Join(dir, "screenshot.png")
	require.NoError(t, os.WriteFile(shot, []byte{0x89, 'P', 'N', 'G'}, 0o644))

	api := &fakeAPI{answer: "APPROVED"}
	r := NewReviewer(newTestClient(t, api))

	got, err := r.Review(context.Background(), refiner.ReviewRequest{
		Goal:         "coffee shop app",
		Ordinal:      2,
		Program:      "print('hi')",
		ArtifactPath: shot,
		History: []refiner.Iteration{{
			Ordinal:     1,
			Instruction: "add a menu",
			CrashReport: "Server failed to start on port 5000.\nLogs:\nboom",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", got)

	req := api.last(t)
	assert.Contains(t, req.Messages[0].Content, "APPROVED")
	assert.NotContains(t, req.Messages[0].Content, "initial planning")

	var texts []string
	var image string
	for _, p := range req.Messages[1].MultiContent {
		switch p.Type {
		case openai.ChatMessagePartTypeText:
			texts = append(texts, p.Text)
		case openai.ChatMessagePartTypeImageURL:
			image = p.ImageURL.URL
		}
	}
	assert.Equal(t, "data:image/png;base64,iVBORw==", image)
	joined := strings.Join(texts, "\n")
	assert.Contains(t, joined, "Current Code:\n```python\nprint('hi')\n```")
	assert.Contains(t, joined, "Previous Instruction: add a menu")
	assert.Contains(t, joined, "Logs:\nboom")
	assert.NotContains(t, joined, NoScreenshotText)
}

func TestReviewer_MissingScreenshotFile(t *testing.T) {
	api := &fakeAPI{answer: "fix it"}
	r := NewReviewer(newTestClient(t, api))

	_, err := r.Review(context.Background(), refiner.ReviewRequest{
		Goal:         "x",
		Ordinal:      3,
		ArtifactPath: filepath.Join(t.TempDir(), "gone.png"),
	})
	require.NoError(t, err)

	parts := api.last(t).Messages[1].MultiContent
	require.Len(t, parts, 1)
	assert.Equal(t, NoScreenshotText, parts[0].Text)
}

func TestReviewer_APIErrorBecomesCritique(t *testing.T) {
	api := &fakeAPI{status: http.StatusServiceUnavailable}
	r := NewReviewer(newTestClient(t, api))

	got, err := r.Review(context.Background(), refiner.ReviewRequest{Goal: "x", Ordinal: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Error generating critique: "), got)
	assert.False(t, refiner.IsApproval(got))
}

func TestCoder_SendsHistoryAndExtractsCode(t *testing.T) {
	api := &fakeAPI{answer: "Here you go:\n```python\nfrom flask import Flask\napp = Flask(__name__)\n```\nEnjoy"}
	c := NewCoder(newTestClient(t, api))

	code, err := c.Write(context.Background(), "add dark mode", []refiner.Turn{
		{Instruction: "build it", Code: "v1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from flask import Flask\napp = Flask(__name__)", code)

	req := api.last(t)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "PORT")
	assert.Equal(t, "Instruction: build it\nCode: v1", req.Messages[1].Content)
	assert.Equal(t, "add dark mode", req.Messages[2].Content)
}

func TestCoder_APIErrorPropagates(t *testing.T) {
	api := &fakeAPI{status: http.StatusInternalServerError}
	c := NewCoder(newTestClient(t, api))

	_, err := c.Write(context.Background(), "x", nil)
	assert.Error(t, err)
}

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"python fence", "intro\n```python\nprint(1)\n```\noutro", "print(1)"},
		{"python preferred", "```\nplain\n```\n```python\nprint(2)\n```", "print(2)"},
		{"bare fence", "```\nprint(3)\n```", "print(3)"},
		{"unterminated", "```python\nprint(4)\n", "print(4)"},
		{"no fence", "  print(5)\n", "print(5)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.in))
		})
	}
}

func TestPackageLister(t *testing.T) {
	api := &fakeAPI{answer: "```\nflask\n- requests\nflask\n```"}
	l := NewPackageLister(newTestClient(t, api))

	long := strings.Repeat("x", maxListedProgram+500)
	pkgs, err := l.ListPackages(context.Background(), long)
	require.NoError(t, err)
	assert.Equal(t, []string{"flask", "requests"}, pkgs)

	prompt := api.last(t).Messages[0].Content
	assert.Less(t, len(prompt), maxListedProgram+400, "program is truncated")
}

func TestParsePackages(t *testing.T) {
	assert.Empty(t, ParsePackages(""))
	assert.Empty(t, ParsePackages("\n  \n"))
	assert.Equal(t, []string{"pandas", "plotly"}, ParsePackages("* pandas\n\n• plotly\nThese are all the packages"))
}
