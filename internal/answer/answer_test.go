package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/llm"
	"github.com/efebarandurmaz/repolens/internal/retrieve"
)

type fakeCompleter struct {
	prompt *llm.Prompt
	opts   *llm.RequestOptions
	reply  string
	err    error
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, p *llm.Prompt, o *llm.RequestOptions) (*llm.Response, error) {
	f.prompt, f.opts = p, o
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.reply}, nil
}

func TestSynthesizeLayout(t *testing.T) {
	res := retrieve.Result{
		Textual: []retrieve.RetrievedChunk{
			{Score: 0.91234, Content: "Hello World", Metadata: domain.Metadata{domain.MetaFileName: "README", domain.MetaContentType: "text"}},
			{Score: 0.5, Content: "Guide", Metadata: domain.Metadata{domain.MetaFileName: "docs/guide.md", domain.MetaContentType: "text"}},
		},
	}
	got := Synthesize("What does it print?", res)

	assert.True(t, strings.HasPrefix(got, Instruction+"\n\nQuestion: What does it print?\n\nContext:\n"))
	assert.Contains(t, got, "\n--- Textual Chunks ---\nScore: 0.9123\nContent: Hello World\nMetadata: file_name=README, content_type=text\n\n")
	assert.Contains(t, got, "\n--- Code Chunks ---\nNo Code chunks found\n")
	assert.True(t, strings.HasSuffix(got, "\nAnswer:"))

	// Rank order is preserved and textual precedes code.
	assert.Less(t, strings.Index(got, "Hello World"), strings.Index(got, "Guide"))
	assert.Less(t, strings.Index(got, "Textual Chunks"), strings.Index(got, "Code Chunks"))
}

func TestSynthesizeBothEmpty(t *testing.T) {
	got := Synthesize("q", retrieve.Result{})
	assert.Contains(t, got, "--- Textual Chunks ---\nNo Textual chunks found\n")
	assert.Contains(t, got, "--- Code Chunks ---\nNo Code chunks found\n")
}

func TestAnswerSendsFixedSettings(t *testing.T) {
	f := &fakeCompleter{reply: "<think>hmm</think>\nIt prints Hello World.  "}
	a := New(f, DefaultConfig(), nil)

	out, err := a.Answer(context.Background(), "PROMPT")
	require.NoError(t, err)
	assert.Equal(t, "It prints Hello World.", out)

	require.NotNil(t, f.prompt)
	assert.Equal(t, SystemPrompt, f.prompt.SystemPrompt)
	require.Len(t, f.prompt.Messages, 1)
	assert.Equal(t, llm.RoleUser, f.prompt.Messages[0].Role)
	assert.Equal(t, "PROMPT", f.prompt.Messages[0].Content)
	assert.Equal(t, 500, *f.opts.MaxTokens)
	assert.InDelta(t, 0.1, *f.opts.Temperature, 1e-9)
}

func TestAnswerWrapsProviderErrors(t *testing.T) {
	cause := errors.New("503")
	_, err := New(&fakeCompleter{err: cause}, Config{}, nil).Answer(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrCompletionProvider)
	assert.ErrorIs(t, err, cause)

	_, err = New(nil, Config{}, nil).Answer(context.Background(), "p")
	assert.ErrorIs(t, err, domain.ErrCompletionProvider)
}
