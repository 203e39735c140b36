package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

func TestIndexReport(t *testing.T) {
	r := New(domain.RepoID{Owner: "octocat", Name: "hello-world"}, "memory")
	r.CollectSource(4, 1, []domain.RepositoryFile{
		{Path: "README", ContentType: domain.ContentText, Size: 11},
		{Path: "docs/a.md", ContentType: domain.ContentText, Size: 2048},
		{Path: "main.go", ContentType: domain.ContentCode, Size: 30},
	})
	r.CollectChunks(make([]domain.Chunk, 2), make([]domain.Chunk, 1))
	r.AddStage("extract", 10*time.Millisecond, nil)
	r.AddStage("embed", 5*time.Millisecond, errors.New("provider down"))
	r.Finish()

	if r.Source.TextFiles != 2 || r.Source.CodeFiles != 1 || r.Source.TotalBytes != 2089 {
		t.Errorf("unexpected source metrics %+v", r.Source)
	}
	if r.Chunks.Total() != 3 {
		t.Errorf("expected 3 chunks, got %d", r.Chunks.Total())
	}
	if len(r.Errors) != 1 || r.Errors[0] != "embed: provider down" {
		t.Errorf("unexpected errors %v", r.Errors)
	}
	if r.FinishedAt.IsZero() {
		t.Error("expected the run to be finished")
	}

	var buf bytes.Buffer
	r.PrintSummary(&buf)
	out := buf.String()
	for _, want := range []string{"octocat/hello-world", "2.0 KB", "FAILED", "provider down"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	data, err := r.JSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["repository"] != "octocat/hello-world" {
		t.Errorf("unexpected JSON repository %v", decoded["repository"])
	}
}
