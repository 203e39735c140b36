// Package metrics records what a single indexing run did.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// IndexReport collects statistics for one analyze run.
type IndexReport struct {
	Repository string        `json:"repository"`
	Host       string        `json:"host"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"duration_ms,omitempty"`
	Source     SourceMetrics `json:"source"`
	Chunks     ChunkMetrics  `json:"chunks"`
	Stages     []StageMetric `json:"stages"`
	Embedding  EmbedMetrics  `json:"embedding"`
	Errors     []string      `json:"errors,omitempty"`
}

// SourceMetrics describes the extracted files.
type SourceMetrics struct {
	Listed     int `json:"listed"`
	Files      int `json:"files"`
	Skipped    int `json:"skipped"`
	TextFiles  int `json:"text_files"`
	CodeFiles  int `json:"code_files"`
	TotalBytes int `json:"total_bytes"`
}

// ChunkMetrics counts chunks per modality.
type ChunkMetrics struct {
	Textual int `json:"textual"`
	Code    int `json:"code"`
}

// EmbedMetrics names the providers used for each space.
type EmbedMetrics struct {
	TextProvider string `json:"text_provider"`
	CodeProvider string `json:"code_provider"`
	Dimension    int    `json:"dimension,omitempty"`
}

// StageMetric records a single stage's timing.
type StageMetric struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ms"`
	Err      string        `json:"error,omitempty"`
}

// New starts tracking a run for repo.
func New(repo domain.RepoID, host string) *IndexReport {
	return &IndexReport{Repository: repo.String(), Host: host, StartedAt: time.Now()}
}

// CollectSource computes source-side metrics from the extracted files.
func (r *IndexReport) CollectSource(listed, skipped int, files []domain.RepositoryFile) {
	r.Source.Listed = listed
	r.Source.Skipped = skipped
	r.Source.Files = len(files)
	for _, f := range files {
		if f.ContentType == domain.ContentCode {
			r.Source.CodeFiles++
		} else {
			r.Source.TextFiles++
		}
		r.Source.TotalBytes += f.Size
	}
}

// CollectChunks records how many chunks each modality produced.
func (r *IndexReport) CollectChunks(textual, code []domain.Chunk) {
	r.Chunks.Textual = len(textual)
	r.Chunks.Code = len(code)
}

// Total returns the number of chunks indexed.
func (c ChunkMetrics) Total() int { return c.Textual + c.Code }

// AddStage records a stage's duration and error, if any.
func (r *IndexReport) AddStage(name string, d time.Duration, err error) {
	s := StageMetric{Name: name, Duration: d}
	if err != nil {
		s.Err = err.Error()
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", name, err))
	}
	r.Stages = append(r.Stages, s)
}

// Finish marks the run as complete.
func (r *IndexReport) Finish() {
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
}

// PrintSummary writes a human-readable summary.
func (r *IndexReport) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║         REPOLENS INDEX REPORT        ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Repository:  %-23s║\n", r.Repository)
	fmt.Fprintf(w, "║ Host:        %-23s║\n", r.Host)
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ SOURCE\n")
	fmt.Fprintf(w, "║   Listed:      %d\n", r.Source.Listed)
	fmt.Fprintf(w, "║   Extracted:   %d (%d text, %d code)\n", r.Source.Files, r.Source.TextFiles, r.Source.CodeFiles)
	fmt.Fprintf(w, "║   Skipped:     %d\n", r.Source.Skipped)
	fmt.Fprintf(w, "║   Total Size:  %s\n", formatBytes(r.Source.TotalBytes))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ CHUNKS\n")
	fmt.Fprintf(w, "║   Textual:     %d  [%s]\n", r.Chunks.Textual, r.Embedding.TextProvider)
	fmt.Fprintf(w, "║   Code:        %d  [%s]\n", r.Chunks.Code, r.Embedding.CodeProvider)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ STAGES\n")
	for _, s := range r.Stages {
		status := "OK"
		if s.Err != "" {
			status = "FAILED"
		}
		fmt.Fprintf(w, "║   %-10s %8s  %s\n", s.Name, s.Duration.Round(time.Millisecond), status)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (r *IndexReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func formatBytes(b int) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
