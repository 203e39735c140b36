// Package chunk splits repository files into bounded fragments suitable for
// embedding.
package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// DefaultMaxChars is the chunk size cap in runes.
const DefaultMaxChars = 2000

// Rule names recorded on each chunk.
const (
	RuleParagraph = "paragraph"
	RuleBlock     = "block"
)

var blankLines = regexp.MustCompile(`\n(?:[ \t]*\n)+`)

// Chunker packs paragraphs (text) or blank-line separated blocks (code) into
// chunks of at most MaxChars runes.
type Chunker struct {
	MaxChars int
}

// New creates a chunker. A non-positive maxChars selects DefaultMaxChars.
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{MaxChars: maxChars}
}

// Split chunks every file and partitions the result by modality. Output keeps
// input file order, then chunk index.
func (c *Chunker) Split(files []domain.RepositoryFile) (textual, code []domain.Chunk) {
	for _, f := range files {
		chunks := c.ChunkFile(f)
		if f.ContentType.Modality() == domain.ModalityCode {
			code = append(code, chunks...)
		} else {
			textual = append(textual, chunks...)
		}
	}
	return textual, code
}

// ChunkFile splits a single file. Whitespace-only files yield no chunks.
func (c *Chunker) ChunkFile(f domain.RepositoryFile) []domain.Chunk {
	limit := c.MaxChars
	if limit <= 0 {
		limit = DefaultMaxChars
	}

	rule := RuleParagraph
	trim := strings.TrimSpace
	if f.ContentType == domain.ContentCode {
		rule = RuleBlock
		trim = trimBlock
	}

	content := strings.ReplaceAll(f.Content, "\r\n", "\n")
	var units []string
	for _, u := range blankLines.Split(content, -1) {
		if u = trim(u); u != "" {
			units = append(units, u)
		}
	}

	var chunks []domain.Chunk
	for _, piece := range pack(units, "\n\n", limit, splitLines) {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		chunks = append(chunks, domain.Chunk{
			FileName:    f.Path,
			ContentType: f.ContentType,
			Content:     piece,
			Index:       len(chunks),
			Rule:        rule,
			Language:    f.Language,
		})
	}
	return chunks
}

// trimBlock keeps leading indentation of the first code line.
func trimBlock(s string) string {
	s = strings.TrimRight(s, " \t\n")
	return strings.TrimLeft(s, "\n")
}

// pack greedily joins parts with sep while the result stays within limit
// runes. Parts longer than limit are flushed through split.
func pack(parts []string, sep string, limit int, split func(string, int) []string) []string {
	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	sepLen := utf8.RuneCountInString(sep)
	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		if n == 0 {
			continue
		}
		if n > limit {
			flush()
			out = append(out, split(p, limit)...)
			continue
		}
		if curLen > 0 && curLen+sepLen+n > limit {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += sepLen
		}
		cur.WriteString(p)
		curLen += n
	}
	flush()
	return out
}

func splitLines(s string, limit int) []string {
	return pack(strings.Split(s, "\n"), "\n", limit, splitWords)
}

func splitWords(s string, limit int) []string {
	return pack(strings.Fields(s), " ", limit, splitRunes)
}

func splitRunes(s string, limit int) []string {
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := min(limit, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
