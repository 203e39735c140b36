package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

func textFile(path, content string) domain.RepositoryFile {
	return domain.RepositoryFile{Path: path, Content: content, ContentType: domain.ContentText, Language: "markdown"}
}

func codeFile(path, content string) domain.RepositoryFile {
	return domain.RepositoryFile{Path: path, Content: content, ContentType: domain.ContentCode, Language: "go"}
}

func TestSmallFileIsOneChunk(t *testing.T) {
	c := New(0)
	chunks := c.ChunkFile(textFile("README.md", "# Title\n\n\n\nSome words here.\n"))
	require.Len(t, chunks, 1)
	assert.Equal(t, "# Title\n\nSome words here.", chunks[0].Content)
	assert.Equal(t, RuleParagraph, chunks[0].Rule)
	assert.Equal(t, "README.md", chunks[0].FileName)
	assert.Equal(t, 0, chunks[0].Index)
}

func TestEmptyFilesYieldNothing(t *testing.T) {
	c := New(100)
	assert.Empty(t, c.ChunkFile(textFile("empty.md", "")))
	assert.Empty(t, c.ChunkFile(textFile("blank.md", " \n\n\t\n  ")))
}

func TestParagraphsArePackedGreedily(t *testing.T) {
	c := New(20)
	chunks := c.ChunkFile(textFile("a.md", "aaaaaaaa\n\nbbbbbbbb\n\ncccccccc"))
	require.Len(t, chunks, 2)
	assert.Equal(t, "aaaaaaaa\n\nbbbbbbbb", chunks[0].Content)
	assert.Equal(t, "cccccccc", chunks[1].Content)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestOversizedUnitsFallBackToLinesWordsRunes(t *testing.T) {
	c := New(10)
	long := strings.Repeat("x", 25)
	content := "one two\nthree four five six\n" + long
	chunks := c.ChunkFile(textFile("a.txt", content))

	var got []string
	for _, ch := range chunks {
		got = append(got, ch.Content)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 10)
		assert.NotEmpty(t, strings.TrimSpace(ch.Content))
	}
	assert.Equal(t, []string{
		"one two",
		"three four",
		"five six",
		"xxxxxxxxxx",
		"xxxxxxxxxx",
		"xxxxx",
	}, got)
}

func TestRuneBoundaries(t *testing.T) {
	c := New(3)
	chunks := c.ChunkFile(textFile("u.txt", "ğüşiöç"))
	require.Len(t, chunks, 2)
	assert.Equal(t, "ğüş", chunks[0].Content)
	assert.Equal(t, "iöç", chunks[1].Content)
}

func TestCodeKeepsIndentation(t *testing.T) {
	c := New(0)
	src := "package main\n\nfunc main() {\n\tprintln(1)\n}\n\n\n\tindented()\n"
	chunks := c.ChunkFile(codeFile("main.go", src))
	require.Len(t, chunks, 1)
	assert.Equal(t, "package main\n\nfunc main() {\n\tprintln(1)\n}\n\n\tindented()", chunks[0].Content)
	assert.Equal(t, RuleBlock, chunks[0].Rule)
	assert.Equal(t, "go", chunks[0].Language)
}

func TestSplitPartitionsByModality(t *testing.T) {
	files := []domain.RepositoryFile{
		textFile("README", "Hello World"),
		textFile("CONTRIBUTING.md", "Be nice"),
		codeFile("main.go", "package main"),
		textFile("EMPTY", "   "),
	}
	textual, code := New(0).Split(files)
	require.Len(t, textual, 2)
	require.Len(t, code, 1)
	assert.Equal(t, "README", textual[0].FileName)
	assert.Equal(t, "CONTRIBUTING.md", textual[1].FileName)
	assert.Equal(t, domain.ContentCode, code[0].ContentType)
}

func TestChunkingIsDeterministic(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("paragraph with a handful of words in it\n\n")
	}
	f := textFile("big.md", b.String())
	c := New(150)
	first := c.ChunkFile(f)
	second := c.ChunkFile(f)
	require.Equal(t, first, second)
	for i, ch := range first {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 150)
	}
}
