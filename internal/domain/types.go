// Package domain holds the data model shared by the indexing and retrieval
// pipeline: repository files, chunks, modalities and the error taxonomy.
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// ContentType classifies a repository file.
type ContentType string

const (
	ContentText ContentType = "text"
	ContentCode ContentType = "code"
)

// Modality identifies one of the two embedding spaces. Vectors from
// different modalities are never compared.
type Modality string

const (
	ModalityTextual Modality = "textual"
	ModalityCode    Modality = "code"
)

// Modalities lists both spaces in the order they are reported.
var Modalities = []Modality{ModalityTextual, ModalityCode}

// Modality returns the embedding space that chunks of this content type use.
func (c ContentType) Modality() Modality {
	if c == ContentCode {
		return ModalityCode
	}
	return ModalityTextual
}

// Label returns the capitalised section name used in prompts.
func (m Modality) Label() string {
	switch m {
	case ModalityTextual:
		return "Textual"
	case ModalityCode:
		return "Code"
	}
	return string(m)
}

// RepoID identifies a hosted repository as owner/name.
type RepoID struct {
	Owner string
	Name  string
}

var (
	ownerPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$`)
	namePattern  = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
)

// ParseRepoID parses "owner/name" using the character sets GitHub allows.
// Owners are alphanumeric with inner hyphens. Names may also hold dots and
// underscores but are never "." or "..". Anything else is ErrInvalidRepo.
func ParseRepoID(s string) (RepoID, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoID{}, fmt.Errorf("%w: %q must be in the form owner/name", ErrInvalidRepo, s)
	}
	id := RepoID{Owner: parts[0], Name: parts[1]}
	if err := id.Validate(); err != nil {
		return RepoID{}, err
	}
	return id, nil
}

// Validate checks both segments against the allowed character sets.
func (r RepoID) Validate() error {
	if !ownerPattern.MatchString(r.Owner) {
		return fmt.Errorf("%w: owner %q", ErrInvalidRepo, r.Owner)
	}
	if r.Name == "." || r.Name == ".." || !namePattern.MatchString(r.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidRepo, r.Name)
	}
	return nil
}

func (r RepoID) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Owner + "/" + r.Name
}

// IsZero reports whether no repository is set.
func (r RepoID) IsZero() bool { return r.Owner == "" && r.Name == "" }

// RepositoryFile is one decoded file fetched from the default branch.
type RepositoryFile struct {
	Path        string
	Content     string
	ContentType ContentType
	Language    string
	Size        int
}

// Chunk is a bounded fragment of a single file.
type Chunk struct {
	FileName    string
	ContentType ContentType
	Content     string
	Index       int
	Rule        string
	Language    string
}

// Metadata keys stored next to every indexed chunk.
const (
	MetaFileName    = "file_name"
	MetaContentType = "content_type"
	MetaChunkIndex  = "chunk_index"
	MetaRule        = "rule"
	MetaLanguage    = "language"
)

// Metadata is the flat payload persisted with each vector.
type Metadata map[string]string

// Metadata returns the payload describing the chunk.
func (c Chunk) Metadata() Metadata {
	m := Metadata{
		MetaFileName:    c.FileName,
		MetaContentType: string(c.ContentType),
		MetaChunkIndex:  fmt.Sprintf("%d", c.Index),
		MetaRule:        c.Rule,
	}
	if c.Language != "" {
		m[MetaLanguage] = c.Language
	}
	return m
}

// String renders the metadata with a stable key order for prompts.
func (m Metadata) String() string {
	var b strings.Builder
	for _, k := range []string{MetaFileName, MetaContentType, MetaLanguage, MetaChunkIndex} {
		v, ok := m[k]
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(v)
	}
	return b.String()
}
