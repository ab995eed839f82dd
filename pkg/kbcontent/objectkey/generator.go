package objectkey

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// DefaultPrefix is the key namespace used for knowledge-base documents
const DefaultPrefix = "knowledge-content"

// Generator defines the interface for object key generation strategies
type Generator interface {
	// GenerateKey creates an object key for storage backends. Keys must be
	// unique per contentID.
	GenerateKey(contentID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	FileName   string
	MimeType   string
	UploaderID string
}

// FlatGenerator produces {prefix}/{contentID}-{file name}
type FlatGenerator struct {
	Prefix string
}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{Prefix: DefaultPrefix}
}

func (g *FlatGenerator) GenerateKey(contentID uuid.UUID, metadata *KeyMetadata) string {
	prefix := strings.Trim(g.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if metadata != nil && metadata.FileName != "" {
		return fmt.Sprintf("%s/%s-%s", prefix, contentID, sanitizeFilename(metadata.FileName))
	}
	return fmt.Sprintf("%s/%s", prefix, contentID)
}

// GitLikeGenerator provides Git-style sharded keys:
// {prefix}/objects/ab/cd1234ef5678..._filename
type GitLikeGenerator struct {
	Prefix string
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		Prefix:      DefaultPrefix,
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(contentID uuid.UUID, metadata *KeyMetadata) string {
	id := strings.ReplaceAll(contentID.String(), "-", "")

	shard := g.ShardLength
	if shard <= 0 {
		shard = 2
	}
	if shard > len(id) {
		shard = len(id)
	}

	filename := id[shard:]
	if metadata != nil && metadata.FileName != "" {
		filename = fmt.Sprintf("%s_%s", filename, sanitizeFilename(metadata.FileName))
	}

	prefix := strings.Trim(g.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s/objects/%s/%s", prefix, id[:shard], filename)
}

// New returns the generator registered under name: "flat" (default) or "git-like".
func New(name string) (Generator, error) {
	switch strings.ToLower(name) {
	case "", "flat":
		return NewFlatGenerator(), nil
	case "git-like", "gitlike":
		return NewGitLikeGenerator(), nil
	}
	return nil, fmt.Errorf("unknown object key generator %q", name)
}

// sanitizeFilename strips directories and replaces characters that are
// awkward in object keys or filesystem paths.
func sanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return "file"
	}
	replacer := strings.NewReplacer(
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"#", "_",
		"%", "_",
		" ", "_",
	)
	return replacer.Replace(base)
}
