package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/chainable/errors"
)

// TimestampLayout is the UTC timestamp embedded in Markdown file names
const TimestampLayout = "2006-01-02-15-04-05"

// MarkdownSink writes all chapters to <dir>/<name>-<timestamp>.md
type MarkdownSink struct {
	// Now supplies the timestamp (time.Now when nil)
	Now func() time.Time
	// DefaultDir is used when the document has no Location
	DefaultDir string
	Logger     *zap.SugaredLogger
}

// IsPlainName reports whether name is a single path element that stays inside
// its directory
func IsPlainName(name string) bool {
	return filepath.IsLocal(name) && filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}

// Persist creates the directory if needed and writes the rendered chapters
func (s *MarkdownSink) Persist(ctx context.Context, doc Document) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc.Name == "" {
		return nil, errors.NewInvalidRequestError("markdown sink requires a name")
	}
	if !IsPlainName(doc.Name) {
		return nil, errors.NewInvalidRequestError("output name %q must not contain a path", doc.Name)
	}

	dir := doc.Location
	if dir == "" {
		dir = s.DefaultDir
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %s", dir)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	path := filepath.Join(dir, doc.Name+"-"+now().UTC().Format(TimestampLayout)+".md")

	text := Render(doc.Entries)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", path)
	}

	if s.Logger != nil {
		s.Logger.Infow("Chapters written",
			"file", path,
			"count", len(doc.Entries),
			"size", len(text))
	}

	return &Artifact{Text: text, Location: path}, nil
}
