package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/errors"
)

func sampleEntries() []chain.Entry {
	out := &chain.Output{Results: []chain.Result{
		chain.Raw("Once upon a time."),
		chain.Null(),
		chain.Structured(map[string]any{"k": float64(1)}),
	}}
	return out.Entries()
}

func TestRender(t *testing.T) {
	want := "## Chapter 1\n\nOnce upon a time.\n\n" +
		"## Chapter 2\n\nnull\n\n" +
		"## Chapter 3\n\n{\n  \"k\": 1\n}\n\n"
	assert.Equal(t, want, Render(sampleEntries()))
	assert.Equal(t, "", Render(nil))
}

func TestMarkdownSink_Persist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "stories")
	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	s := &MarkdownSink{Now: func() time.Time { return fixed }}

	artifact, err := s.Persist(context.Background(), Document{
		Name:     "pip",
		Location: dir,
		Entries:  sampleEntries(),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "pip-2024-03-09-14-05-07.md"), artifact.Location)
	data, err := os.ReadFile(artifact.Location)
	require.NoError(t, err)
	assert.Equal(t, artifact.Text, string(data))
	assert.Equal(t, Render(sampleEntries()), artifact.Text)
}

func TestMarkdownSink_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	s := &MarkdownSink{
		Now:        func() time.Time { return time.Date(2024, 1, 1, 1, 0, 0, 0, loc) },
		DefaultDir: t.TempDir(),
	}

	artifact, err := s.Persist(context.Background(), Document{Name: "n", Entries: sampleEntries()})
	require.NoError(t, err)
	assert.Equal(t, "n-2023-12-31-23-00-00.md", filepath.Base(artifact.Location))
}

func TestMarkdownSink_Errors(t *testing.T) {
	s := &MarkdownSink{}

	_, err := s.Persist(context.Background(), Document{Location: t.TempDir()})
	assert.True(t, errors.IsInvalidRequestError(err))

	// a file where the directory should be
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	_, err = s.Persist(context.Background(), Document{Name: "n", Location: filepath.Join(blocker, "sub")})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Persist(ctx, Document{Name: "n", Location: t.TempDir()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarkdownSink_RejectsPathNames(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	s := &MarkdownSink{}

	for _, name := range []string{"../../escaped", "sub/pip", "/tmp/pip", "..", "."} {
		_, err := s.Persist(context.Background(), Document{Name: name, Location: out, Entries: sampleEntries()})
		require.Error(t, err, name)
		assert.True(t, errors.IsInvalidRequestError(err), name)
	}

	matches, err := filepath.Glob(filepath.Join(root, "..", "escaped-*.md"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.NoDirExists(t, out)
}

func TestIsPlainName(t *testing.T) {
	assert.True(t, IsPlainName("pip-story"))
	assert.True(t, IsPlainName("pip story.v2"))
	assert.False(t, IsPlainName(""))
	assert.False(t, IsPlainName("a/b"))
	assert.False(t, IsPlainName(`a\b`))
	assert.False(t, IsPlainName("../x"))
}

type recordingSink struct {
	docs []Document
	err  error
	loc  string
}

func (r *recordingSink) Persist(_ context.Context, doc Document) (*Artifact, error) {
	r.docs = append(r.docs, doc)
	if r.err != nil {
		return nil, r.err
	}
	return &Artifact{Location: r.loc}, nil
}

func TestMulti(t *testing.T) {
	first := &recordingSink{loc: "a"}
	second := &recordingSink{loc: "b"}
	m := NewMulti(first, nil, second)

	artifacts, err := m.PersistAll(context.Background(), Document{Name: "n"})
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "a", artifacts[0].Location)
	assert.Equal(t, "b", artifacts[1].Location)

	require.Len(t, first.docs, 1)
	require.Len(t, second.docs, 1)
	assert.NotEmpty(t, first.docs[0].RunID)
	assert.Equal(t, first.docs[0].RunID, second.docs[0].RunID)

	a, err := m.Persist(context.Background(), Document{Name: "n", RunID: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "a", a.Location)
	assert.Equal(t, "fixed", second.docs[1].RunID)
}

func TestMulti_StopsOnError(t *testing.T) {
	failing := &recordingSink{err: errors.New("disk full")}
	after := &recordingSink{}

	_, err := NewMulti(failing, after).Persist(context.Background(), Document{Name: "n"})
	require.Error(t, err)
	assert.Empty(t, after.docs)
}

func TestMulti_Empty(t *testing.T) {
	a, err := NewMulti().Persist(context.Background(), Document{Entries: sampleEntries()})
	require.NoError(t, err)
	assert.Equal(t, Render(sampleEntries()), a.Text)
}
