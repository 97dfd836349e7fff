// Package sink persists the results of a chain run.
package sink

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/chainable/chain"
)

// Document is what a run hands to a sink
type Document struct {
	// Name is the base name for whatever the sink creates
	Name string
	// Location is sink-specific: a directory for MarkdownSink, ignored by RunStore
	Location string
	// RunID identifies the run across sinks (generated when empty)
	RunID string
	// Entries are the ordered (index, result) pairs
	Entries []chain.Entry
	// Prompts are the filled prompts, parallel to Entries (optional)
	Prompts []string
}

// Artifact describes what a sink produced
type Artifact struct {
	// Text is the concatenated chapter text
	Text string
	// Location is where it ended up (file path, run:<id>, ...)
	Location string
}

// Sink persists a run
type Sink interface {
	Persist(ctx context.Context, doc Document) (*Artifact, error)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, doc Document) (*Artifact, error)

// Persist calls f
func (f SinkFunc) Persist(ctx context.Context, doc Document) (*Artifact, error) {
	return f(ctx, doc)
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.New().String()
}

// Render concatenates entries into chapter sections:
//
//	## Chapter 1
//
//	<result>
//
// Chapters are numbered from 1 in entry order; null results render as "null".
func Render(entries []chain.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("## Chapter ")
		b.WriteString(strconv.Itoa(e.Index + 1))
		b.WriteString("\n\n")
		b.WriteString(e.Result.String())
		b.WriteString("\n\n")
	}
	return b.String()
}

// Multi persists to several sinks in order. The first error stops the fan-out.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a Multi; nil sinks are skipped
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// PersistAll persists doc to every sink and returns their artifacts in order.
// All sinks see the same RunID.
func (m *Multi) PersistAll(ctx context.Context, doc Document) ([]*Artifact, error) {
	if doc.RunID == "" {
		doc.RunID = NewRunID()
	}
	artifacts := make([]*Artifact, 0, len(m.sinks))
	for _, s := range m.sinks {
		a, err := s.Persist(ctx, doc)
		if err != nil {
			return artifacts, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// Persist implements Sink, returning the first sink's artifact
func (m *Multi) Persist(ctx context.Context, doc Document) (*Artifact, error) {
	artifacts, err := m.PersistAll(ctx, doc)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return &Artifact{Text: Render(doc.Entries)}, nil
	}
	return artifacts[0], nil
}
