// Package chunker splits document text into overlapping fragments sized for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Unit selects how fragment length is measured
type Unit string

const (
	UnitChars Unit = "chars"
	UnitWords Unit = "words"
)

// separators in priority order, the empty separator is a hard character cut
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Fragment is one chunk of the source text.
// Start and End are rune offsets into the source, Overlap is the number of
// leading runes shared with the previous fragment.
type Fragment struct {
	Text    string
	Start   int
	End     int
	Overlap int
}

type Chunker struct {
	size       int
	overlap    int
	unit       Unit
	separators []string
}

type Option func(*Chunker)

// WithUnit measures size and overlap in the given unit instead of characters
func WithUnit(u Unit) Option {
	return func(c *Chunker) {
		if u == UnitWords {
			c.unit = UnitWords
		}
	}
}

// New returns a chunker with the given target size and overlap
func New(size, overlap int, opts ...Option) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	c := &Chunker{
		size:       size,
		overlap:    overlap,
		unit:       UnitChars,
		separators: defaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk splits text with a character based chunker and returns the fragment strings
func Chunk(text string, size, overlap int) []string {
	frags := New(size, overlap).Split(text)
	out := make([]string, len(frags))
	for i, f := range frags {
		out[i] = f.Text
	}
	return out
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

func (c *Chunker) measure(s string) int {
	if c.unit == UnitWords {
		return len(strings.Fields(s))
	}
	return utf8.RuneCountInString(s)
}

type piece struct {
	text       string
	start, end int
	n          int
}

// Split cuts text into fragments no longer than the target size.
// Empty or whitespace-only text yields no fragments.
func (c *Chunker) Split(text string) []Fragment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var pieces []piece
	offset := 0
	for _, p := range c.split(text, c.separators) {
		runes := utf8.RuneCountInString(p)
		pieces = append(pieces, piece{text: p, start: offset, end: offset + runes, n: c.measure(p)})
		offset += runes
	}

	var frags []Fragment
	first, total, prevEnd := 0, 0, 0
	for j := range pieces {
		if total+pieces[j].n > c.size && j > first {
			frags = append(frags, newFragment(pieces[first:j], prevEnd))
			prevEnd = pieces[j-1].end
			// keep trailing pieces that fit in the overlap and leave room for pieces[j]
			for first < j && (total > c.overlap || total+pieces[j].n > c.size) {
				total -= pieces[first].n
				first++
			}
		}
		total += pieces[j].n
	}
	if first < len(pieces) {
		frags = append(frags, newFragment(pieces[first:], prevEnd))
	}
	return frags
}

func newFragment(window []piece, prevEnd int) Fragment {
	var b strings.Builder
	for _, p := range window {
		b.WriteString(p.text)
	}
	start := window[0].start
	return Fragment{
		Text:    b.String(),
		Start:   start,
		End:     window[len(window)-1].end,
		Overlap: max(0, prevEnd-start),
	}
}

// split breaks s into pieces that each fit the target size, trying
// separators in priority order. Concatenating the pieces yields s.
func (c *Chunker) split(s string, separators []string) []string {
	if c.measure(s) <= c.size {
		return []string{s}
	}

	sep, rest := "", []string(nil)
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(s, candidate) {
			sep, rest = candidate, separators[i+1:]
			break
		}
	}

	// hard cut
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(s))
		for _, r := range s {
			out = append(out, string(r))
		}
		return out
	}

	var out []string
	for _, part := range strings.SplitAfter(s, sep) {
		if part == "" {
			continue
		}
		if c.measure(part) <= c.size {
			out = append(out, part)
			continue
		}
		out = append(out, c.split(part, rest)...)
	}
	return out
}

// Reassemble rebuilds the source text by dropping each fragment's overlap
func Reassemble(frags []Fragment) string {
	var b strings.Builder
	for _, f := range frags {
		b.WriteString(DropOverlap(f.Text, f.Overlap))
	}
	return b.String()
}

// DropOverlap removes the first overlap runes of text
func DropOverlap(text string, overlap int) string {
	if overlap <= 0 {
		return text
	}
	i := 0
	for pos := range text {
		if i == overlap {
			return text[pos:]
		}
		i++
	}
	return ""
}
