// Package chunk splits extracted document text into bounded, overlapping
// segments suitable for embedding. Splitting is a pure function of the input
// text and the splitter configuration.
package chunk

import "fmt"

// Default splitter configuration, overridable via environment in cmd/api.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// separators are tried coarsest-first when choosing where a segment ends:
// paragraph break, line break, sentence end, word boundary. A hard rune
// boundary is the final fallback.
var separators = []string{"\n\n", "\n", ". ", " "}

// Splitter produces ordered segments of at most Size runes, with adjacent
// segments sharing exactly Overlap runes. Because every non-final segment is
// longer than Overlap, concatenating the segments while dropping the first
// Overlap runes of each one after the first reconstructs the input exactly.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter. Overlap must be non-negative and strictly smaller
// than size; violating that is a configuration error reported here, not at
// split time.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk: size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk: overlap %d must be in [0, size) with size %d", overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the configured maximum segment length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the ordered segments of text. Empty text yields no segments.
// Segment order is order of appearance in the source and defines the
// ordinal assigned downstream.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var segs []string
	start := 0
	for {
		end := start + s.size
		if end >= len(runes) {
			segs = append(segs, string(runes[start:]))
			return segs
		}
		end = s.cut(runes, start, end)
		segs = append(segs, string(runes[start:end]))
		start = end - s.overlap
	}
}

// cut picks the end of the segment beginning at start, given the hard limit
// start+size. It prefers the coarsest separator whose cut point lands inside
// (start+overlap, limit]; the lower bound keeps every non-final segment
// longer than the overlap so the next start always advances.
func (s *Splitter) cut(runes []rune, start, limit int) int {
	lo := start + s.overlap + 1
	for _, sep := range separators {
		if c := lastCut(runes, sep, lo, limit); c >= 0 {
			return c
		}
	}
	return limit
}

// lastCut returns the largest index c in [lo, limit] such that the runes
// immediately before c spell sep, or -1 if there is none. Cutting after the
// separator keeps the separator inside the earlier segment.
func lastCut(runes []rune, sep string, lo, limit int) int {
	sr := []rune(sep)
	for c := limit; c >= lo; c-- {
		if c < len(sr) {
			break
		}
		if equalRunes(runes[c-len(sr):c], sr) {
			return c
		}
	}
	return -1
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
