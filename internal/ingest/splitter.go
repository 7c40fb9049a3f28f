package ingest

import (
	"strings"
	"unicode/utf8"
)

var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter recursively splits text on a separator hierarchy until every
// piece fits ChunkSize runes, then merges neighbours back together with up
// to ChunkOverlap runes carried between consecutive chunks.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, Separators: DefaultSeparators}
}

func (s *Splitter) Split(text string) []string {
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var chunks, pending []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.ChunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending)...)
			pending = nil
		}
		if len(next) == 0 {
			chunks = append(chunks, piece)
		} else {
			chunks = append(chunks, s.split(piece, next)...)
		}
	}
	if len(pending) > 0 {
		chunks = append(chunks, s.merge(pending)...)
	}
	return chunks
}

// merge joins pieces (which already carry their separators) into chunks.
func (s *Splitter) merge(pieces []string) []string {
	var chunks, window []string
	total := 0
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.ChunkSize && len(window) > 0 {
			if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.ChunkOverlap || (total+n > s.ChunkSize && total > 0) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(window, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepingSeparator splits text on sep and prefixes every piece after
// the first with sep. An empty sep splits into runes.
func splitKeepingSeparator(text, sep string) []string {
	var pieces []string
	if sep == "" {
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	for i, p := range strings.Split(text, sep) {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
