// Package chunker splits extracted document text into overlapping,
// size-bounded chunks suitable for independent embedding.
//
// Chunking is paragraph-first: blank-line separated paragraphs are packed
// together until the next one would overflow MaxChunkSize. Paragraphs that are
// too large on their own are split at the best available breakpoint.
// All sizes are measured in runes.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Options controls chunk sizing.
type Options struct {
	TargetSize   int // Preferred chunk size when splitting oversized paragraphs
	Overlap      int // Max size of the word-aligned suffix carried into the next chunk
	MaxChunkSize int // Hard upper bound for a chunk
	MinChunkSize int // Chunks shorter than this are dropped
}

// DefaultOptions returns the default chunk sizing (1200/200/1500/100).
func DefaultOptions() Options {
	return Options{
		TargetSize:   1200,
		Overlap:      200,
		MaxChunkSize: 1500,
		MinChunkSize: 100,
	}
}

// normalize fills zero values from the defaults and repairs inconsistent
// bounds so that Chunk never loops or emits chunks above MaxChunkSize.
func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.TargetSize <= 0 {
		o.TargetSize = def.TargetSize
	}
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = def.MaxChunkSize
	}
	if o.MaxChunkSize < o.TargetSize {
		o.MaxChunkSize = o.TargetSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.MinChunkSize < 0 {
		o.MinChunkSize = 0
	}
	return o
}

const paragraphSep = "\n\n"

var paragraphBoundary = regexp.MustCompile(`\n[ \t\r\f\v]*\n\s*`)

// Chunk splits text into an ordered list of chunks. The result is a pure
// function of text and opts.
func Chunk(text string, opts Options) []string {
	opts = opts.normalize()

	var (
		chunks []string
		acc    string
	)

	for _, p := range splitParagraphs(text) {
		if runeLen(p) > opts.MaxChunkSize {
			if acc != "" {
				if runeLen(acc) >= opts.MinChunkSize {
					chunks = append(chunks, acc)
				} else {
					// Too short to stand alone; let it lead the split instead of losing it.
					p = acc + paragraphSep + p
				}
				acc = ""
			}
			chunks = append(chunks, splitOversized(p, opts)...)
			continue
		}

		if acc == "" {
			acc = p
			continue
		}

		if runeLen(acc)+len(paragraphSep)+runeLen(p) <= opts.MaxChunkSize {
			acc += paragraphSep + p
			continue
		}

		chunks = append(chunks, acc)
		acc = p
		if seed := overlapSeed(chunks[len(chunks)-1], opts.Overlap); seed != "" {
			if runeLen(seed)+len(paragraphSep)+runeLen(p) <= opts.MaxChunkSize {
				acc = seed + paragraphSep + p
			}
		}
	}
	if acc != "" {
		chunks = append(chunks, acc)
	}

	out := chunks[:0]
	for _, c := range chunks {
		if runeLen(c) >= opts.MinChunkSize {
			out = append(out, c)
		}
	}
	return out
}

// splitParagraphs splits on blank lines and drops empty paragraphs.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := paragraphBoundary.Split(text, -1)
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitOversized breaks a paragraph that exceeds MaxChunkSize into pieces of
// roughly TargetSize, preferring paragraph, sentence, clause, then word
// boundaries inside [0.7*target, 1.3*target].
func splitOversized(text string, opts Options) []string {
	lo := opts.TargetSize * 7 / 10
	hi := opts.TargetSize * 13 / 10
	if hi > opts.MaxChunkSize {
		hi = opts.MaxChunkSize
	}

	var pieces []string
	runes := []rune(text)
	for len(runes) > opts.MaxChunkSize {
		cut := findBreak(runes, lo, hi)
		if cut <= 0 {
			cut = hardCut(runes, opts.TargetSize)
		}
		if piece := strings.TrimSpace(string(runes[:cut])); piece != "" {
			pieces = append(pieces, piece)
		}
		runes = trimLeftSpace(runes[cut:])
	}

	tail := strings.TrimSpace(string(runes))
	if tail == "" {
		return pieces
	}
	if n := len(pieces); n > 0 && runeLen(tail) < opts.MinChunkSize &&
		runeLen(pieces[n-1])+1+runeLen(tail) <= opts.MaxChunkSize {
		pieces[n-1] += " " + tail
		return pieces
	}
	return append(pieces, tail)
}

// breakFinder reports the cut offset for a separator starting at i, or -1.
type breakFinder func(runes []rune, i int) int

var breakFinders = []breakFinder{
	// paragraph break
	func(r []rune, i int) int {
		if r[i] == '\n' && i+1 < len(r) && r[i+1] == '\n' {
			return i + 2
		}
		return -1
	},
	// sentence end
	func(r []rune, i int) int {
		if isAny(r[i], ".!?") && i+1 < len(r) && unicode.IsSpace(r[i+1]) {
			return i + 1
		}
		return -1
	},
	// clause
	func(r []rune, i int) int {
		if isAny(r[i], ",;:") && i+1 < len(r) && unicode.IsSpace(r[i+1]) {
			return i + 1
		}
		return -1
	},
	// any whitespace
	func(r []rune, i int) int {
		if unicode.IsSpace(r[i]) {
			return i
		}
		return -1
	},
}

// findBreak returns the last cut offset in [lo, hi] for the highest priority
// separator that occurs there, or -1.
func findBreak(runes []rune, lo, hi int) int {
	if hi > len(runes) {
		hi = len(runes)
	}
	if lo < 1 {
		lo = 1
	}
	for _, find := range breakFinders {
		for i := hi - 1; i >= lo-1 && i >= 0; i-- {
			if cut := find(runes, i); cut >= lo && cut <= hi {
				return cut
			}
		}
	}
	return -1
}

// hardCut cuts at target, moved back to the last space past the halfway mark.
func hardCut(runes []rune, target int) int {
	cut := target
	if cut > len(runes) {
		cut = len(runes)
	}
	for i := cut - 1; i > target/2; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return cut
}

// overlapSeed returns the longest whole-word suffix of text that fits in
// overlap runes.
func overlapSeed(text string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	words := strings.Fields(text)
	size := 0
	start := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		n := runeLen(words[i])
		if start < len(words) {
			n++ // joining space
		}
		if size+n > overlap {
			break
		}
		size += n
		start = i
	}
	return strings.Join(words[start:], " ")
}

func trimLeftSpace(r []rune) []rune {
	for len(r) > 0 && unicode.IsSpace(r[0]) {
		r = r[1:]
	}
	return r
}

func isAny(r rune, set string) bool {
	return strings.ContainsRune(set, r)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
