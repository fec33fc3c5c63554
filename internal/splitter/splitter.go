// Package splitter cuts normalized text into bounded, overlapping chunks,
// preferring natural language boundaries over fixed-width cuts.
package splitter

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/libragent/internal/model"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// DefaultSeparators are ordered from the strongest boundary to the weakest.
var DefaultSeparators = []string{
	"\n\n",
	"\n",
	"。",
	".",
	"？",
	"?",
	"！",
	"!",
	"；",
	";",
	"，",
	",",
	" ",
}

var (
	multiSpaceRe   = regexp.MustCompile(` +`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

type Config struct {
	ChunkSize    int      `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap" yaml:"chunk_overlap"`
	Separators   []string `json:"separators" yaml:"separators"`
}

// Splitter is immutable after New and safe for concurrent use.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

func New(cfg Config) *Splitter {
	size := cfg.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	seps := make([]string, 0, len(cfg.Separators))
	for _, sep := range cfg.Separators {
		if sep != "" {
			seps = append(seps, sep)
		}
	}
	if len(cfg.Separators) == 0 {
		seps = append(seps, DefaultSeparators...)
	}
	return &Splitter{chunkSize: size, overlap: overlap, separators: seps}
}

func (s *Splitter) ChunkSize() int {
	return s.chunkSize
}

func (s *Splitter) ChunkOverlap() int {
	return s.overlap
}

// Split returns the ordered chunks of text. Each chunk receives its own copy
// of metadata with the chunk index added. Blank input yields no chunks.
func (s *Splitter) Split(text string, metadata map[string]interface{}) []model.TextChunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	text = Normalize(text)
	pieces := s.MergeSmall(s.recursiveSplit(text))
	if len(pieces) == 0 {
		return nil
	}

	idx := newRuneIndex(text)
	chunks := make([]model.TextChunk, 0, len(pieces))
	cursor := 0
	for i, content := range pieces {
		start := cursor
		if pos := strings.Index(text[idx.byteAt(cursor):], content); pos >= 0 {
			start = idx.runeAt(idx.byteAt(cursor) + pos)
		}
		end := start + utf8.RuneCountInString(content)
		if end > idx.total {
			end = idx.total
		}
		chunks = append(chunks, model.TextChunk{
			Content:     content,
			ChunkIndex:  i,
			StartOffset: start,
			EndOffset:   end,
			Metadata:    chunkMetadata(metadata, i),
		})
		next := end - s.overlap
		if next < start {
			next = start
		}
		cursor = next
	}
	return chunks
}

// Normalize collapses runs of spaces and three or more newlines, then trims.
func Normalize(text string) string {
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

type piece struct {
	text  string
	level int
	final bool
}

// recursiveSplit walks the separator hierarchy depth first. Pending pieces
// are kept on an explicit stack so that input without any separator cannot
// grow the call stack.
func (s *Splitter) recursiveSplit(text string) []string {
	var out []string
	stack := []piece{{text: text}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.final {
			out = append(out, p.text)
			continue
		}
		if utf8.RuneCountInString(p.text) <= s.chunkSize {
			if strings.TrimSpace(p.text) != "" {
				out = append(out, p.text)
			}
			continue
		}
		var next []piece
		if p.level >= len(s.separators) {
			for _, c := range s.forceSplit(p.text) {
				next = append(next, piece{text: c, final: true})
			}
		} else {
			next = s.splitLevel(p.text, p.level)
		}
		for i := len(next) - 1; i >= 0; i-- {
			stack = append(stack, next[i])
		}
	}
	return out
}

// splitLevel splits on one separator and greedily packs the parts. Parts that
// cannot fit on their own are returned as pending pieces for the next level.
func (s *Splitter) splitLevel(text string, level int) []piece {
	sep := s.separators[level]
	parts := strings.Split(text, sep)

	var out []piece
	var current strings.Builder
	currentLen := 0
	flush := func() {
		if c := strings.TrimSpace(current.String()); c != "" {
			out = append(out, piece{text: c, final: true})
		}
		current.Reset()
		currentLen = 0
	}

	for i, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		withSep := part
		if i < len(parts)-1 {
			withSep += sep
		}
		n := utf8.RuneCountInString(withSep)
		if currentLen+n <= s.chunkSize {
			current.WriteString(withSep)
			currentLen += n
			continue
		}
		flush()
		if n > s.chunkSize {
			out = append(out, piece{text: withSep, level: level + 1})
			continue
		}
		current.WriteString(withSep)
		currentLen = n
	}
	flush()
	return out
}

// forceSplit cuts fixed-width windows, backing off to the last space when it
// lies past the middle of the window.
func (s *Splitter) forceSplit(text string) []string {
	runes := []rune(text)
	n := len(runes)
	var out []string
	start := 0
	for start < n {
		end := start + s.chunkSize
		if end > n {
			end = n
		}
		if end < n {
			for i := end - 1; i > start+s.chunkSize/2; i-- {
				if runes[i] == ' ' {
					end = i + 1
					break
				}
			}
		}
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			out = append(out, c)
		}
		if end >= n {
			break
		}
		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// MergeSmall folds chunks shorter than a quarter of the chunk size into the
// preceding chunk when the result still fits. Applying it twice is the same
// as applying it once.
func (s *Splitter) MergeSmall(chunks []string) []string {
	if len(chunks) == 0 {
		return nil
	}
	minSize := s.chunkSize / 4
	result := make([]string, 0, len(chunks))
	current := ""
	currentLen := 0
	for _, chunk := range chunks {
		n := utf8.RuneCountInString(chunk)
		if n < minSize && current != "" && currentLen+1+n <= s.chunkSize {
			current = current + " " + chunk
			currentLen += 1 + n
			continue
		}
		if current != "" {
			result = append(result, current)
		}
		current = chunk
		currentLen = n
	}
	if current != "" {
		result = append(result, current)
	}
	return result
}

func chunkMetadata(src map[string]interface{}, index int) map[string]interface{} {
	md := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		md[k] = v
	}
	md[model.MetaChunkIndex] = index
	return md
}

// runeIndex converts between byte and rune offsets of one string.
type runeIndex struct {
	starts []int
	total  int
}

func newRuneIndex(text string) *runeIndex {
	starts := make([]int, 0, len(text)+1)
	for i := range text {
		starts = append(starts, i)
	}
	total := len(starts)
	starts = append(starts, len(text))
	return &runeIndex{starts: starts, total: total}
}

func (r *runeIndex) byteAt(runePos int) int {
	if runePos >= len(r.starts) {
		return r.starts[len(r.starts)-1]
	}
	return r.starts[runePos]
}

func (r *runeIndex) runeAt(bytePos int) int {
	return sort.SearchInts(r.starts, bytePos)
}
