package chunk

import (
	"strings"
	"unicode"

	"github.com/Aman-CERP/docindex/internal/tokenizer"
)

// Splitter is a pure, deterministic text splitter. It is safe for
// concurrent use when its Counter is.
type Splitter struct {
	counter tokenizer.Counter
	opts    Options
}

// NewSplitter validates opts and returns a Splitter.
func NewSplitter(counter tokenizer.Counter, opts Options) (*Splitter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{counter: counter, opts: opts}, nil
}

// Options returns the splitter budgets.
func (s *Splitter) Options() Options {
	return s.opts
}

// Split runs both phases. Empty or whitespace-only text yields nil.
func (s *Splitter) Split(text string) []string {
	return s.SplitParagraphs(s.SplitLines(text))
}

// Chunks splits text and numbers the paragraphs from 1.
func (s *Splitter) Chunks(documentID, text string) []Chunk {
	paragraphs := s.Split(text)
	if len(paragraphs) == 0 {
		return nil
	}
	chunks := make([]Chunk, len(paragraphs))
	for i, p := range paragraphs {
		chunks[i] = Chunk{
			SourceDocumentID: documentID,
			Sequence:         i + 1,
			Text:             p,
			TokenCount:       s.counter.Count(p),
		}
	}
	return chunks
}

// SplitLines is phase A. Text is cut at newlines and sentence ends, and
// the resulting units are packed, space-joined, into lines of at most
// MaxTokensPerLine tokens. A unit over budget is cut again at clause
// punctuation and then at whitespace. A run in a script written without
// spaces (Han, kana, Hangul, Thai) is finally cut between runes. Any other
// single word still over budget becomes its own oversized line.
func (s *Splitter) SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var units []string
	for _, line := range strings.Split(text, "\n") {
		units = append(units, cutAfter(line, sentenceMarks, wideSentenceMarks)...)
	}
	if len(units) == 0 {
		return nil
	}
	return s.pack(units, 0, " ")
}

// ASCII marks only end a unit when followed by whitespace, which keeps
// "3.14" whole. Full-width marks are not followed by spaces and always cut.
const (
	sentenceMarks     = ".?!"
	clauseMarks       = ";:,"
	wideSentenceMarks = "。！？"
	wideClauseMarks   = "；：，、"
)

// refiner cuts an oversized unit; sep rejoins the pieces it produced.
type refiner struct {
	cut func(string) []string
	sep string
}

// refiners cut an oversized unit into smaller units, coarsest first.
var refiners = []refiner{
	{cut: func(u string) []string { return cutAfter(u, clauseMarks, wideClauseMarks) }, sep: " "},
	{cut: strings.Fields, sep: " "},
	{cut: splitUnspaced, sep: ""},
}

func (s *Splitter) pack(units []string, level int, sep string) []string {
	limit := s.opts.MaxTokensPerLine
	var out []string
	var cur string

	flush := func() {
		if cur != "" {
			out = append(out, cur)
			cur = ""
		}
	}

	for _, u := range units {
		if cur != "" {
			if candidate := cur + sep + u; s.counter.Count(candidate) <= limit {
				cur = candidate
				continue
			}
			flush()
		}
		if s.counter.Count(u) <= limit {
			cur = u
			continue
		}
		out = append(out, s.refine(u, level)...)
	}
	flush()
	return out
}

// refine splits an over-budget unit with the next refiner that actually
// cuts it, falling back to emitting it whole.
func (s *Splitter) refine(u string, level int) []string {
	for ; level < len(refiners); level++ {
		if parts := refiners[level].cut(u); len(parts) > 1 {
			return s.pack(parts, level+1, refiners[level].sep)
		}
	}
	return []string{u}
}

// SplitParagraphs is phase B. Lines are packed, newline-joined, into
// paragraphs of at most MaxTokensPerParagraph tokens. Each paragraph after
// the first starts with the trailing words of its predecessor worth at most
// OverlapTokens tokens, unless that seed would not fit next to the first
// new line. A line over budget becomes its own oversized paragraph.
func (s *Splitter) SplitParagraphs(lines []string) []string {
	limit := s.opts.MaxTokensPerParagraph
	var out []string
	var cur string

	for _, line := range lines {
		if line == "" {
			continue
		}
		if cur == "" {
			cur = line
			continue
		}
		if candidate := cur + "\n" + line; s.counter.Count(candidate) <= limit {
			cur = candidate
			continue
		}

		out = append(out, cur)
		cur = line
		if seed := s.overlapSeed(out[len(out)-1]); seed != "" {
			if seeded := seed + "\n" + line; s.counter.Count(seeded) <= limit {
				cur = seeded
			}
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// overlapSeed returns the longest run of trailing words of paragraph that
// fits in OverlapTokens.
func (s *Splitter) overlapSeed(paragraph string) string {
	if s.opts.OverlapTokens == 0 {
		return ""
	}
	words := strings.Fields(paragraph)
	seed := ""
	for i := len(words) - 1; i >= 0; i-- {
		candidate := strings.Join(words[i:], " ")
		if s.counter.Count(candidate) > s.opts.OverlapTokens {
			break
		}
		seed = candidate
	}
	return seed
}

// cutAfter splits text after any rune in marks that is followed by
// whitespace or the end of text, and after any rune in wide regardless of
// what follows. Pieces are trimmed; empty pieces dropped.
func cutAfter(text, marks, wide string) []string {
	var parts []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		switch {
		case strings.ContainsRune(wide, r):
		case strings.ContainsRune(marks, r):
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
		default:
			continue
		}
		if p := strings.TrimSpace(string(runes[start : i+1])); p != "" {
			parts = append(parts, p)
		}
		start = i + 1
	}
	if p := strings.TrimSpace(string(runes[start:])); p != "" {
		parts = append(parts, p)
	}
	return parts
}

// splitUnspaced cuts a word into single runes when it contains a script
// written without spaces between words. Other words are left whole.
func splitUnspaced(word string) []string {
	if strings.IndexFunc(word, isUnspacedScript) < 0 {
		return nil
	}
	parts := make([]string, 0, len(word))
	for _, r := range word {
		parts = append(parts, string(r))
	}
	return parts
}

func isUnspacedScript(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, unicode.Thai)
}
