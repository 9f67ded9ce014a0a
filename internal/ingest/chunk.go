package ingest

import (
	"strings"
	"unicode"
)

// ChunkOptions controls how lesson text is split.
type ChunkOptions struct {
	Size    int // maximum chunk length in characters
	Overlap int // characters of trailing sentences repeated in the next chunk
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.Size <= 0 {
		o.Size = 800
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		o.Overlap = 0
	}
	return o
}

// SplitSentences splits text at '.', '!' or '?' followed by whitespace and
// an upper-case letter. Whitespace is collapsed first. Short title
// abbreviations such as "Mr." and "Dr." do not end a sentence.
func SplitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var sentences []string
	start := 0
	for i := 0; i < len(runes)-2; i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if runes[i+1] != ' ' || !unicode.IsUpper(runes[i+2]) {
			continue
		}
		if r == '.' && isAbbreviation(runes, i) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 2
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// isAbbreviation reports whether the period at dot closes a word like "Mr"
// or an initialism like "e.g".
func isAbbreviation(runes []rune, dot int) bool {
	// "Xx."
	if dot >= 2 && unicode.IsUpper(runes[dot-2]) && unicode.IsLower(runes[dot-1]) &&
		(dot == 2 || !isWordRune(runes[dot-3])) {
		return true
	}
	// "w.w."
	if dot >= 3 && runes[dot-2] == '.' && isWordRune(runes[dot-1]) && isWordRune(runes[dot-3]) {
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// ChunkText splits text into sentence-aligned chunks of at most opts.Size
// characters. A sentence longer than Size becomes a chunk on its own.
// Consecutive chunks share trailing sentences totalling at most
// opts.Overlap characters.
func ChunkText(text string, opts ChunkOptions) []string {
	opts = opts.withDefaults()
	sentences := SplitSentences(text)

	var chunks []string
	for i := 0; i < len(sentences); {
		var current []string
		size := 0
		for j := i; j < len(sentences); j++ {
			add := len(sentences[j])
			if len(current) > 0 {
				add++
			}
			if size+add > opts.Size && len(current) > 0 {
				break
			}
			current = append(current, sentences[j])
			size += add
		}
		chunks = append(chunks, strings.Join(current, " "))

		if i+len(current) >= len(sentences) {
			break
		}

		keep := 0
		if opts.Overlap > 0 {
			overlap := 0
			for k := len(current) - 1; k >= 0; k-- {
				n := len(current[k])
				if k < len(current)-1 {
					n++
				}
				if overlap+n > opts.Overlap {
					break
				}
				overlap += n
				keep++
			}
		}
		next := i + len(current) - keep
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return chunks
}
