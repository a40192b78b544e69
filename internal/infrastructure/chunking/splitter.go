package chunking

import (
	"unicode"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

// Splitter cuts text into overlapping windows measured in runes. Offsets in
// the produced chunks always satisfy content == text[start:end], so chunks can
// be located in the source after the fact.
type Splitter struct{}

func NewSplitter() *Splitter {
	return &Splitter{}
}

func (s *Splitter) Split(text string, opts domain.ProcessingOptions) []domain.Chunk {
	opts = opts.Normalize()
	runes := []rune(text)
	n := len(runes)

	var chunks []domain.Chunk
	start := 0
	for start < n {
		for start < n && unicode.IsSpace(runes[start]) {
			start++
		}
		if start >= n {
			break
		}

		end := start + opts.ChunkSize
		if end >= n {
			end = n
		} else {
			end = breakPoint(runes, start, end)
		}

		trimEnd := end
		for trimEnd > start && unicode.IsSpace(runes[trimEnd-1]) {
			trimEnd--
		}
		if trimEnd > start {
			chunks = append(chunks, newChunk(runes, len(chunks), start, trimEnd))
		}

		if end >= n {
			break
		}
		next := end - opts.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	return mergeShortTail(runes, chunks, opts.MinChunkSize)
}

func newChunk(runes []rune, index, start, end int) domain.Chunk {
	content := string(runes[start:end])
	return domain.Chunk{
		ChunkIndex:    index,
		ChunkHash:     domain.HashContent(content),
		Content:       content,
		ContentLength: end - start,
		TokenCount:    domain.EstimateTokens(content),
		StartOffset:   start,
		EndOffset:     end,
	}
}

// breakPoint picks where to cut a window that would otherwise end at limit.
// It prefers a paragraph break, then a line break, then any whitespace, and
// only cuts mid-word when the back half of the window has no boundary at all.
func breakPoint(runes []rune, start, limit int) int {
	floor := start + (limit-start)/2
	for p := limit; p > floor; p-- {
		if runes[p-1] == '\n' && p >= 2 && runes[p-2] == '\n' {
			return p
		}
	}
	for p := limit; p > floor; p-- {
		if runes[p-1] == '\n' {
			return p
		}
	}
	for p := limit; p > floor; p-- {
		if unicode.IsSpace(runes[p-1]) {
			return p
		}
	}
	return limit
}

// mergeShortTail folds a final fragment shorter than minSize into the chunk
// before it, so the last chunk never carries too little context to embed.
func mergeShortTail(runes []rune, chunks []domain.Chunk, minSize int) []domain.Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if last.ContentLength >= minSize {
		return chunks
	}
	prev := chunks[len(chunks)-2]
	merged := newChunk(runes, prev.ChunkIndex, prev.StartOffset, last.EndOffset)
	chunks[len(chunks)-2] = merged
	return chunks[:len(chunks)-1]
}
