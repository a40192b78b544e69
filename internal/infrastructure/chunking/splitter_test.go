package chunking

import (
	"reflect"
	"strings"
	"testing"

	"github.com/zakeri-dev/kbpipe/internal/core/domain"
)

func TestSplitEmptyTextReturnsNoChunks(t *testing.T) {
	s := NewSplitter()
	for _, text := range []string{"", "   \n\t  "} {
		if got := s.Split(text, domain.DefaultOptions()); len(got) != 0 {
			t.Fatalf("Split(%q) = %d chunks, want none", text, len(got))
		}
	}
}

func TestSplitOffsetsLocateContentInSource(t *testing.T) {
	text := "Первый абзац о бюджете на квартал.\n\n" +
		strings.Repeat("alpha beta gamma delta epsilon zeta ", 8) +
		"\n\nЗаключение и итоги квартала."
	s := NewSplitter()

	chunks := s.Split(text, domain.ProcessingOptions{ChunkSize: 60, MinChunkSize: 10, ChunkOverlap: 12})
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	runes := []rune(text)
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if got := string(runes[c.StartOffset:c.EndOffset]); got != c.Content {
			t.Fatalf("chunk %d offsets do not locate its content: %q != %q", i, got, c.Content)
		}
		if c.ContentLength != c.EndOffset-c.StartOffset {
			t.Fatalf("chunk %d length %d != offset span %d", i, c.ContentLength, c.EndOffset-c.StartOffset)
		}
		if c.TokenCount != domain.EstimateTokens(c.Content) {
			t.Fatalf("chunk %d token count %d not derived from content", i, c.TokenCount)
		}
		if c.ChunkHash != domain.HashContent(c.Content) {
			t.Fatalf("chunk %d hash not derived from content", i)
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	text := strings.Repeat("one two three four five six seven eight nine ten\n", 40)
	s := NewSplitter()
	opts := domain.ProcessingOptions{ChunkSize: 120, MinChunkSize: 20, ChunkOverlap: 30}

	first := s.Split(text, opts)
	second := s.Split(text, opts)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("two runs over the same input produced different chunks")
	}
}

func TestSplitOverlapsConsecutiveWindows(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 20)
	s := NewSplitter()

	chunks := s.Split(text, domain.ProcessingOptions{ChunkSize: 80, MinChunkSize: 10, ChunkOverlap: 20})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartOffset >= chunks[i-1].EndOffset {
			t.Fatalf("chunk %d starts at %d, after previous end %d; windows should overlap", i, chunks[i].StartOffset, chunks[i-1].EndOffset)
		}
	}
}

func TestSplitPrefersParagraphBreaks(t *testing.T) {
	first := "First paragraph sentence here."
	second := "Second paragraph follows this."
	s := NewSplitter()

	chunks := s.Split(first+"\n\n"+second, domain.ProcessingOptions{ChunkSize: 40, MinChunkSize: 5, ChunkOverlap: 0})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Content != first {
		t.Fatalf("expected cut at the paragraph break, got %q", chunks[0].Content)
	}
	if chunks[1].Content != second {
		t.Fatalf("expected second paragraph intact, got %q", chunks[1].Content)
	}
}

func TestSplitMergesShortTailIntoPredecessor(t *testing.T) {
	text := "aaaaaaaaaa bbbbbbbbb cc"
	s := NewSplitter()

	chunks := s.Split(text, domain.ProcessingOptions{ChunkSize: 20, MinChunkSize: 15, ChunkOverlap: 0})
	if len(chunks) != 1 {
		t.Fatalf("expected the short tail merged away, got %d chunks", len(chunks))
	}
	if chunks[0].Content != text {
		t.Fatalf("merged chunk should span the whole source, got %q", chunks[0].Content)
	}
	if chunks[0].EndOffset != len([]rune(text)) {
		t.Fatalf("merged chunk end offset %d, want %d", chunks[0].EndOffset, len([]rune(text)))
	}
}
