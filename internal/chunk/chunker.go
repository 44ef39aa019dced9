// Package chunk implements the generic token-estimate, paragraph/sentence
// text chunker (spec.md §4.2). It has no knowledge of source file types;
// AST- or markdown-aware chunking is explicitly out of scope for the core.
package chunk

import (
	"regexp"
	"strings"
)

// Options configures chunking thresholds, all expressed in estimated tokens.
type Options struct {
	MinTokens        int
	MaxTokens        int
	NoChunkThreshold int
}

// DefaultOptions mirrors the Service facade's chunking_max_tokens default
// of 2000, with a conservative min/no-chunk pair.
func DefaultOptions() Options {
	return Options{
		MinTokens:        64,
		MaxTokens:        2000,
		NoChunkThreshold: 32,
	}
}

var (
	paragraphSplit = regexp.MustCompile(`\n{2,}`)
	sentenceSplit  = regexp.MustCompile(`[.!?;]|--\s`)
)

// EstimateTokens is the char_count/4 estimate used throughout this package
// and by the Service facade to validate chunking_max_tokens against a
// service's max_tokens.
func EstimateTokens(s string) int {
	return len([]rune(s)) / 4
}

// Split breaks text into an ordered sequence of chunk strings whose
// concatenation (modulo whitespace normalization) reproduces the input's
// non-whitespace content. Deterministic and idempotent for a fixed opts.
func Split(text string, opts Options) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	if EstimateTokens(trimmed) < opts.NoChunkThreshold {
		return []string{trimmed}
	}

	var pieces []string
	for _, para := range paragraphSplit.Split(trimmed, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if EstimateTokens(para) <= opts.MaxTokens {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitSentences(para)...)
	}

	return combineSmall(pieces, opts.MinTokens)
}

// splitSentences breaks an over-long paragraph on sentence-terminating
// punctuation, dropping empty fragments produced by the split.
func splitSentences(para string) []string {
	raw := sentenceSplit.Split(para, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{para}
	}
	return out
}

// combineSmall fuses left-to-right any chunk estimated below minTokens into
// its successor, by single-space join. The final chunk is never dropped,
// even if it remains small.
func combineSmall(chunks []string, minTokens int) []string {
	if len(chunks) == 0 {
		return chunks
	}

	var out []string
	pending := chunks[0]
	for i := 1; i < len(chunks); i++ {
		if EstimateTokens(pending) < minTokens {
			pending = pending + " " + chunks[i]
			continue
		}
		out = append(out, pending)
		pending = chunks[i]
	}
	out = append(out, pending)
	return out
}
