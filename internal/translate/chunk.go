// Package translate splits text into sentence-aligned chunks and translates
// them one at a time.
package translate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	markdownRegex   = regexp.MustCompile("[#*`_]")
	whitespaceRegex = regexp.MustCompile(`\s+`)
	// A sentence is a run of text up to and including one or more terminal
	// marks, or the unterminated tail of the text.
	sentenceRegex = regexp.MustCompile(`[^.!?]*[.!?]+|[^.!?]+$`)
)

// Normalize strips markdown emphasis and heading characters and collapses
// whitespace runs to single spaces.
func Normalize(text string) string {
	text = markdownRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// Chunk normalizes text and splits it into chunks of at most max runes.
// Sentences are kept whole and packed greedily; a sentence longer than max is
// split at word boundaries. Joining the chunks with single spaces gives back
// the normalized text. max <= 0 disables splitting.
func Chunk(text string, max int) []string {
	norm := Normalize(text)
	if norm == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(norm) <= max {
		return []string{norm}
	}

	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}
	for _, sentence := range sentences(norm) {
		for _, piece := range splitLong(sentence, max) {
			n := utf8.RuneCountInString(piece)
			if bufLen > 0 && bufLen+1+n > max {
				flush()
			}
			if bufLen > 0 {
				buf.WriteByte(' ')
				bufLen++
			}
			buf.WriteString(piece)
			bufLen += n
		}
	}
	flush()
	return chunks
}

func sentences(text string) []string {
	var out []string
	for _, s := range sentenceRegex.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// splitLong breaks s into word-aligned pieces of at most max runes. A single
// word longer than max is cut at rune boundaries.
func splitLong(s string, max int) []string {
	if utf8.RuneCountInString(s) <= max {
		return []string{s}
	}
	var (
		pieces []string
		cur    []string
		curLen int
	)
	for _, word := range strings.Fields(s) {
		for utf8.RuneCountInString(word) > max {
			if curLen > 0 {
				pieces = append(pieces, strings.Join(cur, " "))
				cur, curLen = nil, 0
			}
			runes := []rune(word)
			pieces = append(pieces, string(runes[:max]))
			word = string(runes[max:])
		}
		if word == "" {
			continue
		}
		n := utf8.RuneCountInString(word)
		if curLen > 0 && curLen+1+n > max {
			pieces = append(pieces, strings.Join(cur, " "))
			cur, curLen = nil, 0
		}
		if curLen > 0 {
			curLen++
		}
		cur = append(cur, word)
		curLen += n
	}
	if len(cur) > 0 {
		pieces = append(pieces, strings.Join(cur, " "))
	}
	return pieces
}
