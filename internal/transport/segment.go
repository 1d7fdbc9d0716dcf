package transport

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// Split breaks text into transport-sized segments.
//
// Limits are counted in UTF-16 code units because that is how LINE (and
// most chat platforms) measure message length; counting bytes or runes
// would over- or under-fill segments for CJK and emoji content.
//
// Paragraphs are kept together when possible; a single paragraph longer
// than the limit is hard-sliced. Multi-segment output gets "(i/n)"
// prefixes so recipients can reassemble order; prefix width is held back
// during packing so a prefixed segment never exceeds the limit.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = 5000
	}
	if utf16Len(text) <= limit {
		return []string{text}
	}

	// Packing tighter can only grow the segment count, and with it the
	// prefix width, so repack until the reserve covers the count it
	// produced. Converges in a couple of rounds.
	segments := pack(text, limit)
	if len(segments) <= 1 {
		return segments
	}
	for {
		reserve := prefixLen(len(segments))
		if reserve >= limit {
			break
		}
		repacked := pack(text, limit-reserve)
		segments = repacked
		if prefixLen(len(repacked)) <= reserve {
			break
		}
	}

	for i, s := range segments {
		segments[i] = fmt.Sprintf("(%d/%d)\n%s", i+1, len(segments), s)
	}
	return segments
}

// prefixLen is the UTF-16 width of the widest "(i/n)\n" prefix for n
// segments. The prefix is ASCII, so bytes equal code units.
func prefixLen(n int) int {
	return len(fmt.Sprintf("(%d/%d)\n", n, n))
}

// pack greedily fills segments with whole paragraphs up to limit UTF-16
// code units, hard-slicing paragraphs that alone exceed it.
func pack(text string, limit int) []string {
	var segments []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			segments = append(segments, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, para := range strings.Split(text, "\n") {
		pl := utf16Len(para) + 1
		if currentLen+pl <= limit {
			current.WriteString(para)
			current.WriteString("\n")
			currentLen += pl
			continue
		}
		flush()
		if utf16Len(para) > limit {
			segments = append(segments, sliceUTF16(para, limit)...)
			continue
		}
		current.WriteString(para)
		current.WriteString("\n")
		currentLen = utf16Len(para) + 1
	}
	flush()
	return segments
}

// sliceUTF16 hard-slices s into chunks of at most max UTF-16 code units,
// never splitting a surrogate pair.
func sliceUTF16(s string, max int) []string {
	var out []string
	var buf strings.Builder
	acc := 0
	for _, r := range s {
		u := utf16RuneLen(r)
		if acc+u > max {
			out = append(out, buf.String())
			buf.Reset()
			acc = 0
		}
		buf.WriteRune(r)
		acc += u
	}
	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16RuneLen(r)
	}
	return n
}

func utf16RuneLen(r rune) int {
	if r1, r2 := utf16.EncodeRune(r); r1 != '�' || r2 != '�' {
		return 2
	}
	return 1
}
