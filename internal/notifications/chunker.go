package notifications

import (
	"unicode/utf16"
)

// Lengths here are in UTF-16 code units, the unit chat providers count in.

// Len16 returns the length of s in UTF-16 code units.
func Len16(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Chunk splits body into pieces of at most max units whose concatenation is
// body. Cuts prefer the last newline in the window, then the last space, and
// never split a surrogate pair. The one exception to the limit is max == 1,
// where a surrogate pair is emitted as a two-unit chunk. max <= 0 yields a
// single empty chunk.
func Chunk(body string, max int) []string {
	if max <= 0 || body == "" {
		return []string{""}
	}

	units := utf16.Encode([]rune(body))
	if len(units) <= max {
		return []string{body}
	}

	var chunks []string
	for start := 0; start < len(units); {
		end := start + max
		if end >= len(units) {
			chunks = append(chunks, decode16(units[start:]))
			break
		}

		window := units[start:end]
		if i := lastIndex16(window, '\n'); i >= 0 {
			end = start + i + 1
		} else if i := lastIndex16(window, ' '); i >= 0 {
			end = start + i + 1
		} else if isHighSurrogate(units[end-1]) {
			end--
			if end == start {
				// A window of one unit cannot hold the pair; emit it whole.
				end = start + 2
			}
		}

		chunks = append(chunks, decode16(units[start:end]))
		start = end
	}

	return chunks
}

// ChunkWithHeader prefixes header to every chunk of body. The header length
// is deducted once from max before chunking, so header must be shorter than
// max or the body is lost.
func ChunkWithHeader(header, body string, max int) []string {
	if header == "" {
		return Chunk(body, max)
	}
	parts := Chunk(body, max-Len16(header))
	for i, p := range parts {
		parts[i] = header + p
	}
	return parts
}

func decode16(u []uint16) string {
	return string(utf16.Decode(u))
}

func lastIndex16(u []uint16, c uint16) int {
	for i := len(u) - 1; i >= 0; i-- {
		if u[i] == c {
			return i
		}
	}
	return -1
}

func isHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u < 0xDC00
}
