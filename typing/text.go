package typing

// Length returns the length of text in UTF-16 code units.
func Length(text string) int {
	n := 0
	for _, r := range text {
		n += runeLen(r)
	}
	return n
}

// SplitAt splits text at UTF-16 offset pos. An offset inside a surrogate
// pair snaps back to the start of that rune.
func SplitAt(text string, pos int) (before, after string) {
	if pos <= 0 {
		return "", text
	}
	n := 0
	for i, r := range text {
		w := runeLen(r)
		if n+w > pos {
			return text[:i], text[i:]
		}
		n += w
	}
	return text, ""
}

// Slice returns the part of text between UTF-16 offsets lo and hi.
func Slice(text string, lo, hi int) string {
	_, rest := SplitAt(text, lo)
	mid, _ := SplitAt(rest, hi-Length(text)+Length(rest))
	return mid
}

// runeLen is the number of UTF-16 code units r encodes to. Invalid UTF-8
// decodes to U+FFFD, one unit.
func runeLen(r rune) int {
	if r >= 0x10000 && r <= 0x10FFFF {
		return 2
	}
	return 1
}
