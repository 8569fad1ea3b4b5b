package upload

import "strings"

// Placeholder returns the text shown in the composer while name uploads.
func Placeholder(name string) string {
	return "[Uploading " + name + "…]()"
}

// Link returns the markdown link for a finished upload.
func Link(r Result) string {
	return "[" + r.Filename + "](" + r.URL + ")"
}

// Marker remembers where a placeholder was inserted. The offset is a hint:
// text typed before it shifts the token, so Locate picks the occurrence
// nearest to it rather than the first one.
type Marker struct {
	Token  string
	Offset int
}

// Locate returns the byte range of the token occurrence closest to the
// recorded offset.
func (m Marker) Locate(text string) (start, end int, ok bool) {
	if m.Token == "" {
		return 0, 0, false
	}

	best, bestDist := -1, 0
	for i := 0; i+len(m.Token) <= len(text); {
		rel := strings.Index(text[i:], m.Token)
		if rel < 0 {
			break
		}
		idx := i + rel
		dist := idx - m.Offset
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best, bestDist = idx, dist
		}
		i = idx + len(m.Token)
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, best + len(m.Token), true
}
