package extract

import "strings"

// Wall reasons reported when a snapshot is not a usable listing.
const (
	WallLogin      = "login_wall"
	WallCheckpoint = "checkpoint"
	WallUnrendered = "unrendered"
)

var wallMarkers = []struct {
	marker string
	reason string
}{
	{`id="login_form"`, WallLogin},
	{`action="/login/`, WallLogin},
	{`/checkpoint/`, WallCheckpoint},
	{`captcha`, WallCheckpoint},
}

// DetectWall explains why a snapshot that produced no items is empty. It
// returns "" when the page looks like an ordinary empty listing.
func DetectWall(html string) string {
	lower := strings.ToLower(html)
	for _, m := range wallMarkers {
		if strings.Contains(lower, m.marker) {
			return m.reason
		}
	}
	if scriptDensityHigh(lower) {
		return WallUnrendered
	}
	return ""
}

// scriptDensityHigh reports whether script elements cover at least a quarter
// of the document, which means the client app never rendered.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		relEnd := strings.Index(lower[contentStart:], closeTag)
		next := total
		if relEnd != -1 {
			next = contentStart + relEnd + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
