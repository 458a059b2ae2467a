// Package digest converts classified platform events into canonical backend
// requests and backend answers into platform-native message payloads.
package digest

import (
	"regexp"
	"strings"
)

// Platform construction-time limits. Payloads are built within these bounds,
// never fixed up afterwards.
const (
	maxActionLabel = 20
	maxAltText     = 400
)

var (
	htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
	imgTagPattern  = regexp.MustCompile(`<\s*img[^>]*?src\s*=\s*"([^"]+)"[^>]*?/?>`)
)

// stripTags removes all HTML markup from s.
func stripTags(s string) string {
	return htmlTagPattern.ReplaceAllString(s, "")
}

// stripTagsKeepImg removes all HTML markup except <img> tags, which the
// inline-image splitter consumes afterwards.
func stripTagsKeepImg(s string) string {
	return htmlTagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		inner := strings.TrimSpace(strings.TrimPrefix(tag, "<"))
		if strings.HasPrefix(strings.ToLower(inner), "img") {
			return tag
		}
		return ""
	})
}

// truncate cuts s to at most limit characters, no ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// secureURL rewrites a plain-http URL to https. The platform rejects image
// URLs without TLS.
func secureURL(url string) string {
	if strings.HasPrefix(url, "http://") {
		return "https://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// inlinePart is one segment of a message containing embedded images: either a
// run of text or one image URL.
type inlinePart struct {
	text     string
	imageURL string
}

// splitInlineImages splits text around <img> tags into ordered text and image
// parts. Empty text runs between tags are dropped. Whitespace control
// characters are removed first so surrounding markup does not leave stray
// blank segments.
func splitInlineImages(text string) []inlinePart {
	cleaned := strings.NewReplacer("\r\n", "", "\r", "", "\n", "", "\t", "").Replace(text)
	cleaned = stripTagsKeepImg(cleaned)

	var parts []inlinePart
	rest := cleaned
	for {
		loc := imgTagPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		if before := rest[:loc[0]]; before != "" {
			parts = append(parts, inlinePart{text: before})
		}
		parts = append(parts, inlinePart{imageURL: secureURL(rest[loc[2]:loc[3]])})
		rest = rest[loc[1]:]
	}
	if rest != "" {
		parts = append(parts, inlinePart{text: rest})
	}
	return parts
}

// containsInlineImage reports whether the message body embeds an <img> tag.
func containsInlineImage(text string) bool {
	return strings.Contains(text, "<img")
}
