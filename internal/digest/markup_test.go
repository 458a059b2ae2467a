package digest

import (
	"strings"
	"testing"
)

func TestStripTags(t *testing.T) {
	t.Parallel()

	got := stripTags(`<p>Hello <strong>there</strong></p>`)
	if got != "Hello there" {
		t.Fatalf("stripTags() = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate() = %q", got)
	}
	long := strings.Repeat("a", 25)
	if got := truncate(long, 20); got != strings.Repeat("a", 20) {
		t.Fatalf("truncate() = %q, want 20 characters and no ellipsis", got)
	}
	// Multibyte text truncates on characters, not bytes.
	if got := truncate("ありがとうございました", 5); got != "ありがとう" {
		t.Fatalf("truncate() = %q", got)
	}
}

func TestSecureURL(t *testing.T) {
	t.Parallel()

	if got := secureURL("http://cdn.example.com/a.png"); got != "https://cdn.example.com/a.png" {
		t.Fatalf("secureURL() = %q", got)
	}
	if got := secureURL("https://cdn.example.com/a.png"); got != "https://cdn.example.com/a.png" {
		t.Fatalf("secureURL() = %q", got)
	}
}

func TestSplitInlineImages(t *testing.T) {
	t.Parallel()

	body := `<p>Before</p><img src="http://cdn.example.com/a.png" />middle<img src="https://cdn.example.com/b.png">`
	parts := splitInlineImages(body)
	want := []inlinePart{
		{text: "Before"},
		{imageURL: "https://cdn.example.com/a.png"},
		{text: "middle"},
		{imageURL: "https://cdn.example.com/b.png"},
	}
	if len(parts) != len(want) {
		t.Fatalf("parts = %d, want %d: %+v", len(parts), len(want), parts)
	}
	for i := range want {
		if parts[i] != want[i] {
			t.Fatalf("part %d = %+v, want %+v", i, parts[i], want[i])
		}
	}
}

func TestSplitInlineImagesTrailingText(t *testing.T) {
	t.Parallel()

	parts := splitInlineImages(`<img src="https://x/a.png" />tail text`)
	if len(parts) != 2 {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].imageURL != "https://x/a.png" || parts[1].text != "tail text" {
		t.Fatalf("parts = %+v", parts)
	}
}

func TestContainsInlineImage(t *testing.T) {
	t.Parallel()

	if !containsInlineImage(`look: <img src="https://x/a.png">`) {
		t.Fatalf("img tag not detected")
	}
	if containsInlineImage("plain text") {
		t.Fatalf("false positive on plain text")
	}
}
