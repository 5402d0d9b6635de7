package reply

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	doc := `{"palette":{},"structure":[]}`
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace", " \n\t ", ""},
		{"bare", "  " + doc + "\n", doc},
		{"labeled", "```json\n" + doc + "\n```", doc},
		{"labeled with prose", "Here is your house:\n```json\n" + doc + "\n```\nEnjoy!", doc},
		{"generic", "Sure.\n```\n" + doc + "\n```", doc},
		{"labeled preferred over earlier generic", "```\nnot this\n```\ntext\n```json\n" + doc + "\n```", doc},
		{"unterminated fence", "```json\n" + doc, doc},
		{"unterminated generic", "```\n" + doc + "\n", doc},
		{"prose only", "I cannot help with that.", "I cannot help with that."},
		{"empty fenced block", "``````", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Fatalf("Normalize(%q)=%q want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalize_DoesNotInspectContent(t *testing.T) {
	in := "```json\nthis is { not json\n```"
	if got := Normalize(in); got != "this is { not json" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("a", 900)
	got := Truncate(long, 0)
	if !strings.HasPrefix(got, strings.Repeat("a", 800)+"...") || !strings.HasSuffix(got, "(truncated, len=900)") {
		t.Fatalf("got %q", got[790:])
	}
	if got := Truncate("ééééé", 2); got != "éé...(truncated, len=5)" {
		t.Fatalf("rune truncation: %q", got)
	}
}
