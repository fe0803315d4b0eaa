package planner

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	logx "postpilot/pkg/logx"
)

func TestPlanOffline(t *testing.T) {
	t.Parallel()
	pl := New(Config{}, logx.Nop())

	d, err := pl.Plan(context.Background(), "announce the v2 release")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Text != "announce the v2 release" {
		t.Fatalf("draft text = %q", d.Text)
	}
	if len(d.Platforms) != 1 || d.Platforms[0] != "twitter" {
		t.Fatalf("draft platforms = %v", d.Platforms)
	}
}

func TestPlanOfflineTruncates(t *testing.T) {
	t.Parallel()
	pl := New(Config{}, logx.Nop())
	long := strings.Repeat("a", 500)

	d, err := pl.Plan(context.Background(), long)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(d.Text) != maxDraftLen {
		t.Fatalf("draft length = %d, want %d", len(d.Text), maxDraftLen)
	}
}

func TestPlanOfflineTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()
	pl := New(Config{}, logx.Nop())
	long := strings.Repeat("€", 400) // 3 bytes per character

	d, err := pl.Plan(context.Background(), long)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !utf8.ValidString(d.Text) {
		t.Fatalf("truncation produced invalid UTF-8: %q", d.Text[len(d.Text)-8:])
	}
	if got := utf8.RuneCountInString(d.Text); got != maxDraftLen {
		t.Fatalf("draft length = %d chars, want %d", got, maxDraftLen)
	}
}

func TestPlanEmptyPrompt(t *testing.T) {
	t.Parallel()
	pl := New(Config{}, logx.Nop())
	if _, err := pl.Plan(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank prompt")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		draft    Draft
		problems int
	}{
		{"valid", Draft{Text: "ship it"}, 0},
		{"empty", Draft{Text: "  "}, 1},
		{"too long", Draft{Text: strings.Repeat("x", 281)}, 1},
		{"banned phrase", Draft{Text: "Guaranteed Returns if you invest today"}, 1},
		{"empty is one problem not two", Draft{Text: ""}, 1},
		{"multi-byte text counts characters", Draft{Text: strings.Repeat("é", 200)}, 0},
		{"281 accented chars rejected", Draft{Text: strings.Repeat("é", 281)}, 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Validate(tc.draft); len(got) != tc.problems {
				t.Fatalf("Validate(%q) = %v, want %d problems", tc.draft.Text, got, tc.problems)
			}
		})
	}
}
