package assets

import (
	"testing"
	"time"

	"vocabvoice/pkg/model"
)

func TestPath(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	tests := []struct {
		name string
		id   model.ContentID
		kind model.Kind
		ext  string
		want string
	}{
		{"word mp3", 42, model.KindWord, ExtMP3, "audio/word_42_1700000000123.mp3"},
		{"example marker", 7, model.KindExample, ExtJSON, "audio/example_7_1700000000123.json"},
		{"card image", 42, model.KindCard, ExtSVG, "images/card_42_1700000000123.svg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Path(tt.id, tt.kind, ts, tt.ext); got != tt.want {
				t.Errorf("Path() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseName(t *testing.T) {
	n, err := ParseName("example_12_1700000000000.JSON")
	if err != nil {
		t.Fatalf("ParseName failed: %v", err)
	}
	if n.ContentID != 12 || n.Kind != model.KindExample || n.Ext != ".json" {
		t.Errorf("unexpected parse result: %+v", n)
	}
	if n.Timestamp.UnixMilli() != 1700000000000 {
		t.Errorf("timestamp = %v", n.Timestamp)
	}

	bad := []string{
		"",
		"word_12.mp3",
		"song_12_1.mp3",
		"word_x_1.mp3",
		"word_1_x.mp3",
		"../word_1_1.mp3",
		"word_1_1",
	}
	for _, name := range bad {
		if _, err := ParseName(name); err == nil {
			t.Errorf("ParseName(%q) expected error", name)
		}
	}
}

func TestPathForNameAndContentType(t *testing.T) {
	p, err := PathForName("card_3_10.svg")
	if err != nil || p != "images/card_3_10.svg" {
		t.Fatalf("PathForName = %q, %v", p, err)
	}
	if ContentType(p) != "image/svg+xml" {
		t.Errorf("ContentType(%q) = %q", p, ContentType(p))
	}
	if ContentType("audio/word_1_1.json") != "application/json" {
		t.Error("json content type mismatch")
	}
	if ContentType("audio/word_1_1.mp3") != "audio/mpeg" {
		t.Error("mp3 content type mismatch")
	}
}
