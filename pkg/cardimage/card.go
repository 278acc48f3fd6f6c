// Package cardimage renders vocabulary cards as SVG images.
package cardimage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	svg "github.com/ajstarks/svgo"

	"vocabvoice/pkg/model"
	"vocabvoice/pkg/textutil"
)

// Style controls card geometry and colours.
type Style struct {
	Width      int
	Height     int
	Background string
	Accent     string
	Foreground string
	FontFamily string
}

// DefaultStyle is used when no style is configured.
func DefaultStyle() Style {
	return Style{
		Width:      800,
		Height:     480,
		Background: "#fdfaf3",
		Accent:     "#2f6f8f",
		Foreground: "#1d1d1f",
		FontFamily: "Noto Sans, sans-serif",
	}
}

// Renderer draws cards.
type Renderer struct {
	style Style
}

// New creates a Renderer; zero fields of s fall back to DefaultStyle.
func New(s Style) *Renderer {
	def := DefaultStyle()
	if s.Width <= 0 || s.Height <= 0 {
		s.Width, s.Height = def.Width, def.Height
	}
	if s.Background == "" {
		s.Background = def.Background
	}
	if s.Accent == "" {
		s.Accent = def.Accent
	}
	if s.Foreground == "" {
		s.Foreground = def.Foreground
	}
	if s.FontFamily == "" {
		s.FontFamily = def.FontFamily
	}
	return &Renderer{style: s}
}

// Render returns the SVG document for item.
func (r *Renderer) Render(item model.ContentItem) ([]byte, error) {
	word := textutil.PlainText(item.Word)
	if word == "" {
		return nil, errors.New("card has no word")
	}
	example := textutil.PlainText(item.Example)
	s := r.style

	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(s.Width, s.Height)
	canvas.Title(word)
	canvas.Rect(0, 0, s.Width, s.Height, "fill:"+s.Background)
	canvas.Rect(0, 0, s.Width, 12, "fill:"+s.Accent)

	font := fmt.Sprintf("font-family:%s;fill:%s", s.FontFamily, s.Foreground)
	canvas.Text(s.Width/2, s.Height/3, word,
		font+";font-size:64px;font-weight:bold;text-anchor:middle")

	if example != "" {
		lines := textutil.WordWrap(example, 36)
		if len(lines) > 4 {
			lines = append(lines[:3], strings.TrimSpace(lines[3])+"…")
		}
		y := s.Height/3 + 90
		for _, line := range lines {
			canvas.Text(s.Width/2, y, line, font+";font-size:28px;text-anchor:middle")
			y += 40
		}
	}

	badge := strings.ToUpper(item.Language)
	if badge != "" {
		canvas.Roundrect(24, s.Height-64, 110, 40, 8, 8, "fill:"+s.Accent)
		canvas.Text(79, s.Height-37, badge,
			fmt.Sprintf("font-family:%s;fill:#ffffff;font-size:20px;text-anchor:middle", s.FontFamily))
	}
	canvas.Text(s.Width-24, s.Height-37, "#"+item.ContentID.String(),
		font+";font-size:18px;text-anchor:end;opacity:0.5")
	canvas.End()

	return buf.Bytes(), nil
}
