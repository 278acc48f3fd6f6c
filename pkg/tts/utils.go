package tts

import (
	"bytes"
	"strings"
	"unicode"

	"vocabvoice/pkg/assets"
)

// NormalizeText collapses runs of whitespace and trims the text sent to a provider.
func NormalizeText(text string) string {
	return strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
}

// DetectExt returns the file extension matching an audio payload.
func DetectExt(data []byte) string {
	if len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return assets.ExtWAV
	}
	return assets.ExtMP3
}
