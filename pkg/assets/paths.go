// Package assets maps content items to files under the generated asset
// directory and reads and writes those files safely.
package assets

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"vocabvoice/pkg/model"
)

const (
	AudioDir = "audio"
	ImageDir = "images"

	ExtMP3  = ".mp3"
	ExtWAV  = ".wav"
	ExtJSON = ".json"
	ExtSVG  = ".svg"
)

// Dir returns the subdirectory holding assets of the given kind.
func Dir(kind model.Kind) string {
	if kind.IsAudio() {
		return AudioDir
	}
	return ImageDir
}

// Path returns the canonical slash-separated path, relative to the asset root,
// for a slot file written at ts. ext includes the leading dot.
//
//	audio/<kind>_<id>_<unixmillis>.<ext>
//	images/card_<id>_<unixmillis>.svg
func Path(id model.ContentID, kind model.Kind, ts time.Time, ext string) string {
	return path.Join(Dir(kind), fmt.Sprintf("%s%d%s", SlotPrefix(id, kind), ts.UnixMilli(), ext))
}

// SlotPrefix is the file name prefix shared by every file of a slot.
func SlotPrefix(id model.ContentID, kind model.Kind) string {
	return fmt.Sprintf("%s_%d_", kind, id)
}

// Name is a parsed slot file name.
type Name struct {
	ContentID model.ContentID
	Kind      model.Kind
	Timestamp time.Time
	Ext       string
}

// ParseName parses a bare file name such as "word_42_1700000000000.mp3".
func ParseName(filename string) (Name, error) {
	if filename == "" || strings.ContainsAny(filename, `/\`) {
		return Name{}, fmt.Errorf("invalid asset name %q", filename)
	}
	ext := path.Ext(filename)
	parts := strings.Split(strings.TrimSuffix(filename, ext), "_")
	if len(parts) != 3 || ext == "" {
		return Name{}, fmt.Errorf("invalid asset name %q", filename)
	}
	kind := model.Kind(parts[0])
	if !kind.Valid() {
		return Name{}, fmt.Errorf("unknown asset kind in %q", filename)
	}
	id, err := model.ParseContentID(parts[1])
	if err != nil {
		return Name{}, err
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Name{}, fmt.Errorf("invalid timestamp in %q: %w", filename, err)
	}
	return Name{ContentID: id, Kind: kind, Timestamp: time.UnixMilli(ms), Ext: strings.ToLower(ext)}, nil
}

// PathForName returns the relative path of a bare slot file name.
func PathForName(filename string) (string, error) {
	n, err := ParseName(filename)
	if err != nil {
		return "", err
	}
	return path.Join(Dir(n.Kind), filename), nil
}

// IsMarker reports whether p is a speech-fallback JSON marker.
func IsMarker(p string) bool {
	return strings.EqualFold(path.Ext(p), ExtJSON)
}

// ContentType returns the MIME type served for an asset path.
func ContentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ExtJSON:
		return "application/json"
	case ExtWAV:
		return "audio/wav"
	case ExtSVG:
		return "image/svg+xml"
	default:
		return "audio/mpeg"
	}
}
