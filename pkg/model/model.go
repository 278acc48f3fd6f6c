package model

import (
	"fmt"
	"strconv"
	"time"
)

// ContentID identifies a vocabulary item in the catalog.
type ContentID int64

func (id ContentID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseContentID parses a decimal content identifier.
func ParseContentID(s string) (ContentID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid content id %q: %w", s, err)
	}
	return ContentID(n), nil
}

// Kind names an asset slot of a content item.
type Kind string

const (
	KindWord    Kind = "word"
	KindExample Kind = "example"
	KindCard    Kind = "card"
)

// IsAudio reports whether assets of this kind live in the audio directory.
func (k Kind) IsAudio() bool {
	return k == KindWord || k == KindExample
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindWord || k == KindExample || k == KindCard
}

// AudioRequest is the immutable input of a play or generate call.
type AudioRequest struct {
	Text      string     `json:"text"`
	Language  string     `json:"language"`
	ContentID *ContentID `json:"content_id,omitempty"`
	Kind      Kind       `json:"kind"`
}

// JobStatus is the provider-side state of a generation job.
type JobStatus string

const (
	JobPending JobStatus = "Pending"
	JobDone    JobStatus = "Done"
	JobError   JobStatus = "Error"
)

// Terminal reports whether no further polling is needed.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// GenerationJob tracks one submit-poll-download cycle.
type GenerationJob struct {
	ID             string    `json:"id"`
	Status         JobStatus `json:"status"`
	ResultLocation string    `json:"result_location,omitempty"`
	Attempts       int       `json:"attempts"`
	Err            string    `json:"error,omitempty"`
}

// AssetRecord describes a generated file on disk.
type AssetRecord struct {
	ContentID   ContentID `json:"content_id"`
	Kind        Kind      `json:"kind"`
	StoragePath string    `json:"storage_path"` // relative to the asset root
	SizeBytes   int64     `json:"size_bytes"`
	Text        string    `json:"text"` // text the asset was generated from
	CreatedAt   time.Time `json:"created_at"`
}

// SourceType tags the variant of an AudioSource.
type SourceType string

const (
	SourceLocalFile         SourceType = "local_file"
	SourceRemoteStream      SourceType = "remote_stream"
	SourceSynthesizedSpeech SourceType = "synthesized_speech"
)

// AudioSource is the outcome of a resolution.
type AudioSource struct {
	Type SourceType `json:"type"`

	Path string `json:"path,omitempty"` // LocalFile
	URL  string `json:"url,omitempty"`  // RemoteStream

	// SynthesizedSpeech
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`

	// StoredPath is set when generation also persisted the payload.
	StoredPath string `json:"stored_path,omitempty"`
}

func LocalFile(path string) AudioSource {
	return AudioSource{Type: SourceLocalFile, Path: path, StoredPath: path}
}

func RemoteStream(url, storedPath string) AudioSource {
	return AudioSource{Type: SourceRemoteStream, URL: url, StoredPath: storedPath}
}

func SynthesizedSpeech(text, language string) AudioSource {
	return AudioSource{Type: SourceSynthesizedSpeech, Text: text, Language: language}
}

// ContentItem is a vocabulary item as returned by the catalog.
type ContentItem struct {
	ContentID ContentID `json:"content_id"`
	Word      string    `json:"word"`
	Example   string    `json:"example"`
	Language  string    `json:"language"`
}

// TextFor returns the text spoken for the given kind.
func (c ContentItem) TextFor(k Kind) string {
	if k == KindExample {
		return c.Example
	}
	return c.Word
}

// Progress is reported by long running batch operations.
type Progress struct {
	Current       int    `json:"current"`
	Total         int    `json:"total"`
	StatusMessage string `json:"status_message"`
}
