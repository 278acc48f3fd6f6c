package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vocabvoice/pkg/model"
)

// DefaultMinAudioSize is the smallest audio payload considered valid.
const DefaultMinAudioSize = 1024

var (
	// ErrCorruptAsset marks a payload at or below the minimum size or an invalid marker.
	ErrCorruptAsset = errors.New("corrupt asset")
	// ErrNotFound is returned when no file exists at a path.
	ErrNotFound = errors.New("asset not found")
	// ErrInvalidPath is returned for paths escaping the asset root.
	ErrInvalidPath = errors.New("invalid asset path")
)

// Options configures a Store.
type Options struct {
	MinAudioSize int64
	CacheSize    int           // payloads kept in memory; 0 disables the cache
	CacheTTL     time.Duration // lifetime of a cached payload
}

// Store reads and writes generated assets below a root directory.
type Store struct {
	root    string
	minSize int64
	cache   *expirable.LRU[string, []byte]
	now     func() time.Time

	slotMu sync.Mutex
}

// NewStore creates a store rooted at root. The directory is created on first write.
func NewStore(root string, opts Options) *Store {
	s := &Store{
		root:    root,
		minSize: opts.MinAudioSize,
		now:     time.Now,
	}
	if s.minSize <= 0 {
		s.minSize = DefaultMinAudioSize
	}
	if opts.CacheSize > 0 {
		s.cache = expirable.NewLRU[string, []byte](opts.CacheSize, nil, opts.CacheTTL)
	}
	return s
}

// Root returns the asset root directory.
func (s *Store) Root() string {
	return s.root
}

// MinAudioSize returns the configured audio threshold.
func (s *Store) MinAudioSize() int64 {
	return s.minSize
}

// Abs resolves a relative asset path to a file system path inside the root.
func (s *Store) Abs(rel string) (string, error) {
	clean := path.Clean(filepath.ToSlash(rel))
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Validate checks a payload against the rules for its path.
func (s *Store) Validate(rel string, data []byte) error {
	switch {
	case IsMarker(rel):
		if !json.Valid(data) {
			return fmt.Errorf("%w: %s is not valid JSON", ErrCorruptAsset, rel)
		}
	case strings.HasPrefix(path.Clean(filepath.ToSlash(rel)), AudioDir+"/"):
		if int64(len(data)) <= s.minSize {
			return fmt.Errorf("%w: %s has %d bytes (min %d)", ErrCorruptAsset, rel, len(data), s.minSize)
		}
	default:
		if len(data) == 0 {
			return fmt.Errorf("%w: %s is empty", ErrCorruptAsset, rel)
		}
	}
	return nil
}

// Write stores data at rel via a temp file and rename so readers never see a partial file.
func (s *Store) Write(rel string, data []byte) error {
	abs, err := s.Abs(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create asset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move asset into place: %w", err)
	}

	if s.cache != nil {
		s.cache.Remove(rel)
	}
	return nil
}

// Read returns the payload at rel. Files failing validation yield ErrCorruptAsset.
func (s *Store) Read(rel string) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.Get(rel); ok {
			return data, nil
		}
	}
	abs, err := s.Abs(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	if err := s.Validate(rel, data); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(rel, data)
	}
	return data, nil
}

// Exists reports whether a valid asset is stored at rel.
func (s *Store) Exists(rel string) bool {
	abs, err := s.Abs(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return false
	}
	if IsMarker(rel) {
		_, err := s.Read(rel)
		return err == nil
	}
	if strings.HasPrefix(path.Clean(filepath.ToSlash(rel)), AudioDir+"/") {
		return info.Size() > s.minSize
	}
	return info.Size() > 0
}

// Remove deletes the file at rel. Missing files are not an error.
func (s *Store) Remove(rel string) error {
	abs, err := s.Abs(rel)
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Remove(rel)
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove asset: %w", err)
	}
	return nil
}

// ListSlot returns every file of a slot, newest first, regardless of extension.
func (s *Store) ListSlot(id model.ContentID, kind model.Kind) ([]string, error) {
	dir := Dir(kind)
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	type slotFile struct {
		rel string
		ts  time.Time
	}
	var files []slotFile
	prefix := SlotPrefix(id, kind)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		n, err := ParseName(e.Name())
		if err != nil || n.ContentID != id || n.Kind != kind {
			continue
		}
		files = append(files, slotFile{rel: path.Join(dir, e.Name()), ts: n.Timestamp})
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].ts.After(files[j].ts) })

	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.rel
	}
	return out, nil
}

// FindSlot returns the newest valid file of a slot.
func (s *Store) FindSlot(id model.ContentID, kind model.Kind) (string, bool) {
	files, err := s.ListSlot(id, kind)
	if err != nil {
		slog.Warn("Assets: failed to list slot", "content_id", id, "kind", kind, "error", err)
		return "", false
	}
	for _, f := range files {
		if s.Exists(f) {
			return f, true
		}
	}
	return "", false
}

// WriteSlot replaces every prior file of the slot with data under a fresh
// canonical name. The payload is validated before anything is deleted.
func (s *Store) WriteSlot(id model.ContentID, kind model.Kind, ext, text string, data []byte) (model.AssetRecord, error) {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()

	rel := Path(id, kind, s.now(), ext)
	if err := s.Validate(rel, data); err != nil {
		return model.AssetRecord{}, err
	}

	old, err := s.ListSlot(id, kind)
	if err != nil {
		return model.AssetRecord{}, err
	}
	for _, f := range old {
		if err := s.Remove(f); err != nil {
			return model.AssetRecord{}, err
		}
		slog.Debug("Assets: removed stale slot file", "path", f)
	}

	if err := s.Write(rel, data); err != nil {
		return model.AssetRecord{}, err
	}
	return model.AssetRecord{
		ContentID:   id,
		Kind:        kind,
		StoragePath: rel,
		SizeBytes:   int64(len(data)),
		Text:        text,
		CreatedAt:   s.now(),
	}, nil
}
