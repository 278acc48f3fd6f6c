package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocabvoice/pkg/assets"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/tts"
)

type slotKey struct {
	id   model.ContentID
	kind model.Kind
}

type memCatalog struct {
	mu      sync.Mutex
	assets  map[slotKey]model.AssetRecord
	records int
}

func newMemCatalog() *memCatalog {
	return &memCatalog{assets: make(map[slotKey]model.AssetRecord)}
}

func (c *memCatalog) AssetFor(_ context.Context, id model.ContentID, kind model.Kind) (model.AssetRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.assets[slotKey{id, kind}]
	return rec, ok, nil
}

func (c *memCatalog) RecordAsset(_ context.Context, rec model.AssetRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records++
	c.assets[slotKey{rec.ContentID, rec.Kind}] = rec
	return nil
}

type fakeSpeech bool

func (f fakeSpeech) Available() bool { return bool(f) }

// scriptedJobs is a JobClient whose behaviour is set per test.
type scriptedJobs struct {
	mu          sync.Mutex
	failSubmits int
	donePolls   int
	payload     []byte
	submits     int
	polls       map[string]int
}

func (s *scriptedJobs) Submit(context.Context, string, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.submits <= s.failSubmits {
		return "", fmt.Errorf("%w: down", tts.ErrProviderUnavailable)
	}
	return fmt.Sprintf("job-%d", s.submits), nil
}

func (s *scriptedJobs) Poll(_ context.Context, id string) (model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polls == nil {
		s.polls = make(map[string]int)
	}
	s.polls[id]++
	if s.polls[id] < s.donePolls {
		return model.GenerationJob{ID: id, Status: model.JobPending}, nil
	}
	return model.GenerationJob{ID: id, Status: model.JobDone, ResultLocation: "https://provider.invalid/" + id}, nil
}

func (s *scriptedJobs) Download(context.Context, string) ([]byte, error) {
	return s.payload, nil
}

func (s *scriptedJobs) submitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

func newGenerator(jobs tts.JobClient) *tts.Generator {
	return tts.NewGenerator(jobs, tts.GeneratorConfig{
		PollInterval: time.Millisecond,
		PollAttempts: 5,
		PollRetries:  1,
		Cycles:       3,
		CycleBackoff: time.Millisecond,
		MinAudioSize: 1024,
	})
}

// countingGen fails the test when the resolver should not generate.
type countingGen struct {
	calls int
	inner Generator
}

func (c *countingGen) Generate(ctx context.Context, text, language string) (*tts.Result, error) {
	c.calls++
	if c.inner == nil {
		return nil, errors.New("unexpected generation")
	}
	return c.inner.Generate(ctx, text, language)
}

func idPtr(id model.ContentID) *model.ContentID { return &id }

func newStore(t *testing.T) *assets.Store {
	return assets.NewStore(t.TempDir(), assets.Options{MinAudioSize: 1024})
}

func TestResolve_LocalFileSkipsGeneration(t *testing.T) {
	store := newStore(t)
	catalog := newMemCatalog()
	rec, err := store.WriteSlot(7, model.KindWord, assets.ExtMP3, "Hund", bytes.Repeat([]byte{1}, 4096))
	require.NoError(t, err)
	require.NoError(t, catalog.RecordAsset(context.Background(), rec))

	gen := &countingGen{}
	r := New(catalog, store, gen, fakeSpeech(true), nil, nil, Options{})

	src, err := r.Resolve(context.Background(), model.AudioRequest{
		Text: "Hund", Language: "de-DE", ContentID: idPtr(7), Kind: model.KindWord,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceLocalFile, src.Type)
	assert.Equal(t, rec.StoragePath, src.Path)
	assert.Zero(t, gen.calls, "generator must not be called when a local file exists")
}

func TestResolve_StaleTextRegenerates(t *testing.T) {
	store := newStore(t)
	catalog := newMemCatalog()
	rec, err := store.WriteSlot(7, model.KindWord, assets.ExtMP3, "Katze", bytes.Repeat([]byte{1}, 4096))
	require.NoError(t, err)
	require.NoError(t, catalog.RecordAsset(context.Background(), rec))

	jobs := &scriptedJobs{donePolls: 1, payload: bytes.Repeat([]byte{2}, 3000)}
	r := New(catalog, store, newGenerator(jobs), fakeSpeech(true), tts.NewJobCache(8, time.Minute), nil, Options{})

	src, err := r.Resolve(context.Background(), model.AudioRequest{
		Text: "Hund", Language: "de-DE", ContentID: idPtr(7), Kind: model.KindWord,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceRemoteStream, src.Type)
	assert.False(t, store.Exists(rec.StoragePath), "old asset replaced")
	assert.True(t, store.Exists(src.StoredPath))
}

func TestResolve_CorruptDownloadFallsBackToSpeech(t *testing.T) {
	store := newStore(t)
	catalog := newMemCatalog()
	jobs := &scriptedJobs{donePolls: 1, payload: bytes.Repeat([]byte{1}, 100)}
	r := New(catalog, store, newGenerator(jobs), fakeSpeech(true), nil, nil, Options{})

	src, err := r.Resolve(context.Background(), model.AudioRequest{
		Text: "hello", Language: "en-US", ContentID: idPtr(1), Kind: model.KindWord,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SynthesizedSpeech("hello", "en-US"), src)
	assert.Zero(t, catalog.records, "corrupt payload must not be recorded")
	_, found := store.FindSlot(1, model.KindWord)
	assert.False(t, found)
}

func TestResolve_ThaiWordScenario(t *testing.T) {
	store := newStore(t)
	catalog := newMemCatalog()
	jobs := &scriptedJobs{donePolls: 2, payload: bytes.Repeat([]byte{0x55}, 5*1024)}
	cache := tts.NewJobCache(8, time.Minute)
	r := New(catalog, store, newGenerator(jobs), fakeSpeech(true), cache, nil, Options{})

	src, err := r.Resolve(context.Background(), model.AudioRequest{
		Text: "สวัสดี", Language: "th-TH", ContentID: idPtr(42), Kind: model.KindWord,
	})
	require.NoError(t, err)
	require.Equal(t, model.SourceRemoteStream, src.Type)
	assert.Equal(t, "/api/audio/download/job-1", src.URL)
	assert.Equal(t, 2, jobs.polls["job-1"])

	files, err := store.ListSlot(42, model.KindWord)
	require.NoError(t, err)
	require.Len(t, files, 1, "exactly one asset written")
	assert.Equal(t, src.StoredPath, files[0])

	name, err := assets.ParseName(files[0][len(assets.AudioDir)+1:])
	require.NoError(t, err)
	assert.Equal(t, model.ContentID(42), name.ContentID)
	assert.Equal(t, model.KindWord, name.Kind)
	assert.Equal(t, assets.Path(42, model.KindWord, name.Timestamp, assets.ExtMP3), files[0])

	assert.Equal(t, 1, catalog.records)
	rec, ok, _ := catalog.AssetFor(context.Background(), 42, model.KindWord)
	require.True(t, ok)
	assert.Equal(t, int64(5*1024), rec.SizeBytes)

	cached, ok := cache.Get("job-1")
	require.True(t, ok, "payload kept for the download proxy")
	assert.Len(t, cached.Audio, 5*1024)
}

func TestResolve_SubmitRetryBudget(t *testing.T) {
	t.Run("succeeds on third submit", func(t *testing.T) {
		jobs := &scriptedJobs{failSubmits: 2, donePolls: 1, payload: bytes.Repeat([]byte{1}, 2048)}
		r := New(nil, newStore(t), newGenerator(jobs), fakeSpeech(true), nil, nil, Options{})

		src, err := r.Resolve(context.Background(), model.AudioRequest{Text: "hi", Language: "en"})
		require.NoError(t, err)
		assert.Equal(t, model.SourceRemoteStream, src.Type)
		assert.Equal(t, 3, jobs.submitCount())
	})

	t.Run("always failing falls through after budget", func(t *testing.T) {
		jobs := &scriptedJobs{failSubmits: 1000}
		r := New(nil, newStore(t), newGenerator(jobs), fakeSpeech(true), nil, nil, Options{})

		src, err := r.Resolve(context.Background(), model.AudioRequest{Text: "hi", Language: "en"})
		require.NoError(t, err)
		assert.Equal(t, model.SourceSynthesizedSpeech, src.Type)
		assert.Equal(t, 3, jobs.submitCount())
	})
}

func TestResolve_NoCapability(t *testing.T) {
	jobs := &scriptedJobs{failSubmits: 1000}
	r := New(nil, newStore(t), newGenerator(jobs), fakeSpeech(false), nil, nil, Options{})

	_, err := r.Resolve(context.Background(), model.AudioRequest{Text: "hi", Language: "en"})
	assert.ErrorIs(t, err, ErrNoPlaybackCapability)
}

func TestResolve_MarkerUsesSpeech(t *testing.T) {
	store := newStore(t)
	catalog := newMemCatalog()
	rec, err := store.WriteSlot(3, model.KindExample, assets.ExtJSON, "Guten Tag", []byte(`{"fallback":"speech"}`))
	require.NoError(t, err)
	require.NoError(t, catalog.RecordAsset(context.Background(), rec))

	gen := &countingGen{}
	r := New(catalog, store, gen, fakeSpeech(true), nil, nil, Options{})

	src, err := r.Resolve(context.Background(), model.AudioRequest{
		Text: "Guten Tag", Language: "de", ContentID: idPtr(3), Kind: model.KindExample,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceSynthesizedSpeech, src.Type)
	assert.Zero(t, gen.calls)
}

func TestResolve_RecentCacheReusesJob(t *testing.T) {
	jobs := &scriptedJobs{donePolls: 1, payload: bytes.Repeat([]byte{1}, 2048)}
	cache := tts.NewJobCache(8, time.Minute)
	r := New(newMemCatalog(), newStore(t), newGenerator(jobs), fakeSpeech(true), cache, nil, Options{})

	req := model.AudioRequest{Text: "bonjour", Language: "fr-FR"}
	first, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)

	second, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, 1, jobs.submitCount())

	// A content item with the same text gets its own stored copy
	req.ContentID = idPtr(9)
	third, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.URL, third.URL)
	assert.NotEmpty(t, third.StoredPath)
	assert.Equal(t, 1, jobs.submitCount())
}

type failingStore struct{ *assets.Store }

func (failingStore) WriteSlot(model.ContentID, model.Kind, string, string, []byte) (model.AssetRecord, error) {
	return model.AssetRecord{}, errors.New("disk full")
}

func TestResolve_WriteFailureIsNotFatal(t *testing.T) {
	jobs := &scriptedJobs{donePolls: 1, payload: bytes.Repeat([]byte{1}, 2048)}
	catalog := newMemCatalog()
	r := New(catalog, failingStore{newStore(t)}, newGenerator(jobs), fakeSpeech(false), nil, nil, Options{})

	src, err := r.Resolve(context.Background(), model.AudioRequest{
		Text: "hi", Language: "en", ContentID: idPtr(5), Kind: model.KindWord,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceRemoteStream, src.Type)
	assert.Empty(t, src.StoredPath)
	assert.Zero(t, catalog.records)
}

func TestResolve_MarkupInRequestMatchesStoredText(t *testing.T) {
	store := newStore(t)
	catalog := newMemCatalog()
	rec, err := store.WriteSlot(7, model.KindExample, assets.ExtMP3, "Der Hund bellt.", bytes.Repeat([]byte{1}, 4096))
	require.NoError(t, err)
	require.NoError(t, catalog.RecordAsset(context.Background(), rec))

	gen := &countingGen{}
	r := New(catalog, store, gen, fakeSpeech(true), nil, nil, Options{})

	src, err := r.Resolve(context.Background(), model.AudioRequest{
		Text: "Der <b>Hund</b>  bellt.", Language: "de-DE", ContentID: idPtr(7), Kind: model.KindExample,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceLocalFile, src.Type)
	assert.Equal(t, rec.StoragePath, src.Path)
	assert.Zero(t, gen.calls)
}

func TestResolve_RecentEntryWithEvictedJobRegenerates(t *testing.T) {
	jobs := &scriptedJobs{donePolls: 1, payload: bytes.Repeat([]byte{1}, 2048)}
	store := newStore(t)
	catalog := newMemCatalog()
	cache := tts.NewJobCache(1, time.Minute)
	r := New(catalog, store, newGenerator(jobs), fakeSpeech(true), cache, nil, Options{})
	ctx := context.Background()

	first, err := r.Resolve(ctx, model.AudioRequest{Text: "hi", Language: "en", ContentID: idPtr(1), Kind: model.KindWord})
	require.NoError(t, err)

	// A different text pushes the first job out of the one-entry cache
	_, err = r.Resolve(ctx, model.AudioRequest{Text: "other", Language: "en"})
	require.NoError(t, err)

	second, err := r.Resolve(ctx, model.AudioRequest{Text: "hi", Language: "en", ContentID: idPtr(2), Kind: model.KindWord})
	require.NoError(t, err)
	require.Equal(t, model.SourceRemoteStream, second.Type)
	assert.Equal(t, 3, jobs.submitCount(), "evicted job must not be reused")

	assert.NotEqual(t, first.StoredPath, second.StoredPath)
	name, err := assets.ParseName(path.Base(second.StoredPath))
	require.NoError(t, err)
	assert.Equal(t, model.ContentID(2), name.ContentID)

	rec, found, _ := catalog.AssetFor(ctx, 2, model.KindWord)
	require.True(t, found, "item 2 slot recorded")
	assert.Equal(t, second.StoredPath, rec.StoragePath)

	_, cached := cache.Get(strings.TrimPrefix(second.URL, DefaultDownloadPrefix))
	assert.True(t, cached, "stream URL points at a cached job")
}

func TestResolve_RecentEntryCopiedFromStoredFile(t *testing.T) {
	jobs := &scriptedJobs{donePolls: 1, payload: bytes.Repeat([]byte{1}, 2048)}
	store := newStore(t)
	catalog := newMemCatalog()
	cache := tts.NewJobCache(8, time.Minute)
	r := New(catalog, store, newGenerator(jobs), fakeSpeech(true), cache, nil, Options{})
	ctx := context.Background()

	first, err := r.Resolve(ctx, model.AudioRequest{Text: "hi", Language: "en", ContentID: idPtr(1), Kind: model.KindWord})
	require.NoError(t, err)

	// Job still known but its payload was dropped; the stored file is the source
	jobID := strings.TrimPrefix(first.URL, DefaultDownloadPrefix)
	cj, ok := cache.Get(jobID)
	require.True(t, ok)
	cache.Put(tts.CachedJob{Job: cj.Job})

	second, err := r.Resolve(ctx, model.AudioRequest{Text: "hi", Language: "en", ContentID: idPtr(2), Kind: model.KindWord})
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.submitCount())
	assert.Equal(t, first.URL, second.URL)

	name, err := assets.ParseName(path.Base(second.StoredPath))
	require.NoError(t, err)
	assert.Equal(t, model.ContentID(2), name.ContentID)
	data, err := store.Read(second.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, jobs.payload, data)
	assert.True(t, store.Exists(first.StoredPath), "item 1 keeps its own file")
}
