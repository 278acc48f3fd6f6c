package jobapi

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocabvoice/pkg/model"
	"vocabvoice/pkg/request"
	"vocabvoice/pkg/tracker"
	"vocabvoice/pkg/tts"
)

func newTestClient(t *testing.T, fake *FakeServer, key string) *Client {
	t.Helper()
	tts.SetLogPath(filepath.Join(t.TempDir(), "tts.log"))
	t.Cleanup(func() { tts.SetLogPath("logs/tts.log") })

	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	rc := request.New(tracker.New(), request.ClientConfig{Timeout: 5 * time.Second, MaxAttempts: 1})
	c, err := New(Config{BaseURL: srv.URL + "/", APIKey: key, Voice: "narrator"}, rc)
	require.NoError(t, err)
	return c
}

func fixedPayload(n int) func(string, string) ([]byte, error) {
	return func(string, string) ([]byte, error) {
		return bytes.Repeat([]byte{1}, n), nil
	}
}

func TestClient_SubmitPollDownload(t *testing.T) {
	fake := NewFakeServer()
	fake.ReadyAfter = 1
	fake.Render = fixedPayload(5 * 1024)
	c := newTestClient(t, fake, "")
	ctx := context.Background()

	id, err := c.Submit(ctx, "hello", "en-US")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := c.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)

	job, err = c.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobDone, job.Status)
	assert.Contains(t, job.ResultLocation, "/files/"+id)

	data, err := c.Download(ctx, job.ResultLocation)
	require.NoError(t, err)
	assert.Len(t, data, 5*1024)
}

func TestClient_AuthFailureIsFatal(t *testing.T) {
	fake := NewFakeServer()
	fake.Token = "right"
	c := newTestClient(t, fake, "wrong")

	_, err := c.Submit(context.Background(), "hello", "en")
	require.Error(t, err)
	assert.ErrorIs(t, err, tts.ErrProviderUnavailable)
	assert.True(t, tts.IsFatalError(err))
}

func TestClient_ServerErrorIsUnavailable(t *testing.T) {
	fake := NewFakeServer()
	fake.FailSubmits = 1
	c := newTestClient(t, fake, "")

	_, err := c.Submit(context.Background(), "hello", "en")
	assert.ErrorIs(t, err, tts.ErrProviderUnavailable)
	assert.False(t, tts.IsFatalError(err))
}

func TestClient_UnknownJob(t *testing.T) {
	c := newTestClient(t, NewFakeServer(), "")
	_, err := c.Poll(context.Background(), "missing")
	assert.ErrorIs(t, err, tts.ErrProviderUnavailable)
	assert.ErrorIs(t, err, tts.ErrJobNotFound)
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "::not-a-url"}, nil)
	assert.Error(t, err)
}

func TestGeneratorOverHTTP(t *testing.T) {
	fake := NewFakeServer()
	fake.FailSubmits = 2
	fake.Token = "secret"
	c := newTestClient(t, fake, "secret")

	g := tts.NewGenerator(c, tts.GeneratorConfig{
		PollInterval: time.Millisecond,
		PollAttempts: 5,
		Cycles:       3,
		CycleBackoff: time.Millisecond,
	})

	res, err := g.Generate(context.Background(), "สวัสดี", "th-TH")
	require.NoError(t, err)
	assert.Equal(t, 3, fake.Submits())
	assert.Equal(t, ".wav", res.Ext, "builtin renderer produces wav")
	assert.Greater(t, len(res.Audio), tts.MinAudioSize)
}
