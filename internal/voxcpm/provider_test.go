package voxcpm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-voxcpm/internal/textfilter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type predictCall struct {
	job  string
	data []any
}

// fakeApp records every call and fails the prediction numbered failOn (1-based).
type fakeApp struct {
	mu         sync.Mutex
	choices    []string
	hasList    bool
	connectErr error
	failOn     int
	noAudio    bool
	connects   int
	calls      []predictCall
}

func (f *fakeApp) Connect(ctx context.Context, endpoint string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f, nil
}

func (f *fakeApp) Choices(label string) ([]string, bool) {
	if !f.hasList || label != DefaultVoiceLabel {
		return nil, false
	}
	return f.choices, true
}

func (f *fakeApp) Predict(ctx context.Context, job string, data ...any) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, predictCall{job: job, data: data})
	n := len(f.calls)
	if n == f.failOn {
		return nil, errors.New("remote exploded")
	}
	if f.noAudio {
		return []json.RawMessage{}, nil
	}
	return []json.RawMessage{json.RawMessage(fmt.Sprintf(`{"url":"http://app/file=%d.wav"}`, n))}, nil
}

func (f *fakeApp) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.data[1].(string))
	}
	return out
}

func newTestProvider(app *fakeApp) *Provider {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(Settings{Speed: 1.25}, app, logger)
}

func TestSynthesizeBlankMakesNoCall(t *testing.T) {
	app := &fakeApp{}
	p := newTestProvider(app)

	for _, text := range []string{"", "   ", "\n\t"} {
		res, err := p.Synthesize(context.Background(), text, "Alice")
		require.NoError(t, err)
		assert.True(t, res.Empty())
	}
	assert.Zero(t, app.connects)
	assert.Empty(t, app.calls)
}

func TestSynthesizeSingleSegment(t *testing.T) {
	app := &fakeApp{}
	p := newTestProvider(app)

	res, err := p.Synthesize(context.Background(), "hello there", "Alice")
	require.NoError(t, err)
	require.NotNil(t, res.Audio)
	assert.Nil(t, res.Stream)
	assert.Equal(t, "http://app/file=1.wav", res.Audio.Locator())

	require.Len(t, app.calls, 1)
	assert.Equal(t, DefaultJobName, app.calls[0].job)
	assert.Equal(t, []any{"Alice", "hello there", DefaultPromptText, nil, 1.25}, app.calls[0].data)
}

func TestSynthesizeSingleSegmentNoAudio(t *testing.T) {
	p := newTestProvider(&fakeApp{noAudio: true})

	_, err := p.Synthesize(context.Background(), "hello", "Alice")
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestSynthesizeSingleSegmentConnectFailure(t *testing.T) {
	boom := errors.New("refused")
	p := newTestProvider(&fakeApp{connectErr: boom})

	_, err := p.Synthesize(context.Background(), "hello", "Alice")
	assert.ErrorIs(t, err, boom)
}

func TestSynthesizeStreamIsLazyAndOrdered(t *testing.T) {
	app := &fakeApp{}
	p := newTestProvider(app)
	text := "one" + textfilter.SplitMarker + "  " + textfilter.SplitMarker + "two" + textfilter.SplitMarker + "three"

	res, err := p.Synthesize(context.Background(), text, "Alice")
	require.NoError(t, err)
	require.NotNil(t, res.Stream)
	assert.Nil(t, res.Audio)
	assert.Equal(t, 3, res.Stream.Len())
	assert.Empty(t, app.calls, "no call before the first Next")

	ctx := context.Background()
	for i, want := range []string{"one", "two", "three"} {
		ref, err := res.Stream.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, ref.Sequence)
		assert.Equal(t, want, ref.Text)
		assert.Len(t, app.calls, i+1)
	}
	_, err = res.Stream.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []string{"one", "two", "three"}, app.texts())
	assert.Equal(t, 1, app.connects, "one session per stream")
}

func TestSynthesizeStreamStopsAtFailure(t *testing.T) {
	app := &fakeApp{failOn: 2}
	p := newTestProvider(app)
	text := "a" + textfilter.SplitMarker + "b" + textfilter.SplitMarker + "c"

	res, err := p.Synthesize(context.Background(), text, "Alice")
	require.NoError(t, err)

	var got []AudioRef
	var streamErr error
	for ref, err := range res.Stream.All(context.Background()) {
		if err != nil {
			streamErr = err
			break
		}
		got = append(got, ref)
	}

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Text)
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "remote exploded")
	assert.Len(t, app.calls, 2, "third segment must not be attempted")

	_, err = res.Stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestSynthesizeStreamAbandoned(t *testing.T) {
	app := &fakeApp{}
	p := newTestProvider(app)
	text := "a" + textfilter.SplitMarker + "b" + textfilter.SplitMarker + "c"

	res, err := p.Synthesize(context.Background(), text, "Alice")
	require.NoError(t, err)
	for _, err := range res.Stream.All(context.Background()) {
		require.NoError(t, err)
		break
	}
	assert.Len(t, app.calls, 1)

	res.Stream.Close()
	_, err = res.Stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Len(t, app.calls, 1)
}

func TestSynthesizeRepairsDuplicatedIdentifier(t *testing.T) {
	app := &fakeApp{}
	p := newTestProvider(app)

	_, err := p.Synthesize(context.Background(), "hi", "Alice,Alice")
	require.NoError(t, err)
	_, err = p.Synthesize(context.Background(), "hi", "Bob,Carl")
	require.NoError(t, err)

	assert.Equal(t, "Alice", app.calls[0].data[0])
	assert.Equal(t, "Bob,Carl", app.calls[1].data[0])
}

func TestSynthesizeKeepsCommaIdentifierInCatalog(t *testing.T) {
	app := &fakeApp{hasList: true, choices: []string{"A,A"}}
	p := newTestProvider(app)
	_, err := p.RefreshVoices(context.Background())
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "hi", "A,A")
	require.NoError(t, err)
	assert.Equal(t, "A,A", app.calls[0].data[0])
}

func TestRefreshVoices(t *testing.T) {
	app := &fakeApp{hasList: true, choices: []string{"Alice", "Bob"}}
	p := newTestProvider(app)

	voices, err := p.RefreshVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Voice{{Name: "Alice", VoiceID: "Alice"}, {Name: "Bob", VoiceID: "Bob"}}, voices)
}

func TestRefreshVoicesFallsBackToDefault(t *testing.T) {
	for _, app := range []*fakeApp{{}, {hasList: true}} {
		p := newTestProvider(app)
		voices, err := p.RefreshVoices(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []Voice{{Name: DefaultVoiceName, VoiceID: DefaultVoiceName}}, voices)
	}
}

func TestRefreshVoicesFailureKeepsCatalog(t *testing.T) {
	app := &fakeApp{hasList: true, choices: []string{"Alice"}}
	p := newTestProvider(app)
	_, err := p.RefreshVoices(context.Background())
	require.NoError(t, err)

	app.connectErr = errors.New("down")
	voices, err := p.RefreshVoices(context.Background())
	assert.Error(t, err)
	assert.Empty(t, voices)
	assert.Equal(t, []Voice{{Name: "Alice", VoiceID: "Alice"}}, p.Voices(context.Background()))
}

func TestVoiceFillsEmptyCatalogOnce(t *testing.T) {
	app := &fakeApp{hasList: true, choices: []string{"Alice"}}
	p := newTestProvider(app)

	assert.Equal(t, Voice{Name: "Alice", VoiceID: "Alice"}, p.Voice(context.Background(), "Alice,Alice"))
	assert.Equal(t, Voice{Name: "Zed", VoiceID: "Zed"}, p.Voice(context.Background(), "Zed"))
	assert.Equal(t, 1, app.connects)
}

func TestVoiceWithUnreachableCatalog(t *testing.T) {
	app := &fakeApp{connectErr: errors.New("down")}
	p := newTestProvider(app)

	assert.Equal(t, Voice{Name: "Alice", VoiceID: "Alice"}, p.Voice(context.Background(), "Alice"))
	assert.Equal(t, Voice{}, p.Voice(context.Background(), ""))
	assert.Equal(t, 2, app.connects, "still empty, so every lookup retries")
}

func TestSpeakFiltersAndResolves(t *testing.T) {
	app := &fakeApp{hasList: true, choices: []string{"Alice"}}
	p := newTestProvider(app)
	p.UpdateSettings(Settings{Filter: textfilter.Config{OnlyBracketed: true, StripEmphasis: true}})

	res, err := p.Speak(context.Background(), "narration only", "Alice")
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Empty(t, app.calls)

	res, err = p.Speak(context.Background(), "「*waves* hi」 and 「bye」", "Alice,Alice")
	require.NoError(t, err)
	refs, err := res.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, []string{"hi", "bye"}, app.texts())
	assert.Equal(t, "Alice", app.calls[0].data[0])
	assert.Equal(t, 1.0, app.calls[0].data[4], "settings reset speed to the default")
}

func TestCheckReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	p := New(Settings{Endpoint: srv.URL}, &fakeApp{}, nil)
	assert.False(t, p.Ready())
	assert.True(t, p.CheckReady(context.Background()))

	srv.Close()
	assert.True(t, p.CheckReady(context.Background()), "a failed probe keeps the previous state")

	down := New(Settings{Endpoint: srv.URL}, &fakeApp{}, nil)
	assert.False(t, down.CheckReady(context.Background()))
}

func TestMockConnector(t *testing.T) {
	mock := NewMockConnector("Alice")
	mock.Delay = 0
	p := New(Settings{}, mock, nil)

	assert.Equal(t, []Voice{{Name: "Alice", VoiceID: "Alice"}}, p.Voices(context.Background()))
	res, err := p.Synthesize(context.Background(), "x"+textfilter.SplitMarker+"y", "Alice")
	require.NoError(t, err)
	refs, err := res.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock://audio/1.wav", refs[0].URL)
	assert.Equal(t, "mock://audio/2.wav", refs[1].URL)
	assert.EqualValues(t, 2, mock.Calls())
}
