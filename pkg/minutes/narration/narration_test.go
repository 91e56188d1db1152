package narration

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/minutes/pkg/blob"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

type fakeTTS struct {
	limit int
	fail  func(text string) bool

	mu    sync.Mutex
	calls int
}

func (f *fakeTTS) Name() string       { return "fake" }
func (f *fakeTTS) MaxInputChars() int { return f.limit }

func (f *fakeTTS) Synthesize(ctx context.Context, req providers.SpeechRequest) (*providers.Audio, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail != nil && f.fail(req.Text) {
		return nil, errors.New("synthesis failed")
	}
	return &providers.Audio{PCM: []byte{1, 0, 2, 0}, SampleRate: 24000, Channels: 1, Provider: "fake"}, nil
}

func sampleMinutes() *minutes.FinalMinutes {
	return &minutes.FinalMinutes{
		Title:            "Budget review",
		Date:             time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		Participants:     []string{"Alice", "Bob"},
		ExecutiveSummary: "The team agreed the budget. Hiring starts next quarter.",
		KeyTopics:        []string{"budget", "hiring"},
		Decisions:        []minutes.Decision{{Statement: "Approve the budget", Rationale: "Costs are within plan"}},
		ActionItems:      []minutes.ActionItem{{Item: "Open two roles", Owner: "Alice", DueDate: "2026-04-01"}},
		Transcript: []minutes.TranscriptSegment{
			{ID: "seg-0001", Speaker: "Alice", Text: "Let's approve the budget."},
			{ID: "seg-0002", Speaker: "Bob", Text: "Agreed."},
		},
	}
}

func newStore(t *testing.T) *blob.LocalStore {
	t.Helper()
	s, err := blob.NewLocalStore(blob.LocalConfig{Root: t.TempDir(), BaseURL: "http://blobs.test", SigningKey: "k"})
	require.NoError(t, err)
	return s
}

func TestSentences(t *testing.T) {
	got := Sentences("First one. Second one?  Third!\nFourth without stop")
	assert.Equal(t, []string{"First one.", "Second one?", "Third!", "Fourth without stop"}, got)
}

func TestChunk_RespectsLimit(t *testing.T) {
	text := "Short sentence. " + strings.Repeat("word ", 30) + "end. Tail sentence here."
	chunks := Chunk(text, 40)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 40, c)
	}
	assert.Equal(t, "Short sentence.", chunks[0])
	assert.Equal(t, "Tail sentence here.", chunks[len(chunks)-1])
	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")))
}

func TestChunk_PacksSentences(t *testing.T) {
	chunks := Chunk("One. Two. Three.", 100)
	assert.Equal(t, []string{"One. Two. Three."}, chunks)
}

func TestChunk_HardSplitsLongWord(t *testing.T) {
	chunks := Chunk(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, chunks)
}

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav := EncodeWAV(pcm, 24000, 1)
	require.Len(t, wav, 48)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(40), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}

func TestSilence(t *testing.T) {
	assert.Len(t, Silence(400*time.Millisecond, 24000, 1), 19200)
	assert.Len(t, Silence(400*time.Millisecond, 16000, 2), 25600)
}

func TestScripts(t *testing.T) {
	m := sampleMinutes()
	summary := SummaryScript(m)
	assert.Contains(t, summary, "Budget review.")
	assert.Contains(t, summary, "Wednesday, March 4, 2026")
	assert.Contains(t, summary, "Participants: Alice, Bob.")

	points := KeyPointsScript(m)
	assert.Contains(t, points, "1. Approve the budget.")
	assert.Contains(t, points, "Open two roles, owned by Alice, due 2026-04-01.")

	assert.Equal(t, "Alice said: Let's approve the budget.\nBob said: Agreed.", TranscriptScript(m))
	assert.Empty(t, KeyPointsScript(&minutes.FinalMinutes{}))
}

func TestNarrate_AllArtifacts(t *testing.T) {
	store := newStore(t)
	tts := &fakeTTS{limit: 40}
	n := New(Config{}, tts, store, nil)
	m := sampleMinutes()

	urls, err := n.Narrate(context.Background(), "job-1", m, "alloy")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(urls.Summary, "http://blobs.test/blobs/jobs/job-1/narration/summary.wav?"))
	assert.Contains(t, urls.KeyPoints, "key_points.wav")
	assert.Contains(t, urls.Transcript, "transcript.wav")

	chunks := len(Chunk(SummaryScript(m), 40))
	require.Greater(t, chunks, 1)
	data, err := store.Download(context.Background(), ArtifactKey("job-1", KindSummary))
	require.NoError(t, err)
	assert.Len(t, data, 44+chunks*4+(chunks-1)*19200)
}

func TestNarrate_SkipsFailedChunks(t *testing.T) {
	store := newStore(t)
	tts := &fakeTTS{limit: 4096, fail: func(text string) bool { return strings.Contains(text, "said") }}
	n := New(Config{}, tts, store, nil)

	urls, err := n.Narrate(context.Background(), "job-2", sampleMinutes(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, urls.Summary)
	assert.NotEmpty(t, urls.KeyPoints)
	assert.Empty(t, urls.Transcript)

	_, err = store.Download(context.Background(), ArtifactKey("job-2", KindTranscript))
	assert.Error(t, err)
}

func TestNarrate_NoArtifacts(t *testing.T) {
	tts := &fakeTTS{limit: 4096, fail: func(string) bool { return true }}
	n := New(Config{}, tts, newStore(t), nil)

	urls, err := n.Narrate(context.Background(), "job-3", sampleMinutes(), "")
	require.NoError(t, err)
	assert.True(t, urls.Empty())
}

func TestNarrate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tts := &fakeTTS{limit: 4096, fail: func(string) bool { return true }}
	n := New(Config{}, tts, newStore(t), nil)

	_, err := n.Narrate(ctx, "job-4", sampleMinutes(), "")
	assert.ErrorIs(t, err, context.Canceled)
}
