package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToTranscription(t *testing.T) {
	raw := `{"language":"english","duration":9.5,"text":"Hello all. Let's begin.",
		"segments":[
			{"start":0,"end":4.2,"text":" Hello all.","avg_logprob":-0.1,"no_speech_prob":0.0},
			{"start":4.2,"end":4.3,"text":"  ","avg_logprob":-1,"no_speech_prob":0.9},
			{"start":4.3,"end":9.5,"text":" Let's begin.","avg_logprob":-0.3,"no_speech_prob":0.1}
		]}`
	var body verboseTranscript
	require.NoError(t, json.Unmarshal([]byte(raw), &body))

	tr := toTranscription(body, "whisper-1")
	require.Len(t, tr.Segments, 2)
	assert.Equal(t, "Hello all.", tr.Segments[0].Text)
	assert.InDelta(t, 0.905, tr.Segments[0].Confidence, 0.001)
	assert.Equal(t, 9.5, tr.Duration)
	assert.Equal(t, "openai", tr.Provider)
}

func TestToTranscription_TextOnly(t *testing.T) {
	tr := toTranscription(verboseTranscript{Text: "Just text", Duration: 3}, "gpt-4o-transcribe")
	require.Len(t, tr.Segments, 1)
	assert.Equal(t, 3.0, tr.Segments[0].End)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)

	c, err := NewClient(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, DefaultChatModel, c.LLM().Model())
	assert.Equal(t, MaxSpeechInput, c.TTS().MaxInputChars())
}
