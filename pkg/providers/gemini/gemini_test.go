package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVoiceFor(t *testing.T) {
	assert.Equal(t, "Puck", voiceFor("Puck"))
	assert.Equal(t, DefaultVoice, voiceFor("alloy"))
	assert.Equal(t, DefaultVoice, voiceFor(""))
}

func TestMeanConfidence(t *testing.T) {
	assert.InDelta(t, 0.75, meanConfidence([]float64{0.5, 1.0}, "a b"), 1e-9)
	assert.InDelta(t, 0.5, meanConfidence([]float64{-1, 2}, "a b"), 1e-9)
	assert.Equal(t, 0.7, meanConfidence(nil, "text"))
	assert.Equal(t, 0.0, meanConfidence(nil, ""))
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrAPIKeyNotSet)
}
