package providers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingObserver) ObserveProviderCall(kind, provider string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.calls = append(r.calls, kind+":"+provider+":"+status)
}

func TestLLMChain_FallsBackOnFailure(t *testing.T) {
	primary := &mockLLM{name: "openai"}
	secondary := &mockLLM{name: "gemini"}
	primary.On("Complete", mock.Anything, mock.Anything).
		Return(nil, mnerrors.FromStatus("openai", http.StatusUnauthorized, errors.New("bad key"))).Once()
	secondary.On("Complete", mock.Anything, mock.Anything).
		Return(&CompletionResponse{Content: "hi", Provider: "gemini"}, nil).Once()

	obs := &recordingObserver{}
	chain := NewLLMChain(ChainOptions{Retry: fastPolicy(), Observer: obs}, primary, nil, secondary)

	resp, err := chain.Complete(context.Background(), CompletionRequest{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, 2, chain.Len())
	assert.Equal(t, []string{"llm:openai:error", "llm:gemini:ok"}, obs.calls)
	primary.AssertExpectations(t)
	secondary.AssertExpectations(t)
}

func TestLLMChain_AllFail(t *testing.T) {
	primary := &mockLLM{name: "openai"}
	primary.On("Complete", mock.Anything, mock.Anything).
		Return(nil, mnerrors.FromStatus("openai", http.StatusServiceUnavailable, errors.New("down")))

	chain := NewLLMChain(ChainOptions{Retry: fastPolicy()}, primary)
	_, err := chain.Complete(context.Background(), CompletionRequest{Prompt: "hello"})
	require.Error(t, err)
	assert.True(t, mnerrors.IsTransient(err))
	primary.AssertNumberOfCalls(t, "Complete", 3)
}

func TestLLMChain_Empty(t *testing.T) {
	chain := NewLLMChain(ChainOptions{})
	_, err := chain.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, "none", chain.Name())
}

func TestTTSChain_MaxInputChars(t *testing.T) {
	chain := NewTTSChain(ChainOptions{}, &mockTTS{name: "a", limit: 4096}, &mockTTS{name: "b", limit: 3000}, &mockTTS{name: "c"})
	assert.Equal(t, 3000, chain.MaxInputChars())
}

func TestTTSChain_Fallback(t *testing.T) {
	primary := &mockTTS{name: "openai", limit: 4096}
	secondary := &mockTTS{name: "gemini", limit: 4000}
	primary.On("Synthesize", mock.Anything, mock.Anything).
		Return(nil, mnerrors.FromStatus("openai", http.StatusBadRequest, errors.New("voice unknown")))
	secondary.On("Synthesize", mock.Anything, SpeechRequest{Text: "hi", Voice: "alloy"}).
		Return(&Audio{PCM: []byte{0, 0}, SampleRate: 24000, Channels: 1, Provider: "gemini"}, nil)

	chain := NewTTSChain(ChainOptions{Retry: fastPolicy()}, primary, secondary)
	audio, err := chain.Synthesize(context.Background(), SpeechRequest{Text: "hi", Voice: "alloy"})
	require.NoError(t, err)
	assert.Equal(t, "gemini", audio.Provider)
	primary.AssertNumberOfCalls(t, "Synthesize", 1)
}
