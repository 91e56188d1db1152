package providers

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type mockLLM struct {
	mock.Mock
	name string
}

func (m *mockLLM) Name() string  { return m.name }
func (m *mockLLM) Model() string { return m.name + "-model" }

func (m *mockLLM) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*CompletionResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockTTS struct {
	mock.Mock
	name  string
	limit int
}

func (m *mockTTS) Name() string       { return m.name }
func (m *mockTTS) MaxInputChars() int { return m.limit }

func (m *mockTTS) Synthesize(ctx context.Context, req SpeechRequest) (*Audio, error) {
	args := m.Called(ctx, req)
	if a := args.Get(0); a != nil {
		return a.(*Audio), args.Error(1)
	}
	return nil, args.Error(1)
}
