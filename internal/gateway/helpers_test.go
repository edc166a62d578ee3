package gateway

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/tmc/langchaingo/llms"
)

// mockGenerator is a testify mock of ContentGenerator.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	args := m.Called(ctx, messages)
	resp, _ := args.Get(0).(*llms.ContentResponse)
	return resp, args.Error(1)
}

// stubGenerator captures the resolved call options and messages.
type stubGenerator struct {
	fn       func(ctx context.Context) (*llms.ContentResponse, error)
	options  llms.CallOptions
	messages []llms.MessageContent
}

func (s *stubGenerator) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	s.messages = messages
	s.options = llms.CallOptions{}
	for _, opt := range options {
		opt(&s.options)
	}
	return s.fn(ctx)
}

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	vecs, _ := args.Get(0).([][]float32)
	return vecs, args.Error(1)
}

func contentResponse(content, stop string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        content,
			StopReason:     stop,
			GenerationInfo: info,
		}},
	}
}

func textOf(m llms.MessageContent) string {
	for _, part := range m.Parts {
		if tc, ok := part.(llms.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
