package gemini

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"impression":`), genai.Text(`"ok"}`)}}},
		},
	}
	text, err := ResponseText(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"impression":"ok"}`, text)

	_, err = ResponseText(&genai.GenerateContentResponse{})
	assert.Error(t, err)

	_, err = ResponseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}})
	assert.Error(t, err)

	_, err = ResponseText(nil)
	assert.Error(t, err)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(t.Context(), Config{}, nil)
	assert.Error(t, err)
}
