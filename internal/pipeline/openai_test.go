// ABOUTME: Tests for OpenAI pipeline prompt assembly
// ABOUTME: Covers history role mapping, image attachments, and tool lookup

package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(tools []Tool) *OpenAIPipeline {
	return NewOpenAI(OpenAIConfig{
		APIKey:        "sk-test",
		Model:         "gpt-4o-mini",
		ASRModel:      "whisper-1",
		Voice:         "alloy",
		ContextWindow: 128000,
		ContextAlert:  0.8,
		MaxToolRounds: 5,
	}, tools)
}

func TestBuildMessages_RoleMapping(t *testing.T) {
	p := newTestPipeline(nil)

	msgs, err := p.buildMessages(Request{
		SystemPrompt: "be brief",
		Messages: []Message{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
		},
		Input: "what now?",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	assert.NotNil(t, msgs[2].OfAssistant)
	assert.NotNil(t, msgs[3].OfUser)
}

func TestBuildMessages_SystemHistoryRowsSkipped(t *testing.T) {
	p := newTestPipeline(nil)

	msgs, err := p.buildMessages(Request{
		SystemPrompt: "be brief",
		Messages: []Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
		Input: "what now?",
	})
	require.NoError(t, err)

	// System context appears once, not duplicated from history
	require.Len(t, msgs, 3)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
}

func TestBuildMessages_UnknownRoleRejected(t *testing.T) {
	p := newTestPipeline(nil)

	_, err := p.buildMessages(Request{
		Messages: []Message{{Role: "narrator", Content: "meanwhile"}},
		Input:    "hi",
	})
	assert.Error(t, err)
}

func TestBuildMessages_ImagesBecomeContentParts(t *testing.T) {
	p := newTestPipeline(nil)

	msgs, err := p.buildMessages(Request{
		Input:  "what is in this picture?",
		Images: []string{"data:image/png;base64,AAAA"},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	user := msgs[0].OfUser
	require.NotNil(t, user)
	parts := user.Content.OfArrayOfContentParts
	require.Len(t, parts, 2)
	assert.NotNil(t, parts[0].OfText)
	assert.NotNil(t, parts[1].OfImageURL)
}

func TestRunTool(t *testing.T) {
	called := ""
	p := newTestPipeline([]Tool{{
		Name: "get_weather",
		Run: func(_ context.Context, args string) (string, error) {
			called = args
			return "sunny", nil
		},
	}})

	result, err := p.runTool(context.Background(), openai.ChatCompletionMessageToolCallParam{
		ID: "call_1",
		Function: openai.ChatCompletionMessageToolCallFunctionParam{
			Name:      "get_weather",
			Arguments: `{"city":"Oslo"}`,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "sunny", result)
	assert.Equal(t, `{"city":"Oslo"}`, called)
}

func TestRunTool_Unknown(t *testing.T) {
	p := newTestPipeline(nil)

	_, err := p.runTool(context.Background(), openai.ChatCompletionMessageToolCallParam{
		Function: openai.ChatCompletionMessageToolCallFunctionParam{Name: "nope"},
	})
	assert.ErrorContains(t, err, "unknown tool")
}

func TestMock_ReplaysScript(t *testing.T) {
	m := &Mock{
		TranscribeText: "hello world",
		ReplyDeltas:    []string{"All good", " here."},
		ReplyUsage:     Usage{CurrentTokens: 42, MaxTokens: 1000, Threshold: 0.8},
		AudioData:      []byte{1, 2, 3},
	}

	text, err := m.Transcribe(context.Background(), []byte{0}, false)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	var deltas, sentences []string
	result, err := m.Respond(context.Background(), Request{Input: "hi"},
		func(d string) { deltas = append(deltas, d) },
		func(s string) { sentences = append(sentences, s) })
	require.NoError(t, err)

	assert.Equal(t, "All good here.", result.Text)
	assert.Equal(t, []string{"All good", " here."}, deltas)
	assert.Equal(t, []string{"All good here."}, sentences)
	assert.Equal(t, 42, result.Usage.CurrentTokens)

	audio, err := m.Synthesize(context.Background(), "All good here.")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, audio)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "hi", reqs[0].Input)
}

// completionServer serves a canned chat-completion SSE stream.
func completionServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRespond_StreamsDeltasAndUsage(t *testing.T) {
	srv := completionServer(t,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hello "}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"world."},"finish_reason":"stop"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
	)
	p := NewOpenAI(OpenAIConfig{
		APIKey:        "sk-test",
		BaseURL:       srv.URL,
		Model:         "gpt-4o-mini",
		ContextWindow: 100,
		ContextAlert:  0.8,
	}, nil)

	var deltas []string
	result, err := p.Respond(context.Background(), Request{Input: "hi"},
		func(d string) { deltas = append(deltas, d) }, nil)
	require.NoError(t, err)

	assert.Equal(t, "Hello world.", result.Text)
	assert.Equal(t, []string{"Hello ", "world."}, deltas)
	assert.Equal(t, 7, result.Usage.CurrentTokens)
	assert.Equal(t, 100, result.Usage.MaxTokens)
}

func TestRespond_EmptyStreamIsNoChoices(t *testing.T) {
	srv := completionServer(t,
		`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":0,"total_tokens":3}}`,
	)
	p := NewOpenAI(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-4o-mini",
	}, nil)

	_, err := p.Respond(context.Background(), Request{Input: "hi"}, nil, nil)
	require.ErrorIs(t, err, ErrNoChoices)
}
