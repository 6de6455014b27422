// ABOUTME: OpenAI-backed pipeline implementation using the official Go SDK
// ABOUTME: Streams chat deltas, runs tool follow-up rounds, and handles ASR/TTS

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

const (
	finishReasonStop      = "stop"
	finishReasonToolCalls = "tool_calls"
	finishReasonLength    = "length"
)

// OpenAIConfig configures the OpenAI pipeline.
type OpenAIConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	ASRModel      string
	Voice         string
	ContextWindow int
	ContextAlert  float64
	MaxToolRounds int
}

// OpenAIPipeline implements Pipeline against the OpenAI API.
type OpenAIPipeline struct {
	client openai.Client
	cfg    OpenAIConfig
	tools  []Tool
	logger *slog.Logger
}

// NewOpenAI creates a pipeline backed by the OpenAI API. Tools are
// offered to the model on every respond call.
func NewOpenAI(cfg OpenAIConfig, tools []Tool) *OpenAIPipeline {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}
	return &OpenAIPipeline{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		tools:  tools,
		logger: slog.Default().With("component", "pipeline"),
	}
}

// Transcribe converts an audio capture into text.
func (p *OpenAIPipeline) Transcribe(ctx context.Context, audio []byte, opus bool) (string, error) {
	name, mime := "audio.wav", "audio/wav"
	if opus {
		name, mime = "audio.ogg", "audio/ogg"
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(p.cfg.ASRModel),
		File:  openai.File(bytes.NewReader(audio), name, mime),
	})
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	return resp.Text, nil
}

// Synthesize converts a sentence into PCM audio.
func (p *OpenAIPipeline) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(p.cfg.Voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading speech response: %w", err)
	}
	return data, nil
}

// Respond streams a model reply for one user turn, running tool
// follow-up rounds until the model produces a final answer.
func (p *OpenAIPipeline) Respond(ctx context.Context, req Request, onDelta func(string), onSentence func(string)) (Result, error) {
	messages, err := p.buildMessages(req)
	if err != nil {
		return Result{}, err
	}

	var (
		splitter SentenceSplitter
		text     bytes.Buffer
		usage    openai.CompletionUsage
		started  = time.Now()
		ttft     time.Duration
	)

	emitDelta := func(s string) {
		if ttft == 0 {
			ttft = time.Since(started)
		}
		text.WriteString(s)
		if onDelta != nil {
			onDelta(s)
		}
		if onSentence != nil {
			splitter.Push(s, onSentence)
		}
	}

	for round := 0; ; round++ {
		if round > p.cfg.MaxToolRounds {
			return Result{}, ErrToolRoundsExceeded
		}

		calls, roundUsage, err := p.streamRound(ctx, messages, emitDelta)
		if err != nil {
			return Result{}, err
		}
		if roundUsage.TotalTokens > 0 {
			usage = roundUsage
		}
		if len(calls) == 0 {
			break
		}

		// Feed the tool round back into the conversation and go again
		messages = append(messages, assistantToolCalls(calls))
		for _, call := range calls {
			result, err := p.runTool(ctx, call)
			if err != nil {
				result = fmt.Sprintf("error: %v", err)
			}
			messages = append(messages, openai.ToolMessage(result, call.ID))
		}
	}

	if onSentence != nil {
		splitter.Flush(onSentence)
	}

	elapsed := time.Since(started).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(usage.CompletionTokens) / elapsed
	}

	return Result{
		Text: text.String(),
		Usage: Usage{
			CurrentTokens: int(usage.TotalTokens),
			MaxTokens:     p.cfg.ContextWindow,
			Threshold:     p.cfg.ContextAlert,
		},
		Metrics: Metrics{
			TTFTMs:    ttft.Milliseconds(),
			TokenRate: rate,
		},
	}, nil
}

// streamRound runs one streamed completion. It forwards content deltas
// and returns any tool calls the model requested.
func (p *OpenAIPipeline) streamRound(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, emitDelta func(string)) ([]openai.ChatCompletionMessageToolCallParam, openai.CompletionUsage, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	for _, t := range p.tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}

	var (
		usage     openai.CompletionUsage
		calls     []openai.ChatCompletionMessageToolCallParam
		running   *openai.ChatCompletionChunkChoiceDeltaToolCall
		sawChoice bool
		sawStop   bool
	)

	commit := func() {
		if running == nil {
			return
		}
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID: running.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      running.Function.Name,
				Arguments: running.Function.Arguments,
			},
		})
		running = nil
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sawChoice = true
		choice := chunk.Choices[0]

		if s := choice.Delta.Content; s != "" {
			emitDelta(s)
		}
		for _, t := range choice.Delta.ToolCalls {
			tc := t
			switch {
			case running == nil:
				if tc.ID != "" {
					running = &tc
				}
			case tc.ID == "" || tc.ID == running.ID:
				running.Function.Name += tc.Function.Name
				running.Function.Arguments += tc.Function.Arguments
			default:
				commit()
				running = &tc
			}
		}

		switch choice.FinishReason {
		case finishReasonToolCalls:
			commit()
		case finishReasonStop, finishReasonLength:
			sawStop = true
		}
	}
	if err := stream.Err(); err != nil {
		return nil, usage, fmt.Errorf("streaming completion: %w", err)
	}
	if !sawChoice {
		return nil, usage, ErrNoChoices
	}
	// A dangling tool call with no finish reason still counts
	commit()

	if sawStop {
		return nil, usage, nil
	}
	return calls, usage, nil
}

func (p *OpenAIPipeline) runTool(ctx context.Context, call openai.ChatCompletionMessageToolCallParam) (string, error) {
	for _, t := range p.tools {
		if t.Name != call.Function.Name {
			continue
		}
		p.logger.Debug("running tool", "tool", t.Name)
		return t.Run(ctx, call.Function.Arguments)
	}
	return "", fmt.Errorf("unknown tool %q", call.Function.Name)
}

// buildMessages assembles the full prompt for one turn.
func (p *OpenAIPipeline) buildMessages(req Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	var out []openai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		out = append(out, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			// System context is carried once via SystemPrompt
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("unexpected history role %q", m.Role)
		}
	}

	if len(req.Images) == 0 {
		out = append(out, openai.UserMessage(req.Input))
		return out, nil
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(req.Input),
	}
	for _, img := range req.Images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: img,
		}))
	}
	out = append(out, openai.UserMessage(parts))
	return out, nil
}

func assistantToolCalls(calls []openai.ChatCompletionMessageToolCallParam) openai.ChatCompletionMessageParamUnion {
	return openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			ToolCalls: calls,
		},
	}
}
