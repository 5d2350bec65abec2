package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/qent/sona-sub000/pkg/types"
)

// DefaultMaxSteps bounds model round trips within one streamed call.
const DefaultMaxSteps = 25

// Tools is the callable tool set of one turn.
type Tools interface {
	EinoTools() []*schema.ToolInfo
	Execute(ctx context.Context, call types.ToolCall) string
}

// Response is the outcome of a completed streamed call.
type Response struct {
	Content      string
	Usage        types.TokenUsage // summed over all steps
	FinishReason string
	Steps        int
}

// Callbacks receive stream events. They run on the stream goroutine, one
// at a time and in order. Nil callbacks are skipped.
type Callbacks struct {
	OnPartial      func(text string)
	OnToolExecuted func(call types.ToolCall, result string)
	OnComplete     func(resp Response)
	OnError        func(err error)
}

// Handle controls one streamed call.
type Handle interface {
	// Start begins streaming in the background. Only the first call
	// has an effect.
	Start(ctx context.Context)
	// Cancel aborts the call. OnError then receives a context error
	// unless the call already finished.
	Cancel()
}

// Streamer is the model streaming port.
type Streamer interface {
	Stream(history []types.TurnMessage, tools Tools, callbacks Callbacks) Handle
}

// StreamerConfig configures an EinoStreamer.
type StreamerConfig struct {
	// Model is passed to every call when set.
	Model string
	// MaxSteps defaults to DefaultMaxSteps.
	MaxSteps int
	// SystemPrompt is read before every step, so a role switch takes
	// effect on the next model call.
	SystemPrompt func() string
}

// EinoStreamer runs the tool-calling loop on an eino chat model: stream a
// response, execute its tool calls, feed the results back, repeat.
type EinoStreamer struct {
	chatModel model.ToolCallingChatModel
	config    StreamerConfig
}

// NewEinoStreamer creates a streamer over chatModel.
func NewEinoStreamer(chatModel model.ToolCallingChatModel, config StreamerConfig) *EinoStreamer {
	if config.MaxSteps <= 0 {
		config.MaxSteps = DefaultMaxSteps
	}
	return &EinoStreamer{chatModel: chatModel, config: config}
}

// Stream prepares a call. Nothing happens until Start.
func (s *EinoStreamer) Stream(history []types.TurnMessage, tools Tools, callbacks Callbacks) Handle {
	return &streamHandle{
		streamer:  s,
		history:   append([]types.TurnMessage(nil), history...),
		tools:     tools,
		callbacks: callbacks,
	}
}

type streamHandle struct {
	streamer  *EinoStreamer
	history   []types.TurnMessage
	tools     Tools
	callbacks Callbacks

	mu        sync.Mutex
	started   bool
	cancelled bool
	cancel    context.CancelFunc
}

func (h *streamHandle) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.cancelled {
		return
	}
	h.started = true
	ctx, h.cancel = context.WithCancel(ctx)
	go h.run(ctx)
}

func (h *streamHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = true
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *streamHandle) run(ctx context.Context) {
	defer h.Cancel()

	cfg := h.streamer.config
	chatModel := h.streamer.chatModel
	if h.tools != nil {
		if infos := h.tools.EinoTools(); len(infos) > 0 {
			bound, err := chatModel.WithTools(infos)
			if err != nil {
				h.fail(fmt.Errorf("failed to bind tools: %w", err))
				return
			}
			chatModel = bound
		}
	}

	var opts []model.Option
	if cfg.Model != "" {
		opts = append(opts, model.WithModel(cfg.Model))
	}

	messages := ToEinoMessages("", h.history)
	var usage types.TokenUsage

	for step := 1; ; step++ {
		input := messages
		if cfg.SystemPrompt != nil {
			if prompt := cfg.SystemPrompt(); prompt != "" {
				input = append([]*schema.Message{schema.SystemMessage(prompt)}, messages...)
			}
		}

		msg, err := h.step(ctx, chatModel, input, opts)
		if err != nil {
			h.fail(err)
			return
		}
		usage = usage.Add(usageOf(msg))

		finish := ""
		if msg.ResponseMeta != nil {
			finish = msg.ResponseMeta.FinishReason
		}
		if len(msg.ToolCalls) == 0 || step >= cfg.MaxSteps {
			if len(msg.ToolCalls) > 0 {
				log.Warn().Int("steps", step).Msg("step limit reached with pending tool calls")
				finish = "max_steps"
			}
			if h.callbacks.OnComplete != nil {
				h.callbacks.OnComplete(Response{
					Content:      msg.Content,
					Usage:        usage,
					FinishReason: finish,
					Steps:        step,
				})
			}
			return
		}

		messages = append(messages, msg)
		for _, call := range FromEinoToolCalls(msg.ToolCalls) {
			result := h.tools.Execute(ctx, call)
			if ctx.Err() != nil {
				h.fail(ctx.Err())
				return
			}
			if h.callbacks.OnToolExecuted != nil {
				h.callbacks.OnToolExecuted(call, result)
			}
			messages = append(messages, schema.ToolMessage(result, call.ID))
		}
	}
}

// step streams one model response, forwarding text chunks as partials.
func (h *streamHandle) step(ctx context.Context, chatModel model.ToolCallingChatModel, input []*schema.Message, opts []model.Option) (*schema.Message, error) {
	reader, err := chatModel.Stream(ctx, input, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	defer reader.Close()

	var chunks []*schema.Message
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		if chunk.Content != "" && h.callbacks.OnPartial != nil {
			h.callbacks.OnPartial(chunk.Content)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) == 0 {
		return &schema.Message{Role: schema.Assistant}, nil
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to merge stream chunks: %w", err)
	}
	return msg, nil
}

func (h *streamHandle) fail(err error) {
	if h.callbacks.OnError != nil {
		h.callbacks.OnError(err)
	}
}
