// Package provider connects sona to model backends.
//
// Backends (Anthropic, OpenAI and OpenAI-compatible servers, Volcengine
// ARK) are eino chat models behind the Provider interface and are
// collected in a Registry built from configuration:
//
//	registry, err := provider.InitializeProviders(ctx, cfg)
//	p, m, err := registry.Resolve("anthropic/claude-sonnet-4-20250514")
//
// The Streamer port runs one model call with tool calling. EinoStreamer
// streams a response, forwards text chunks to OnPartial, executes the
// requested tools through the supplied Tools, reports each result to
// OnToolExecuted and calls the model again until it answers without tool
// calls or the step limit is hit:
//
//	s := provider.NewEinoStreamer(p.ChatModel(), provider.StreamerConfig{
//	    Model:        m.ID,
//	    SystemPrompt: roles.SystemPrompt,
//	})
//	h := s.Stream(history, tools, provider.Callbacks{
//	    OnPartial:  func(text string) { ... },
//	    OnComplete: func(resp provider.Response) { ... },
//	    OnError:    func(err error) { ... },
//	})
//	h.Start(ctx)
//
// Exactly one of OnComplete and OnError ends every started call.
package provider
