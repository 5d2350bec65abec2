// Package session drives conversation turns for the live chat.
//
// A turn starts with a user message and ends with a stable assistant reply,
// with any number of tool round trips in between. The Controller owns the
// turn. The tool wrappers and the permission gate touch the session state
// only while a tool call of that turn runs.
//
// # Turn lifecycle
//
//	Idle -> Sending -> Streaming -> (ToolLoop -> Streaming)* -> Completed | Cancelled
//
// Send persists the user message, appends an empty assistant placeholder
// and starts one streamed attempt through a provider.Streamer:
//
//	ctrl := session.NewController(session.Config{
//		Chats:    chats,
//		State:    sessionState,
//		Tools:    toolset.NewBuilder(toolsetConfig),
//		Gate:     gate,
//		Streamer: streamer,
//	})
//	err := ctrl.Send(ctx, "summarize README.md")
//
// Stream callbacks are applied in order:
//   - partial text grows the placeholder and is not persisted
//   - an executed tool call persists its result, then opens a new placeholder
//   - completion persists the reply with its token usage and clears the flags
//   - an error is retried or ends the turn with one "Error: ..." message
//
// # Retries
//
// Failed attempts are retried after RetryInitial, doubling each time, at
// most MaxRetries times. Cancellation is never retried.
//
// # Stopping
//
// Every attempt carries a generation number. Stop bumps it, so callbacks of
// an abandoned stream and a scheduled retry are ignored. It cancels the
// stream and any open permission question, drops an empty trailing
// placeholder and clears the in-flight flags.
//
// Progress is observed through State().Subscribe.
package session
