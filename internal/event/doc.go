/*
Package event provides the pub/sub bus that the conversation core uses to
announce state changes.

# Architecture

A Bus delivers events to in-process subscribers by direct call, keeping the
Go types of event payloads. Every event is also encoded as JSON and
published on WireTopic of a watermill GoChannel, which is what the HTTP
server relays as server-sent events.

	bus := event.NewBus()
	unsub := bus.Subscribe(event.ChatCreated, func(e event.Event) {
		data := e.Data.(event.ChatData)
		fmt.Println("new chat", data.ChatID)
	})
	defer unsub()

	bus.Publish(event.Event{Type: event.ChatCreated, Data: event.ChatData{ChatID: id}})

Publish delivers asynchronously, PublishSync on the caller's goroutine.
Wire consumers obtain messages with Stream and must Ack each one; the
message metadata "type" carries the event type and the payload carries a
monotonically increasing Seq.

# Event Types

  - session.updated: a new session snapshot (SessionUpdatedData)
  - chat.created, chat.deleted: chat lifecycle (ChatData)
  - message.persisted: a message reached the chat store (MessagePersistedData)
  - permission.required, permission.resolved: the tool permission gate
  - provider.status: tool provider connection states (ProviderStatusData)
  - config.reloaded: config files changed on disk (ConfigReloadedData)

# Latest

Latest[T] holds a current value and fans it out to subscribers. A new
subscriber receives the current value first, then every later value in
order. Each subscriber has its own queue so a slow reader never blocks
Set or other readers. Subscriptions end when their context is cancelled.
*/
package event
