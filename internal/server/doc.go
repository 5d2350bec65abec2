// Package server exposes the conversation core over HTTP.
//
// Routes:
//
//	GET    /chat                                 list persisted chats
//	POST   /chat                                 start an empty session
//	GET    /chat/{chatID}                        persisted history
//	DELETE /chat/{chatID}                        delete a chat
//	GET    /session                              current session snapshot
//	GET    /session/event                        SSE stream of snapshots
//	POST   /session/load/{chatID}                switch to a chat
//	POST   /session/message                      start a turn
//	POST   /session/stop                         stop the turn
//	POST   /session/delete-from/{index}          truncate history
//	POST   /session/auto-approve                 toggle tool auto-approval
//	POST   /session/permission                   answer a permission request
//	GET    /provider                             tool provider statuses
//	POST   /provider/reload                      reconnect all providers
//	POST   /provider/{name}/toggle               enable or disable a provider
//	POST   /provider/{name}/tool/{tool}/toggle   enable or disable one tool
//	GET    /event                                SSE stream of bus events
//
// Errors use the ErrorResponse envelope. A send while a turn is running
// answers 409 with code BUSY.
package server
