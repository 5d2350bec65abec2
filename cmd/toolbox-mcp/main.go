// Command toolbox-mcp runs the toolbox MCP server over stdio.
// Point an "mcp" config entry at it to try provider connections locally.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/qent/sona-sub000/pkg/mcpserver/toolbox"
)

func main() {
	if err := server.ServeStdio(toolbox.NewServer()); err != nil {
		log.Fatal(err)
	}
}
