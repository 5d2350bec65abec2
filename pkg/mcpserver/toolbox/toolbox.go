// Package toolbox provides a small MCP server used to exercise tool
// provider connections.
package toolbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Name is the server name reported during initialization.
const Name = "toolbox"

// NewServer creates an MCP server exposing echo, word_count and sum.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Returns the given text unchanged"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to echo back"),
		),
	), echoHandler)

	s.AddTool(mcp.NewTool("word_count",
		mcp.WithDescription("Counts the words in a text"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to count words in"),
		),
	), wordCountHandler)

	s.AddTool(mcp.NewTool("sum",
		mcp.WithDescription("Calculates the sum of an array of numbers"),
		mcp.WithArray("numbers",
			mcp.Required(),
			mcp.Description("Array of numbers to sum"),
			mcp.Items(map[string]any{"type": "number"}),
		),
	), sumHandler)

	return s
}

func echoHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := request.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text argument is required"), nil
	}
	return mcp.NewToolResultText(text), nil
}

func wordCountHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := request.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text argument is required"), nil
	}
	return mcp.NewToolResultText(strconv.Itoa(len(strings.Fields(text)))), nil
}

func sumHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	numbersArg, ok := request.GetArguments()["numbers"]
	if !ok {
		return mcp.NewToolResultError("numbers argument is required"), nil
	}

	numbers, err := toFloat64Slice(numbersArg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid numbers: %v", err)), nil
	}

	var sum float64
	for _, n := range numbers {
		sum += n
	}
	return mcp.NewToolResultText(strconv.FormatFloat(sum, 'f', -1, 64)), nil
}

func toFloat64Slice(v any) ([]float64, error) {
	switch arr := v.(type) {
	case []any:
		result := make([]float64, len(arr))
		for i, elem := range arr {
			switch n := elem.(type) {
			case float64:
				result[i] = n
			case int:
				result[i] = float64(n)
			case int64:
				result[i] = float64(n)
			default:
				return nil, fmt.Errorf("element %d is not a number: %T", i, elem)
			}
		}
		return result, nil
	case []float64:
		return arr, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}
