package materialize

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docmat/kit"
)

// RegisterMCP registers the materialize_process tool on an MCP server.
func (s *Stage) RegisterMCP(srv *mcp.Server, logger *slog.Logger) {
	tool := &mcp.Tool{
		Name:        "materialize_process",
		Description: "Extract a document to <path>.xhtml and return the routed work item with its extracted metadata.",
		InputSchema: kit.InputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Source file path"},
			"item": map[string]any{
				"type":        "object",
				"description": "Work item {id, attributes}; the source path is read from the configured input attribute",
			},
		}, nil),
	}
	kit.RegisterMCPTool(srv, tool, s.ProcessEndpoint(logger), kit.DecodeJSON[ProcessRequest]())
}
