package docpipe

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docmat/kit"
)

// RegisterMCP registers docpipe tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerExtractTool(srv)
	p.registerDetectTool(srv)
	p.registerFormatsTool(srv)
}

type pathReq struct {
	Path string `json:"path"`
}

type extractReq struct {
	Path     string `json:"path"`
	Markdown bool   `json:"markdown"`
}

type extractResp struct {
	*Document
	Markdown string `json:"markdown,omitempty"`
}

func (p *Pipeline) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docpipe_extract",
		Description: "Extract structured content and metadata from a document file (docx, odt, pdf, md, txt, html).",
		InputSchema: kit.InputSchema(map[string]any{
			"path":     map[string]any{"type": "string", "description": "File path to extract"},
			"markdown": map[string]any{"type": "boolean", "description": "Also return a Markdown rendering"},
		}, []string{"path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		f, err := p.OpenFile(r.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		h := NewXHTMLHandler()
		doc, err := p.Parse(ctx, f, r.Path, h, NewMetadata())
		if err != nil {
			return nil, err
		}
		resp := &extractResp{Document: doc}
		if r.Markdown {
			if resp.Markdown, err = ToMarkdown(h.String()); err != nil {
				return nil, err
			}
		}
		return resp, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[extractReq]())
}

func (p *Pipeline) registerDetectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docpipe_detect",
		Description: "Detect the format of a document file from its content.",
		InputSchema: kit.InputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to detect"},
		}, []string{"path"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*pathReq)
		format, err := p.Detect(r.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"format": string(format), "mime_type": format.MIMEType()}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, kit.DecodeJSON[pathReq]())
}

func (p *Pipeline) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docpipe_formats",
		Description: "List all supported document formats.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"formats": SupportedFormats()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
