package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hmle/sitegen/internal/storage"
)

// NewMCPServer exposes the generation service to MCP clients: the same
// submit/poll/result contract as the HTTP surface, plus cache stats as a
// resource.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"sitegen",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sitegen generates a complete WordPress website for a business from its tax code."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_website",
			mcp.WithDescription("Start generating a website for a business. Returns a session ID to poll with get_progress."),
			mcp.WithString("tax_code", mcp.Description("Business tax code (10 or 13 digits)"), mcp.Required()),
			mcp.WithString("color_palette", mcp.Description("Color palette name"), mcp.Required()),
			mcp.WithString("website_style", mcp.Description("Website style, e.g. corporate or creative"), mcp.Required()),
			mcp.WithString("wp_url", mcp.Description("WordPress site URL"), mcp.Required()),
			mcp.WithString("wp_username", mcp.Description("WordPress username"), mcp.Required()),
			mcp.WithString("wp_password", mcp.Description("WordPress application password"), mcp.Required()),
		),
		mcpGenerateWebsite(deps),
	)

	s.AddTool(
		mcp.NewTool("get_progress",
			mcp.WithDescription("Get the current progress of a generation session."),
			mcp.WithString("session_id", mcp.Description("Session ID returned by generate_website"), mcp.Required()),
		),
		mcpGetProgress(deps),
	)

	s.AddTool(
		mcp.NewTool("get_result",
			mcp.WithDescription("Get the final result of a finished generation session."),
			mcp.WithString("session_id", mcp.Description("Session ID returned by generate_website"), mcp.Required()),
		),
		mcpGetResult(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"cache://stats",
			"Cache Statistics",
			mcp.WithResourceDescription("Entry counts and sizes per cache namespace"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCacheStats(deps),
	)

	return s
}

func mcpGenerateWebsite(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		gen := GenerateRequest{
			TaxCode:      req.GetString("tax_code", ""),
			ColorPalette: req.GetString("color_palette", ""),
			WebsiteStyle: req.GetString("website_style", ""),
			WPURL:        req.GetString("wp_url", ""),
			WPUsername:   req.GetString("wp_username", ""),
			WPPassword:   req.GetString("wp_password", ""),
		}
		if err := gen.validate(); err != nil {
			return mcpError(err.Error()), nil
		}

		sessionID, err := startSession(deps, gen)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start session: %v", err)), nil
		}
		return mcpText(fmt.Sprintf(`{"session_id": %q, "status": "started"}`, sessionID)), nil
	}
}

func mcpGetProgress(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		st, err := deps.Status.Get(sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("loading status failed: %v", err)), nil
		}
		b, err := json.Marshal(st)
		if err != nil {
			return mcpError(fmt.Sprintf("marshaling status failed: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetResult(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		result, err := deps.Store.GetResult(sessionID)
		if err != nil {
			return mcpError(fmt.Sprintf("no result for session %q: %v", sessionID, err)), nil
		}
		return mcpText(result), nil
	}
}

func mcpResourceCacheStats(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Cache.Stats()
		if err != nil {
			return nil, fmt.Errorf("collecting cache stats: %w", err)
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("marshaling cache stats: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// startSession is the shared session bootstrap used by both the HTTP and
// MCP entry points.
func startSession(deps Deps, req GenerateRequest) (string, error) {
	hash, err := hashPassword(req.WPPassword)
	if err != nil {
		return "", err
	}

	sessionID := newSessionID()
	if err := deps.Store.CreateSession(storage.Session{
		SessionID:      sessionID,
		TaxCode:        req.TaxCode,
		ColorPalette:   req.ColorPalette,
		WebsiteStyle:   req.WebsiteStyle,
		WPURL:          trimURL(req.WPURL),
		WPUsername:     req.WPUsername,
		WPPasswordHash: hash,
	}); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	if err := deps.Store.InitProgress(sessionID); err != nil {
		return "", fmt.Errorf("initializing progress: %w", err)
	}

	go deps.Runner.Run(context.Background(), sessionID, req.WPPassword)
	return sessionID, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
