// Package mcpserver exposes the meetup publisher as MCP (Model Context
// Protocol) tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/meetupwiki/internal/publishing"
	"github.com/starford/meetupwiki/internal/wiki"
)

const templateURI = "meetupwiki://page-template"

// Server wraps the MCP server with publishing tools.
type Server struct {
	mcp *server.MCPServer
	svc *publishing.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *publishing.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"meetupwiki",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("publish_meetup",
		mcp.WithDescription("Read a meetup announcement (HTML mail export) and publish its page "+
			"to the wiki: sync the checkout, render the page, update the history index, commit and push. "+
			"An existing page is never overwritten."),
		mcp.WithString("source_uri", mcp.Required(), mcp.Description("URL or file path of the announcement")),
	), s.publishMeetup)

	s.mcp.AddTool(mcp.NewTool("preview_page",
		mcp.WithDescription("Render the wiki page for an announcement without touching the checkout."),
		mcp.WithString("source_uri", mcp.Required(), mcp.Description("URL or file path of the announcement")),
	), s.previewPage)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent publish runs, newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 50)")),
	), s.listRuns)

	s.mcp.AddResource(
		mcp.NewResource(templateURI, "Page Template",
			mcp.WithResourceDescription("Built-in text/template used for new meetup pages."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTemplateResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) publishMeetup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("source_uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Publish(ctx, uri)
	if err != nil {
		state := wiki.StateInit
		if out != nil && out.Result != nil {
			state = out.Result.State
		}
		return mcp.NewToolResultError(fmt.Sprintf("%v (stopped at %s)", err, state)), nil
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) previewPage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("source_uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_, md, _, err := s.svc.Preview(ctx, uri)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(md)), nil
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.svc.Runs(ctx, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no runs recorded"), nil
	}
	data, _ := json.MarshalIndent(runs, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) readTemplateResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      templateURI,
			MIMEType: "text/markdown",
			Text:     wiki.DefaultTemplate(),
		},
	}, nil
}
