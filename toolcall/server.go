package toolcall

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"nudge-core/domain"
)

// Server exposes the task collection to conversational assistants over MCP.
// The surface is deliberately small: four tools, read mostly, no drop. It
// serializes repository access with its own lock, so it can share a
// repository with the HTTP surface only when both share the same lock; run
// it standalone otherwise.
type Server struct {
	mu   sync.Mutex
	repo *domain.Repository
}

// NewServer wraps the repository for tool-call access.
func NewServer(repo *domain.Repository) *Server {
	if repo == nil {
		panic("toolcall.NewServer: repository is nil")
	}
	return &Server{repo: repo}
}

// MCPServer builds the MCP server with the tool set registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("Nudge", "0.1.0")

	srv.AddTool(mcp.NewTool("lookup_tasks",
		mcp.WithDescription("Look up tasks. Scope 'active' returns the ordered queue, 'next' the single head item, 'all' the full board grouped by status."),
		mcp.WithString("scope", mcp.Description("One of: active, next, all (defaults to 'active')")),
	), s.handleLookup)

	srv.AddTool(mcp.NewTool("mark_done",
		mcp.WithDescription("Mark a task as completed."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
	), s.handleMarkDone)

	srv.AddTool(mcp.NewTool("snooze",
		mcp.WithDescription("Park a task until a wake-up time."),
		mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("until", mcp.Description("Wake-up time, RFC 3339"), mcp.Required()),
	), s.handleSnooze)

	srv.AddTool(mcp.NewTool("create_task",
		mcp.WithDescription("Create a new task from plain text."),
		mcp.WithString("content", mcp.Description("What the task says"), mcp.Required()),
	), s.handleCreate)

	return srv
}

func (s *Server) handleLookup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope := mcp.ParseString(request, "scope", "active")

	s.mu.Lock()
	defer s.mu.Unlock()
	switch scope {
	case "active":
		return jsonResult(map[string]any{"tasks": s.repo.FetchActiveQueue()})
	case "next":
		task, ok := s.repo.FetchNextItem()
		if !ok {
			return mcp.NewToolResultText(`{"task":null}`), nil
		}
		return jsonResult(map[string]any{"task": task})
	case "all":
		return jsonResult(s.repo.FetchAllGrouped())
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown scope '%s'", scope)), nil
	}
}

func (s *Server) handleMarkDone(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}

	s.mu.Lock()
	task, err := s.repo.MarkDone(ctx, id)
	s.mu.Unlock()
	if err != nil && !isPersistError(err) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"task": task})
}

func (s *Server) handleSnooze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	rawUntil := mcp.ParseString(request, "until", "")
	until, err := time.Parse(time.RFC3339, rawUntil)
	if err != nil {
		return mcp.NewToolResultError("until must be RFC 3339"), nil
	}

	s.mu.Lock()
	task, err := s.repo.Snooze(ctx, id, until)
	s.mu.Unlock()
	if err != nil && !isPersistError(err) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"task": task})
}

func (s *Server) handleCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := mcp.ParseString(request, "content", "")

	s.mu.Lock()
	task, err := s.repo.CreateManual(ctx, content)
	s.mu.Unlock()
	if err != nil && !isPersistError(err) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"task": task})
}

func isPersistError(err error) bool {
	var pe *domain.PersistError
	return errors.As(err, &pe)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
