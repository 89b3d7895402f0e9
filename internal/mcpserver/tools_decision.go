package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"farmhands/internal/decision"
	"farmhands/internal/geo"
)

const (
	defaultMapSize = 2000
)

func (s *Server) registerDecisionTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"request_decision",
			mcp.WithDescription("Queue a decision job for an agent; the result is broadcast as ai.decision"),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent id, e.g. Agent_A")),
			mcp.WithNumber("ai_x", mcp.Required(), mcp.Description("Agent x position")),
			mcp.WithNumber("ai_y", mcp.Required(), mcp.Description("Agent y position")),
			mcp.WithNumber("player_x", mcp.Description("Player x position")),
			mcp.WithNumber("player_y", mcp.Description("Player y position")),
			mcp.WithNumber("map_width", mcp.Description("Map width, default 2000")),
			mcp.WithNumber("map_height", mcp.Description("Map height, default 2000")),
			mcp.WithNumber("request_seq", mcp.Description("Sequence number echoed on the delivered event")),
		),
		s.handleRequestDecision,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_job_status",
			mcp.WithDescription("Get a job's state, attempts and return value"),
			mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by request_decision")),
		),
		s.handleGetJobStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"queue_health",
			mcp.WithDescription("Queue backend health and waiting job count"),
		),
		s.handleQueueHealth,
	)
}

func (s *Server) handleRequestDecision(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	c, err := contextArgs(request)
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	handle, err := s.svc.SubmitDecision(ctx, decision.Request{
		AIAgentID:  agentID,
		GameState:  c,
		RequestSeq: int64(request.GetInt("request_seq", 0)),
	})
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(handle), nil
}

func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	st, err := s.svc.JobStatus(ctx, jobID)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(st), nil
}

func (s *Server) handleQueueHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := s.svc.Health(ctx)
	if err != nil {
		return toolError("unhealthy", h.Error), nil
	}
	return toolResult(h), nil
}

// contextArgs reads the positional arguments shared by request_decision and
// preview_fallback.
func contextArgs(request mcp.CallToolRequest) (decision.Context, error) {
	x, err := request.RequireFloat("ai_x")
	if err != nil {
		return decision.Context{}, err
	}
	y, err := request.RequireFloat("ai_y")
	if err != nil {
		return decision.Context{}, err
	}
	return decision.Context{
		AIPosition: geo.Vec{X: x, Y: y},
		PlayerPosition: geo.Vec{
			X: request.GetFloat("player_x", 0),
			Y: request.GetFloat("player_y", 0),
		},
		MapBounds: geo.Bounds{
			Width:  request.GetFloat("map_width", defaultMapSize),
			Height: request.GetFloat("map_height", defaultMapSize),
		},
	}, nil
}
