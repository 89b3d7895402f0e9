package mcpserver

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"

	"farmhands/internal/decision"
)

type schemaInfo struct {
	decision.Schema
	Active bool `json:"active"`
}

func (s *Server) registerSchemaTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_schemas",
			mcp.WithDescription("List decision schemas; the active one is flagged"),
		),
		s.handleListSchemas,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_decision",
			mcp.WithDescription("Check a raw model reply (code fences allowed) against a decision schema"),
			mcp.WithString("reply", mcp.Required(), mcp.Description("Raw model reply text")),
			mcp.WithString("schema", mcp.Description("Schema name, defaults to the active schema")),
		),
		s.handleValidateDecision,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"preview_fallback",
			mcp.WithDescription("Show the fallback decision the worker would produce for a position"),
			mcp.WithNumber("ai_x", mcp.Required(), mcp.Description("Agent x position")),
			mcp.WithNumber("ai_y", mcp.Required(), mcp.Description("Agent y position")),
			mcp.WithNumber("map_width", mcp.Description("Map width, default 2000")),
			mcp.WithNumber("map_height", mcp.Description("Map height, default 2000")),
			mcp.WithString("schema", mcp.Description("Schema name, defaults to the active schema")),
		),
		s.handlePreviewFallback,
	)
}

func (s *Server) handleListSchemas(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p := s.profiles.Get()
	byName := map[string]decision.Schema{}
	for _, sch := range decision.Builtins() {
		byName[sch.Name] = sch
	}
	for _, sch := range p.Schemas {
		byName[sch.Name] = sch
	}
	out := make([]schemaInfo, 0, len(byName))
	for name, sch := range byName {
		out = append(out, schemaInfo{Schema: sch, Active: name == p.ActiveSchema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return toolResult(map[string]any{"items": out, "active": p.ActiveSchema}), nil
}

func (s *Server) schemaArg(request mcp.CallToolRequest) (decision.Schema, error) {
	p := s.profiles.Get()
	name := request.GetString("schema", "")
	if name == "" {
		return p.Active(), nil
	}
	return p.Schema(name)
}

func (s *Server) handleValidateDecision(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reply, err := request.RequireString("reply")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	sch, err := s.schemaArg(request)
	if err != nil {
		return mapDomainError(err), nil
	}
	d, err := decision.Validate([]byte(decision.StripFences(reply)), sch)
	if err != nil {
		return mapDomainError(err), nil
	}
	d.Source = decision.SourceModel
	d.Schema = sch.Name
	return toolResult(d), nil
}

func (s *Server) handlePreviewFallback(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := contextArgs(request)
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	if c.MapBounds.Width <= 0 || c.MapBounds.Height <= 0 {
		return toolError("invalid_request", "map dimensions must be positive"), nil
	}
	sch, err := s.schemaArg(request)
	if err != nil {
		return mapDomainError(err), nil
	}
	s.rngMu.Lock()
	d := decision.Synthesize(c, sch, decision.CauseModelError, s.rng)
	s.rngMu.Unlock()
	d.Schema = sch.Name
	return toolResult(d), nil
}
