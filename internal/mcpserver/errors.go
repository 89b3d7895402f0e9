package mcpserver

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"farmhands/internal/app/requester"
	"farmhands/internal/decision"
	"farmhands/internal/profile"
)

func toolResult(data any) *mcp.CallToolResult {
	return mcp.NewToolResultStructuredOnly(data)
}

func toolError(code, message string) *mcp.CallToolResult {
	result := mcp.NewToolResultStructured(
		map[string]any{
			"error": map[string]any{
				"code":    code,
				"message": message,
			},
		},
		fmt.Sprintf("%s: %s", code, message),
	)
	result.IsError = true
	return result
}

func mapDomainError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return toolError("internal_error", "unknown error")
	case errors.Is(err, requester.ErrInvalidRequest):
		return toolError("invalid_request", err.Error())
	case errors.Is(err, requester.ErrJobNotFound):
		return toolError("job_not_found", err.Error())
	case errors.Is(err, requester.ErrEnqueueFailed):
		return toolError("enqueue_failed", err.Error())
	case errors.Is(err, profile.ErrUnknownSchema):
		return toolError("unknown_schema", err.Error())
	case errors.Is(err, decision.ErrMalformed), errors.Is(err, decision.ErrConstraint):
		return toolError("invalid_decision", err.Error())
	default:
		return toolError("internal_error", err.Error())
	}
}
