// Package mcpserver exposes the decision pipeline as MCP tools so agent
// tooling can queue decisions, inspect jobs and check model replies.
package mcpserver

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"farmhands/internal/app/requester"
	"farmhands/internal/profile"
)

// Profiles supplies the profile the schema tools read.
type Profiles interface {
	Get() *profile.Profile
}

type Server struct {
	svc      *requester.Service
	profiles Profiles

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(svc *requester.Service, profiles Profiles) *Server {
	mcpSrv := server.NewMCPServer(
		"farmhands",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithResourceRecovery(),
	)
	s := &Server{
		svc:        svc,
		profiles:   profiles,
		mcpServer:  mcpSrv,
		httpServer: server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.registerDecisionTools()
	s.registerSchemaTools()
	s.registerResources()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"schema://{name}",
			"decision_schema",
			mcp.WithTemplateDescription("Constraints of a decision schema by name"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			raw := request.Params.URI
			name := strings.TrimPrefix(raw, "schema://")
			if name == raw || name == "" {
				return nil, nil
			}
			sch, err := s.profiles.Get().Schema(name)
			if err != nil {
				return nil, err
			}
			payload, err := json.Marshal(sch)
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      raw,
					MIMEType: "application/json",
					Text:     string(payload),
				},
			}, nil
		},
	)
}
