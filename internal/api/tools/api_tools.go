package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"llmn/internal/cli"
	"llmn/internal/orchestrator"
	"llmn/internal/registry"
	"llmn/internal/services"
	"llmn/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is the MCP implementation name announced to clients.
const ServerName = "llmn"

// APITools provides MCP tools backed by the orchestrator.
type APITools struct {
	orch *orchestrator.Orchestrator
	reg  *registry.Registry
}

// NewAPITools creates the tool set.
func NewAPITools(orch *orchestrator.Orchestrator) *APITools {
	return &APITools{orch: orch, reg: orch.Registry()}
}

func serviceArg(action string) mcp.ToolOption {
	return mcp.WithString("service",
		mcp.Required(),
		mcp.Description(fmt.Sprintf("Service id or name to %s", action)),
	)
}

// GetAPITools returns the tool definitions.
func (at *APITools) GetAPITools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool("service_list",
			mcp.WithDescription("List all services with their mode and status"),
		),
		mcp.NewTool("service_status",
			mcp.WithDescription("Refresh and return the container state of a service"),
			serviceArg("inspect"),
		),
		mcp.NewTool("service_start",
			mcp.WithDescription("Start a service"),
			serviceArg("start"),
			mcp.WithBoolean("build",
				mcp.Description("Build images before starting"),
			),
		),
		mcp.NewTool("service_stop",
			mcp.WithDescription("Stop a service"),
			serviceArg("stop"),
		),
		mcp.NewTool("service_restart",
			mcp.WithDescription("Stop the stack and start a service again"),
			serviceArg("restart"),
		),
		mcp.NewTool("service_dependents",
			mcp.WithDescription("List the services that depend on a service, directly or transitively, and its direct dependencies"),
			serviceArg("inspect"),
		),
		mcp.NewTool("service_endpoints",
			mcp.WithDescription("List the host endpoints of a service"),
			serviceArg("inspect"),
		),
	}
}

// ServerTools pairs every tool with its handler.
func (at *APITools) ServerTools() []server.ServerTool {
	handlers := map[string]server.ToolHandlerFunc{
		"service_list":       at.HandleServiceList,
		"service_status":     at.HandleServiceStatus,
		"service_start":      at.HandleServiceStart,
		"service_stop":       at.HandleServiceStop,
		"service_restart":    at.HandleServiceRestart,
		"service_dependents": at.HandleServiceDependents,
		"service_endpoints":  at.HandleServiceEndpoints,
	}
	var out []server.ServerTool
	for _, tool := range at.GetAPITools() {
		out = append(out, server.ServerTool{Tool: tool, Handler: handlers[tool.Name]})
	}
	return out
}

// NewServer creates an MCP server offering the tools.
func NewServer(version string, at *APITools) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
	)
	s.AddTools(at.ServerTools()...)
	return s
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects.
func ServeStdio(version string, at *APITools) error {
	logging.Info("MCP", "Serving %d tools over stdio", len(at.GetAPITools()))
	return server.ServeStdio(NewServer(version, at))
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (at *APITools) lookup(req mcp.CallToolRequest) (*services.Service, *mcp.CallToolResult) {
	ref, err := req.RequireString("service")
	if err != nil {
		return nil, mcp.NewToolResultError("service is required")
	}
	s := at.reg.Lookup(ref)
	if s == nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("Service not found: %s", ref))
	}
	return s, nil
}

// outcome turns an operation result into tool output. Debug messages are
// dropped.
func outcome(res services.Result[bool], done string) *mcp.CallToolResult {
	var lines []string
	for _, m := range res.Messages {
		if m.Level == services.LevelDebug {
			continue
		}
		lines = append(lines, m.Text)
	}
	if !res.Success {
		if res.Err != nil {
			lines = append(lines, res.Err.Error())
		}
		return mcp.NewToolResultError(strings.Join(lines, "\n"))
	}
	if res.Data {
		lines = append(lines, done)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n"))
}

func (at *APITools) HandleServiceList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rows := cli.RowsFor(at.reg.Services())
	return jsonResult(map[string]interface{}{
		"services": rows,
		"total":    len(rows),
	})
}

func (at *APITools) HandleServiceStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errResult := at.lookup(req)
	if errResult != nil {
		return errResult, nil
	}
	if s.IsEnabled() {
		if res := s.CheckState(ctx); !res.Success {
			logging.Warn("MCP", "State check of %s failed: %v", s.ID(), res.Err)
		}
	}
	return jsonResult(cli.RowFor(s))
}

func (at *APITools) HandleServiceStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errResult := at.lookup(req)
	if errResult != nil {
		return errResult, nil
	}
	opts := services.StartOptions{Build: req.GetBool("build", false), Silent: true}
	res := at.orch.StartService(ctx, s.ID(), opts)
	return outcome(res, fmt.Sprintf("Successfully started service '%s'", s.ID())), nil
}

func (at *APITools) HandleServiceStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errResult := at.lookup(req)
	if errResult != nil {
		return errResult, nil
	}
	res := at.orch.StopService(ctx, s.ID(), services.StopOptions{Silent: true})
	return outcome(res, fmt.Sprintf("Successfully stopped service '%s'", s.ID())), nil
}

func (at *APITools) HandleServiceRestart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errResult := at.lookup(req)
	if errResult != nil {
		return errResult, nil
	}
	res := at.orch.Restart(ctx, s.ID(), services.StartOptions{Silent: true})
	return outcome(res, fmt.Sprintf("Successfully restarted service '%s'", s.ID())), nil
}

func (at *APITools) HandleServiceDependents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errResult := at.lookup(req)
	if errResult != nil {
		return errResult, nil
	}
	ids := serviceIDs(at.reg.Dependents(s.ID()))
	return jsonResult(map[string]interface{}{
		"service":      s.ID(),
		"dependents":   ids,
		"dependencies": serviceIDs(at.reg.Dependencies(s.ID())),
		"total":        len(ids),
	})
}

func (at *APITools) HandleServiceEndpoints(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, errResult := at.lookup(req)
	if errResult != nil {
		return errResult, nil
	}
	eps, err := s.Endpoints(services.ScopeHost)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read endpoints: %v", err)), nil
	}
	for i := range eps {
		eps[i].Credentials = nil
	}
	return jsonResult(eps)
}

func serviceIDs(list []*services.Service) []string {
	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID())
	}
	return ids
}
