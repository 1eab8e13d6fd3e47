// Package server exposes the security engine's operations as MCP tools so
// assistant-side callers can screen requests over a stdio transport.
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/canvasguard/canvasguard/internal/audit"
	"github.com/canvasguard/canvasguard/internal/engine"
	"github.com/canvasguard/canvasguard/internal/policy"
)

// Server wraps an engine behind an MCP tool surface.
type Server struct {
	engine *engine.Engine
	logger *logrus.Logger
}

// New creates a Server for the given engine.
func New(eng *engine.Engine, logger *logrus.Logger) *Server {
	return &Server{engine: eng, logger: logger}
}

// ServeStdio runs the MCP server over stdin/stdout until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.buildMCPServer())
}

// buildMCPServer registers every engine operation as a tool.
func (s *Server) buildMCPServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("canvasguard", "CanvasGuard Security Engine")

	srv.AddTool(validateRequestTool(), s.handleValidateRequest)
	srv.AddTool(preventExfiltrationTool(), s.handlePreventExfiltration)
	srv.AddTool(contextualCheckTool(), s.handleContextualCheck)
	srv.AddTool(securityStatusTool(), s.handleSecurityStatus)
	srv.AddTool(reviewQuarantineTool(), s.handleReviewQuarantine)
	srv.AddTool(exportReportTool(), s.handleExportReport)

	s.logger.WithField("tool_count", 6).Debug("MCP server created, tools registered")
	return srv
}

func validateRequestTool() mcp.Tool {
	return mcp.NewTool(
		"validate_request",
		mcp.WithDescription("Validate a canvas request against the security policy: domain allow-list, rate limits, content scanning and header checks. Returns the decision, all violations and an optional sanitised request."),
		mcp.WithString("url", mcp.Description("Request URL, if any")),
		mcp.WithString("data", mcp.Description("Request data payload")),
		mcp.WithString("body", mcp.Description("Request body")),
		mcp.WithObject("headers", mcp.Description("Request headers as a string map")),
		mcp.WithString("source", mcp.Description("Request source: canvas, assistant, network or system")),
		mcp.WithString("user_id", mcp.Description("Identifier of the requesting user")),
		mcp.WithString("trust_level", mcp.Description("Asserted trust tier: low, medium or high")),
		mcp.WithNumber("conversation_length", mcp.Description("Number of turns in the current conversation")),
	)
}

func (s *Server) handleValidateRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	req := policy.CanvasRequest{
		URL:     stringArg(args, "url"),
		Data:    stringArg(args, "data"),
		Body:    stringArg(args, "body"),
		Headers: headersArg(args),
	}
	result := s.engine.ValidateCanvasRequest(req, contextArg(args))
	return resultJSON(result)
}

func preventExfiltrationTool() mcp.Tool {
	return mcp.NewTool(
		"prevent_exfiltration",
		mcp.WithDescription("Screen free-text content for exfiltration intent, malicious code and sensitive data before it crosses the execution boundary. Critical findings block; lesser ones yield sanitised text."),
		mcp.WithString("content", mcp.Description("Content to screen"), mcp.Required()),
		mcp.WithString("source", mcp.Description("Content source: canvas, assistant, network or system")),
		mcp.WithString("user_id", mcp.Description("Identifier of the requesting user")),
	)
}

func (s *Server) handlePreventExfiltration(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	content := stringArg(args, "content")
	if content == "" {
		return nil, fmt.Errorf("content parameter is required")
	}
	check := s.engine.PreventDataExfiltration(content, contextArg(args))
	return resultJSON(check)
}

func contextualCheckTool() mcp.Tool {
	return mcp.NewTool(
		"contextual_check",
		mcp.WithDescription("Score the request context (trust tier, history, complexity) against the active security level's trust threshold."),
		mcp.WithString("url", mcp.Description("Request URL, if any")),
		mcp.WithString("data", mcp.Description("Request data payload")),
		mcp.WithString("source", mcp.Description("Request source: canvas, assistant, network or system")),
		mcp.WithString("user_id", mcp.Description("Identifier of the requesting user")),
		mcp.WithString("trust_level", mcp.Description("Asserted trust tier: low, medium or high")),
		mcp.WithNumber("conversation_length", mcp.Description("Number of turns in the current conversation")),
	)
}

func (s *Server) handleContextualCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	req := policy.CanvasRequest{
		URL:  stringArg(args, "url"),
		Data: stringArg(args, "data"),
	}
	trusted := s.engine.ContextualValidation(req, contextArg(args))
	return resultJSON(map[string]any{"trusted": trusted})
}

func securityStatusTool() mcp.Tool {
	return mcp.NewTool(
		"security_status",
		mcp.WithDescription("Report the engine's current state: enabled flag, security level, recent violation count and derived threat level."),
	)
}

func (s *Server) handleSecurityStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultJSON(s.engine.Status())
}

func reviewQuarantineTool() mcp.Tool {
	return mcp.NewTool(
		"review_quarantine",
		mcp.WithDescription("Approve or reject a quarantined request. Returns false when the id is unknown or already reviewed."),
		mcp.WithString("id", mcp.Description("Quarantine entry id"), mcp.Required()),
		mcp.WithBoolean("approved", mcp.Description("Whether to approve the request")),
	)
}

func (s *Server) handleReviewQuarantine(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	id := stringArg(args, "id")
	if id == "" {
		return nil, fmt.Errorf("id parameter is required")
	}
	ok := s.engine.ReviewQuarantinedRequest(id, boolArg(args, "approved"))
	return resultJSON(map[string]any{"reviewed": ok})
}

func exportReportTool() mcp.Tool {
	return mcp.NewTool(
		"export_report",
		mcp.WithDescription("Export the security report. JSON includes config, violations, audit log and statistics; CSV is the audit log alone."),
		mcp.WithString("format", mcp.Description("Export format: json or csv")),
	)
}

func (s *Server) handleExportReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	format := audit.Format(stringArg(args, "format"))
	if format == "" {
		format = audit.FormatJSON
	}
	report, err := s.engine.ExportReport(format)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(report), nil
}

// arguments extracts the argument map from a tool call.
func arguments(request mcp.CallToolRequest) (map[string]any, error) {
	if request.Params.Arguments == nil {
		return map[string]any{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid arguments type: expected map[string]interface{}, got %T", request.Params.Arguments)
	}
	return args, nil
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func headersArg(args map[string]any) map[string]string {
	raw, ok := args["headers"].(map[string]any)
	if !ok {
		return nil
	}
	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}

// contextArg builds the request context from tool arguments. Unknown
// sources default to assistant, the transport this server fronts.
func contextArg(args map[string]any) policy.RequestContext {
	source := policy.RequestSource(stringArg(args, "source"))
	switch source {
	case policy.SourceCanvas, policy.SourceAssistant, policy.SourceNetwork, policy.SourceSystem:
	default:
		source = policy.SourceAssistant
	}
	return policy.RequestContext{
		Source:             source,
		UserID:             stringArg(args, "user_id"),
		UserTrustLevel:     policy.TrustLevel(stringArg(args, "trust_level")),
		ConversationLength: intArg(args, "conversation_length"),
	}
}

// resultJSON encodes a value as an MCP text result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
