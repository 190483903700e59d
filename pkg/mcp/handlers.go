package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/template"
)

// ErrUnauthenticated is returned when a tool call carries no usable token
var ErrUnauthenticated = errors.New("authentication required")

// ToolHandler handles tool invocations
type ToolHandler struct {
	logger       *zap.Logger
	jwtManager   *auth.JWTManager
	tenants      auth.TenantResolver
	templates    *template.Manager
	certificates *certificate.Service
}

// NewToolHandler creates a new tool handler
func NewToolHandler(config *ServerConfig) *ToolHandler {
	return &ToolHandler{
		logger:       config.Logger,
		jwtManager:   config.JWTManager,
		tenants:      config.Tenants,
		templates:    config.Templates,
		certificates: config.Certificates,
	}
}

// HandleTool authenticates the call and dispatches it
func (h *ToolHandler) HandleTool(ctx context.Context, name string, args map[string]interface{}) (*CallToolResult, error) {
	h.logger.Debug("handling tool", zap.String("name", name))

	var fn func(context.Context, *auth.Principal, map[string]interface{}) (*CallToolResult, error)
	switch name {
	case "delete_issue":
		fn = h.deleteIssue
	case "save_element":
		fn = h.saveElement
	case "get_element_html":
		fn = h.getElementHTML
	case "verify_certificate":
		fn = h.verifyCertificate
	case "list_issues":
		fn = h.listIssues
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	p, err := h.authenticate(ctx, args)
	if err != nil {
		return nil, err
	}
	return fn(auth.WithPrincipal(ctx, p), p, args)
}

func (h *ToolHandler) authenticate(ctx context.Context, args map[string]interface{}) (*auth.Principal, error) {
	token := getStringArg(args, "token", "")
	if token == "" {
		return nil, ErrUnauthenticated
	}
	p, err := h.jwtManager.Authenticate(token)
	if err != nil {
		h.logger.Debug("tool authentication failed", zap.Error(err))
		return nil, ErrUnauthenticated
	}
	if h.tenants != nil {
		tenantID, err := h.tenants.CurrentTenant(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("tenant not found or suspended: %w", err)
		}
		p.TenantID = tenantID
	}
	return p, nil
}

func (h *ToolHandler) deleteIssue(ctx context.Context, p *auth.Principal, args map[string]interface{}) (*CallToolResult, error) {
	issueID := getIDArg(args, "issue_id")
	if issueID == 0 {
		return nil, fmt.Errorf("issue_id is required")
	}

	if err := h.certificates.RevokeIssue(ctx, p, issueID); err != nil {
		return nil, err
	}
	return h.jsonResult(map[string]interface{}{"deleted": true})
}

func (h *ToolHandler) saveElement(ctx context.Context, p *auth.Principal, args map[string]interface{}) (*CallToolResult, error) {
	elementID := getIDArg(args, "element_id")
	if elementID == 0 {
		return nil, fmt.Errorf("element_id is required")
	}
	form, ok := args["form"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("form is required")
	}

	el, err := h.templates.SaveElementForm(ctx, p, elementID, element.FormData(form))
	if err != nil {
		return nil, err
	}
	return h.jsonResult(element.Redact(*el))
}

func (h *ToolHandler) getElementHTML(ctx context.Context, p *auth.Principal, args map[string]interface{}) (*CallToolResult, error) {
	elementID := getIDArg(args, "element_id")
	if elementID == 0 {
		return nil, fmt.Errorf("element_id is required")
	}

	html, err := h.templates.ElementHTML(ctx, p, elementID)
	if err != nil {
		return nil, err
	}
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: html, MimeType: "text/html"}},
	}, nil
}

func (h *ToolHandler) verifyCertificate(ctx context.Context, p *auth.Principal, args map[string]interface{}) (*CallToolResult, error) {
	code := getStringArg(args, "code", "")
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	result, err := h.certificates.Verify(ctx, p, code)
	if err != nil {
		return nil, err
	}
	return h.jsonResult(result)
}

func (h *ToolHandler) listIssues(ctx context.Context, p *auth.Principal, args map[string]interface{}) (*CallToolResult, error) {
	templateID := getIDArg(args, "template_id")
	userID := getIDArg(args, "user_id")
	if (templateID == 0) == (userID == 0) {
		return nil, fmt.Errorf("exactly one of template_id and user_id is required")
	}

	opts := certificate.ListOptions{
		Offset: getIntArg(args, "offset", 0),
		Limit:  getIntArg(args, "limit", 50),
		Sort:   getStringArg(args, "sort", ""),
	}

	var (
		total int64
		err   error
	)
	result := map[string]interface{}{
		"limit":  opts.Limit,
		"offset": opts.Offset,
	}
	if templateID != 0 {
		total, err = h.certificates.CountIssuesForTemplate(ctx, p, templateID)
		if err != nil {
			return nil, err
		}
		result["issues"], err = h.certificates.GetIssuesForTemplate(ctx, p, templateID, opts)
	} else {
		total, err = h.certificates.CountIssuesForUser(ctx, p, userID)
		if err != nil {
			return nil, err
		}
		result["issues"], err = h.certificates.GetIssuesForUser(ctx, p, userID, opts)
	}
	if err != nil {
		return nil, err
	}
	result["total"] = total

	return h.jsonResult(result)
}

func (h *ToolHandler) jsonResult(data interface{}) (*CallToolResult, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &CallToolResult{
		Content: []Content{TextContent(string(jsonData))},
	}, nil
}

func getStringArg(args map[string]interface{}, key, defaultValue string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return defaultValue
}

func getIntArg(args map[string]interface{}, key string, defaultValue int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	return defaultValue
}

// getIDArg returns 0 for missing, fractional or negative ids
func getIDArg(args map[string]interface{}, key string) uint64 {
	switch v := args[key].(type) {
	case float64:
		if v >= 1 && v == float64(uint64(v)) {
			return uint64(v)
		}
	case int:
		if v > 0 {
			return uint64(v)
		}
	}
	return 0
}
