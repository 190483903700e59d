package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/template"
)

const elementTypesURI = "certificate://element-types"

// Server represents the MCP server
type Server struct {
	logger  *zap.Logger
	handler *ToolHandler

	reader io.Reader
	writer io.Writer

	initialized bool
	mu          sync.RWMutex
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Logger       *zap.Logger
	JWTManager   *auth.JWTManager
	Tenants      auth.TenantResolver
	Templates    *template.Manager
	Certificates *certificate.Service
}

// NewServer creates a new MCP server reading stdin and writing stdout
func NewServer(config *ServerConfig) *Server {
	return &Server{
		logger:  config.Logger,
		handler: NewToolHandler(config),
		reader:  os.Stdin,
		writer:  os.Stdout,
	}
}

// SetIO sets custom input/output streams
func (s *Server) SetIO(reader io.Reader, writer io.Writer) {
	s.reader = reader
	s.writer = writer
}

// Run serves requests line by line until the input ends or ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server")

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		response := s.handleMessage(ctx, line)
		if response != nil {
			if err := s.writeResponse(response); err != nil {
				s.logger.Error("failed to write response", zap.Error(err))
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

func (s *Server) handleMessage(ctx context.Context, data []byte) *JSONRPCResponse {
	var request JSONRPCRequest
	if err := json.Unmarshal(data, &request); err != nil {
		s.logger.Error("failed to parse request", zap.Error(err))
		return NewErrorResponse(nil, ErrorCodeParseError, "Parse error", err.Error())
	}

	if request.JSONRPC != "2.0" {
		return NewErrorResponse(request.ID, ErrorCodeInvalidRequest, "Invalid request", "Invalid JSON-RPC version")
	}

	s.logger.Debug("received request", zap.String("method", request.Method))

	switch request.Method {
	case "initialize":
		return s.handleInitialize(&request)
	case "initialized", "notifications/initialized":
		return nil
	case "tools/list":
		return NewSuccessResponse(request.ID, &ToolsListResult{Tools: GetToolDefinitions()})
	case "tools/call":
		return s.handleToolsCall(ctx, &request)
	case "resources/list":
		return s.handleResourcesList(&request)
	case "resources/read":
		return s.handleResourcesRead(&request)
	case "ping":
		return NewSuccessResponse(request.ID, map[string]interface{}{})
	default:
		return NewErrorResponse(request.ID, ErrorCodeMethodNotFound, "Method not found", request.Method)
	}
}

func (s *Server) handleInitialize(request *JSONRPCRequest) *JSONRPCResponse {
	var params InitializeRequest
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return NewErrorResponse(request.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	s.logger.Info("client initialized",
		zap.String("client_name", params.ClientInfo.Name),
		zap.String("client_version", params.ClientInfo.Version),
		zap.String("protocol_version", params.ProtocolVersion))

	return NewSuccessResponse(request.ID, &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &ListChangedCapability{},
			Resources: &ListChangedCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
		Instructions: `Certificate service tools. Every tool takes a "token" argument
holding a bearer token issued for the acting user.
- verify_certificate and list_issues read issued certificates
- delete_issue revokes one issued certificate
- save_element and get_element_html edit template elements`,
	})
}

func (s *Server) handleToolsCall(ctx context.Context, request *JSONRPCRequest) *JSONRPCResponse {
	s.mu.RLock()
	initialized := s.initialized
	s.mu.RUnlock()

	if !initialized {
		return NewErrorResponse(request.ID, ErrorCodeInvalidRequest, "Server not initialized", nil)
	}

	var params CallToolRequest
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return NewErrorResponse(request.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
	}

	result, err := s.handler.HandleTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return NewSuccessResponse(request.ID, &CallToolResult{
			Content: []Content{TextContent(fmt.Sprintf("Error: %s", err.Error()))},
			IsError: true,
		})
	}

	return NewSuccessResponse(request.ID, result)
}

func (s *Server) handleResourcesList(request *JSONRPCRequest) *JSONRPCResponse {
	return NewSuccessResponse(request.ID, &ResourcesListResult{Resources: []Resource{
		{
			URI:         elementTypesURI,
			Name:        "Element Types",
			Description: "Enabled element types with their form fields",
			MimeType:    "application/json",
		},
	}})
}

func (s *Server) handleResourcesRead(request *JSONRPCRequest) *JSONRPCResponse {
	var params ReadResourceRequest
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return NewErrorResponse(request.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
	}
	if params.URI != elementTypesURI {
		return NewErrorResponse(request.ID, ErrorCodeInvalidParams, "Unknown resource", params.URI)
	}

	data, err := json.Marshal(s.handler.templates.Registry().Describe())
	if err != nil {
		return NewErrorResponse(request.ID, ErrorCodeInternalError, "Internal error", err.Error())
	}

	return NewSuccessResponse(request.ID, &ReadResourceResult{
		Contents: []ResourceContent{{
			URI:      params.URI,
			MimeType: "application/json",
			Text:     string(data),
		}},
	})
}

func (s *Server) writeResponse(response *JSONRPCResponse) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	data = append(data, '\n')
	_, err = s.writer.Write(data)
	return err
}
