package mcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-pdf-formfill/internal/config"
	"github.com/a3tai/mcp-pdf-formfill/internal/descriptions"
	"github.com/a3tai/mcp-pdf-formfill/internal/lifecycle"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/security"
	"github.com/a3tai/mcp-pdf-formfill/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	lifecycle *lifecycle.Controller
	sessions  *session.Manager
	mcpServer *server.MCPServer
	paths     *security.PathValidator
	log       *zap.Logger

	// stdio transport streams
	in  io.Reader
	out io.Writer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, ctrl *lifecycle.Controller, sessions *session.Manager) (*Server, error) {
	if ctrl == nil {
		return nil, eris.New("mcp: lifecycle controller cannot be nil")
	}
	if sessions == nil {
		return nil, eris.New("mcp: session manager cannot be nil")
	}
	paths, err := security.NewPathValidator(cfg.PDFDirectory)
	if err != nil {
		return nil, eris.Wrap(err, "mcp: upload directory")
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // the tool set is fixed at startup
		server.WithRecovery(),
	)

	s := &Server{
		config:    cfg,
		lifecycle: ctrl,
		sessions:  sessions,
		mcpServer: mcpServer,
		paths:     paths,
		log:       zap.L().Named("mcp"),
		in:        os.Stdin,
		out:       os.Stdout,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	documentID := mcp.WithString("document_id",
		mcp.Required(),
		mcp.Description("Document id returned by formfill_upload"),
	)
	sessionID := mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session id returned by formfill_session_connect"),
	)
	party := mcp.WithString("party",
		mcp.Required(),
		mcp.Description("Acting party"),
		mcp.Enum("partyA", "partyB"),
	)
	outputPath := mcp.WithString("output_path",
		mcp.Description("Optional path, relative to the upload directory, to write the filled PDF to"),
	)

	s.addTool("formfill_upload", s.handleUpload,
		mcp.WithString("path",
			mcp.Description("PDF path; relative paths are resolved against the upload directory"),
		),
		mcp.WithString("content_base64",
			mcp.Description("PDF bytes, base64 encoded, instead of a path"),
		),
		mcp.WithString("name",
			mcp.Description("Display name (defaults to the file name)"),
		),
	)
	s.addTool("formfill_list_documents", s.handleListDocuments)
	s.addTool("formfill_get_document", s.handleGetDocument, documentID)
	s.addTool("formfill_assign_owners", s.handleAssignOwners, documentID,
		mcp.WithObject("owners",
			mcp.Required(),
			mcp.Description("Map of field id or annotation name to partyA/partyB"),
		),
	)
	s.addTool("formfill_submit", s.handleSubmit, documentID, party,
		mcp.WithObject("values",
			mcp.Required(),
			mcp.Description("Map of logical name to value; lists are joined with commas"),
		),
	)
	s.addTool("formfill_set_field", s.handleSetField, documentID, party,
		mcp.WithString("field_id",
			mcp.Required(),
			mcp.Description("Field id or positioned annotation name"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("New value; checkboxes and radios take true/false"),
		),
	)
	s.addTool("formfill_handoff", s.handleHandoff, documentID)
	s.addTool("formfill_finalize", s.handleFinalize, documentID, outputPath)
	s.addTool("formfill_render", s.handleRender, documentID, outputPath)
	s.addTool("formfill_page_text", s.handlePageText, documentID,
		mcp.WithNumber("page",
			mcp.Required(),
			mcp.Description("1-based page number"),
			mcp.Min(1),
		),
	)
	s.addTool("formfill_archive", s.handleArchive, documentID)
	s.addTool("formfill_audit", s.handleAudit, documentID)
	s.addTool("formfill_validate_mapping", s.handleValidateMapping,
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("PDF to check the mapping table against"),
		),
	)

	s.addTool("formfill_session_connect", s.handleSessionConnect, documentID, party,
		mcp.WithString("participant",
			mcp.Required(),
			mcp.Description("Name of the person or agent connecting"),
		),
	)
	s.addTool("formfill_session_update", s.handleSessionUpdate, sessionID,
		mcp.WithString("field_id",
			mcp.Required(),
			mcp.Description("Field id or positioned annotation name"),
		),
		mcp.WithString("property",
			mcp.Description("Property to change"),
			mcp.Enum(session.PropertyValue, session.PropertyRequired),
			mcp.DefaultString(session.PropertyValue),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("New value"),
		),
	)
	s.addTool("formfill_session_focus", s.handleSessionFocus, sessionID,
		mcp.WithString("field_id",
			mcp.Required(),
			mcp.Description("Field being edited"),
		),
		mcp.WithBoolean("focused",
			mcp.Description("false when leaving the field"),
			mcp.DefaultBool(true),
		),
	)
	s.addTool("formfill_session_state", s.handleSessionState, sessionID)
	s.addTool("formfill_session_events", s.handleSessionEvents, sessionID)
	s.addTool("formfill_session_disconnect", s.handleSessionDisconnect, sessionID)

	s.addTool("formfill_server_info", s.handleServerInfo)
}

func (s *Server) addTool(name string, handler server.ToolHandlerFunc, opts ...mcp.ToolOption) {
	opts = append([]mcp.ToolOption{mcp.WithDescription(descriptions.GetToolDescription(name))}, opts...)
	s.mcpServer.AddTool(mcp.NewTool(name, opts...), handler)
}

// Run starts the MCP server in the configured mode and blocks until ctx is
// done or the transport fails.
func (s *Server) Run(ctx context.Context) error {
	switch {
	case s.config.IsServerMode():
		return s.runServerMode(ctx)
	case s.config.IsStdioMode():
		return s.runStdioMode(ctx)
	default:
		return eris.Errorf("mcp: unsupported mode %q", s.config.Mode)
	}
}

// runStdioMode serves MCP over stdin/stdout. Logs must stay on stderr.
func (s *Server) runStdioMode(ctx context.Context) error {
	s.log.Debug("starting MCP server in stdio mode", zap.String("dir", s.config.PDFDirectory))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(zap.NewStdLog(s.log))
	err := stdio.Listen(ctx, s.in, s.out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return eris.Wrap(err, "mcp: serve stdio")
}

// runServerMode serves MCP over SSE on the configured address.
func (s *Server) runServerMode(ctx context.Context) error {
	addr := s.config.Address()
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))
	s.log.Info("starting MCP server in SSE mode", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() { errCh <- sse.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrapf(err, "mcp: serve sse on %s", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "mcp: shutdown sse")
		}
		return nil
	}
}
