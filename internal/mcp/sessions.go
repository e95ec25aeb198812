package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/a3tai/mcp-pdf-formfill/internal/session"
)

// maxDrain bounds how many events one formfill_session_events call returns.
const maxDrain = 256

func (s *Server) handleSessionConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	party, err := requireParty(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	participant, err := request.RequireString("participant")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sess, err := s.sessions.Connect(ctx, docID, participant, party)
	if err != nil {
		return toolError(err), nil
	}
	text := fmt.Sprintf("Connected %s (%s) to %s\n", participant, party, docID)
	text += fmt.Sprintf("Session: %s\n", sess.ID())
	if others := len(s.sessions.Sessions(docID)) - 1; others > 0 {
		text += fmt.Sprintf("%d other participant(s) connected\n", others)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSessionUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fieldID, err := request.RequireString("field_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := request.GetArguments()
	property, _ := args["property"].(string)
	if property == "" {
		property = session.PropertyValue
	}
	update := session.FieldUpdate{FieldID: fieldID, Property: property, Value: stringValue(args["value"])}

	if err := s.sessions.UpdateField(ctx, sessionID, update); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Updated %s.%s = %q", fieldID, property, update.Value)), nil
}

func (s *Server) handleSessionFocus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fieldID, err := request.RequireString("field_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	focused := true
	if v, ok := request.GetArguments()["focused"].(bool); ok {
		focused = v
	}

	if err := s.sessions.Focus(ctx, sessionID, fieldID, focused); err != nil {
		return toolError(err), nil
	}
	verb := "Focused"
	if !focused {
		verb = "Left"
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s %s", verb, fieldID)), nil
}

func (s *Server) handleSessionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.sessions.RequestState(ctx, sessionID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(snap)
}

func (s *Server) handleSessionEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	events, err := s.sessions.Poll(ctx, sessionID, maxDrain)
	if err != nil {
		return toolError(err), nil
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No new events"), nil
	}
	return jsonResult(events)
}

func (s *Server) handleSessionDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.sessions.Disconnect(ctx, sessionID); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %s disconnected", sessionID)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
