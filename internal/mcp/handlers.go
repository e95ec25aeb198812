package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-pdf-formfill/internal/mapping"
	"github.com/a3tai/mcp-pdf-formfill/internal/model"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/security"
)

const outputFilePerm = 0o600

func (s *Server) handleUpload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	path, _ := args["path"].(string)
	encoded, _ := args["content_base64"].(string)
	name, _ := args["name"].(string)

	var data []byte
	switch {
	case encoded != "":
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("content_base64 is not valid base64: %v", err)), nil
		}
		data = decoded
		if name == "" {
			name = "upload.pdf"
		}
	case path != "":
		resolved, err := s.paths.Resolve(path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if _, err := security.ValidateFile(resolved, s.config.MaxFileSize); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if data, err = os.ReadFile(resolved); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", resolved, err)), nil
		}
		if name == "" {
			name = filepath.Base(resolved)
		}
	default:
		return mcp.NewToolResultError("either path or content_base64 is required"), nil
	}

	doc, err := s.lifecycle.Upload(ctx, name, data)
	if err != nil {
		return toolError(err), nil
	}

	text := fmt.Sprintf("Uploaded %s as document %s\n", doc.Name, doc.ID)
	text += fmt.Sprintf("Detected %d field(s) and %d positioned annotation(s)\n\n", len(doc.Fields), len(doc.Annotations))
	text += formatDocument(doc)
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleListDocuments(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.lifecycle.Documents(ctx)
	if err != nil {
		return toolError(err), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("No documents uploaded yet"), nil
	}

	text := fmt.Sprintf("%d document(s):\n", len(docs))
	for i, doc := range docs {
		text += fmt.Sprintf("%d. %s  %s  [%s]  %d/%d field(s) filled, %d required missing\n",
			i+1, doc.ID, doc.Name, doc.Status, filledCount(doc), len(doc.Fields)+len(doc.Annotations),
			len(doc.MissingRequired()))
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.lifecycle.Document(ctx, docID)
	if err != nil {
		return toolError(err), nil
	}
	text := formatDocument(doc)
	if live := s.sessions.Sessions(docID); len(live) > 0 {
		text += fmt.Sprintf("\nLive sessions (%d):\n", len(live))
		for _, info := range live {
			text += fmt.Sprintf("  • %s %s (%s), last active %s\n",
				info.ID, info.Participant, info.Party, info.LastActivity.Format(timeFormat))
		}
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleAssignOwners(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, ok := request.GetArguments()["owners"].(map[string]any)
	if !ok || len(raw) == 0 {
		return mcp.NewToolResultError("owners must be a non-empty object"), nil
	}
	owners := make(map[string]forms.Owner, len(raw))
	for key, v := range raw {
		owner := forms.Owner(stringValue(v))
		if !owner.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("owner for %s must be partyA or partyB, got %q", key, stringValue(v))), nil
		}
		owners[key] = owner
	}

	doc, err := s.lifecycle.AssignOwners(ctx, docID, owners)
	if err != nil {
		return toolError(err), nil
	}
	text := fmt.Sprintf("Assigned %d owner(s); document is %s\n", len(owners), doc.Status)
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	party, err := requireParty(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, ok := request.GetArguments()["values"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("values must be an object"), nil
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = stringValue(v)
	}

	res, err := s.lifecycle.Submit(ctx, docID, party, values)
	if err != nil {
		return toolError(err), nil
	}

	text := fmt.Sprintf("Wrote %d field(s) for %s\n", len(res.Written), party)
	for _, w := range res.Written {
		text += fmt.Sprintf("  ✓ %s\n", w)
	}
	text += formatSkipped(res.Skipped)
	if missing := res.Document.MissingRequiredFor(party); len(missing) > 0 {
		text += fmt.Sprintf("\nRequired for %s and still empty: %s\n", party, strings.Join(missing, ", "))
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSetField(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	party, err := requireParty(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fieldID, err := request.RequireString("field_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value := stringValue(request.GetArguments()["value"])

	doc, err := s.lifecycle.SetField(ctx, docID, party, fieldID, value)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Set %s to %q; document is %s", fieldID, value, doc.Status)), nil
}

func (s *Server) handleHandoff(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.lifecycle.Handoff(ctx, docID)
	if err != nil {
		return toolError(err), nil
	}
	text := fmt.Sprintf("Document %s handed off to %s\n", doc.ID, forms.PartyB)
	if missing := doc.MissingRequiredFor(forms.PartyB); len(missing) > 0 {
		text += fmt.Sprintf("%s still has to fill: %s\n", forms.PartyB, strings.Join(missing, ", "))
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleFinalize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.lifecycle.Finalize(ctx, docID)
	if err != nil {
		return toolError(err), nil
	}

	text := fmt.Sprintf("Document %s completed: %d field(s) filled\n", res.Document.ID, res.FilledCount)
	text += fmt.Sprintf("Stored output: %s\n", res.OutputKey)
	text += formatSkipped(res.Skipped)

	if out, _ := request.GetArguments()["output_path"].(string); out != "" {
		data, err := s.lifecycle.Output(ctx, docID)
		if err != nil {
			return toolError(err), nil
		}
		written, err := s.writeOutput(out, data)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text += fmt.Sprintf("Wrote filled PDF to %s (%d bytes)\n", written, len(data))
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleRender(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.lifecycle.Render(ctx, docID)
	if err != nil {
		return toolError(err), nil
	}

	text := fmt.Sprintf("Preview: %d field(s) would be filled (%d bytes)\n", res.FilledCount, len(res.Output))
	for _, o := range res.Outcomes {
		if o.Filled && o.Font != "" {
			text += fmt.Sprintf("  %s drawn in %s\n", displayName(o.LogicalName, o.Identifier), o.Font)
		}
	}
	text += formatSkipped(res.Skipped)

	if out, _ := request.GetArguments()["output_path"].(string); out != "" {
		written, err := s.writeOutput(out, res.Output)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text += fmt.Sprintf("Wrote preview to %s\n", written)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handlePageText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	page, ok := intValue(request.GetArguments()["page"])
	if !ok {
		return mcp.NewToolResultError("page must be a number"), nil
	}
	text, err := s.lifecycle.PageText(ctx, docID, page)
	if err != nil {
		return toolError(err), nil
	}
	if strings.TrimSpace(text) == "" {
		return mcp.NewToolResultText(fmt.Sprintf("Page %d has no extractable text", page)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Page %d:\n%s", page, text)), nil
}

func (s *Server) handleArchive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.lifecycle.Archive(ctx, docID)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Document %s archived", doc.ID)), nil
}

func (s *Server) handleAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docID, err := request.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := s.lifecycle.Audit(ctx, docID)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(formatAudit(docID, entries)), nil
}

func (s *Server) handleValidateMapping(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resolved, err := s.paths.Resolve(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", resolved, err)), nil
	}

	stale, err := mapping.ValidatePDF(s.lifecycle.Table(), data)
	if err != nil {
		return toolError(err), nil
	}
	if len(stale) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Mapping table matches %s", resolved)), nil
	}
	text := fmt.Sprintf("%d stale mapping(s) against %s:\n", len(stale), resolved)
	for _, sm := range stale {
		text += fmt.Sprintf("  • %s\n", sm)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleServerInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.lifecycle.Documents(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(s.formatServerInfo(docs)), nil
}

// writeOutput writes data below the upload directory. Paths escaping it are
// refused.
func (s *Server) writeOutput(path string, data []byte) (string, error) {
	resolved, err := s.paths.Resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", filepath.Dir(resolved), err)
	}
	if err := os.WriteFile(resolved, data, outputFilePerm); err != nil {
		return "", fmt.Errorf("cannot write %s: %w", resolved, err)
	}
	return resolved, nil
}

// toolError turns a domain error into a tool result. Validation failures list
// the offending fields so the caller can correct them.
func toolError(err error) *mcp.CallToolResult {
	var ee *forms.EngineError
	if errors.As(err, &ee) && len(ee.Fields) > 0 {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s (fields: %s)", ee.Kind, ee.Message, strings.Join(ee.Fields, ", ")))
	}
	zap.L().Debug("tool call failed", zap.Error(err))
	return mcp.NewToolResultError(err.Error())
}

func requireParty(request mcp.CallToolRequest) (forms.Owner, error) {
	raw, err := request.RequireString("party")
	if err != nil {
		return "", err
	}
	party := forms.Owner(raw)
	if !party.Valid() {
		return "", fmt.Errorf("party must be partyA or partyB, got %q", raw)
	}
	return party, nil
}

// stringValue flattens a JSON argument into the string form fields store.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, stringValue(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}

func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), t == float64(int(t))
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(t)
		return n, err == nil
	default:
		return 0, false
	}
}

func filledCount(doc *model.Document) int {
	n := 0
	for _, f := range doc.Fields {
		if f.Value != "" && f.Value != "false" {
			n++
		}
	}
	for _, a := range doc.Annotations {
		if a.Value != "" {
			n++
		}
	}
	return n
}
