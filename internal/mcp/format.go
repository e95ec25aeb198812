package mcp

import (
	"fmt"
	"strings"

	"github.com/a3tai/mcp-pdf-formfill/internal/descriptions"
	"github.com/a3tai/mcp-pdf-formfill/internal/model"
	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

const timeFormat = "2006-01-02 15:04:05Z07:00"

// Formatting methods
func formatDocument(doc *model.Document) string {
	text := fmt.Sprintf("Document: %s\n", doc.ID)
	text += fmt.Sprintf("Name: %s\n", doc.Name)
	text += fmt.Sprintf("Status: %s\n", doc.Status)
	if pages := doc.Metadata[model.MetaPageCount]; pages != "" {
		text += fmt.Sprintf("Pages: %s\n", pages)
	}
	text += fmt.Sprintf("Handed off: %t\n", doc.HandedOff())
	if doc.OutputFile != "" {
		text += fmt.Sprintf("Output: %s\n", doc.OutputFile)
	}

	if len(doc.Fields) > 0 {
		text += fmt.Sprintf("\nFields (%d):\n", len(doc.Fields))
		for i, f := range doc.Fields {
			text += fmt.Sprintf("%d. %s [%s, page %d, %s]", i+1, f.SourceIdentifier, f.Type, f.Page, f.Owner)
			if f.ExportValue != "" {
				text += fmt.Sprintf(" export=%s", f.ExportValue)
			}
			if f.Required {
				text += " *required"
			}
			if f.ReadOnly {
				text += " read-only"
			}
			text += "\n"
			text += fmt.Sprintf("   id: %s\n", f.ID)
			if f.Value != "" {
				text += fmt.Sprintf("   value: %q\n", f.Value)
			}
			if len(f.Options) > 0 {
				text += fmt.Sprintf("   options: %s\n", strings.Join(f.Options, ", "))
			}
		}
	}

	if len(doc.Annotations) > 0 {
		text += fmt.Sprintf("\nPositioned annotations (%d):\n", len(doc.Annotations))
		for i, a := range doc.Annotations {
			text += fmt.Sprintf("%d. %s [page %d, %s]", i+1, a.LogicalName, a.Page, a.Owner)
			if a.Required {
				text += " *required"
			}
			text += "\n"
			if a.Value != "" {
				text += fmt.Sprintf("   value: %q\n", a.Value)
			}
		}
	}

	if missing := doc.MissingRequired(); len(missing) > 0 {
		text += fmt.Sprintf("\n⚠️  Required and empty: %s\n", strings.Join(missing, ", "))
	}
	return text
}

func formatSkipped(skipped []forms.SkippedField) string {
	if len(skipped) == 0 {
		return ""
	}
	text := fmt.Sprintf("Skipped %d:\n", len(skipped))
	for _, sk := range skipped {
		text += fmt.Sprintf("  ✗ %s: %s\n", displayName(sk.LogicalName, sk.Identifier), sk.Reason)
	}
	return text
}

func formatAudit(docID string, entries []model.AuditEntry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No audit entries for %s", docID)
	}
	text := fmt.Sprintf("Audit trail for %s (%d entries):\n", docID, len(entries))
	for _, e := range entries {
		text += fmt.Sprintf("%s  %-16s %s", e.Timestamp.Format(timeFormat), e.Action, e.Actor)
		if e.FieldID != "" {
			text += fmt.Sprintf("  %s", e.FieldID)
		}
		if e.OldValue != nil || e.NewValue != nil {
			text += fmt.Sprintf("  %q -> %q", deref(e.OldValue), deref(e.NewValue))
		}
		text += "\n"
	}
	return text
}

func (s *Server) formatServerInfo(docs []*model.Document) string {
	text := fmt.Sprintf("📋 %s v%s - Server Information\n", s.config.ServerName, s.config.Version)
	text += fmt.Sprintf("📁 Upload Directory: %s\n", s.config.PDFDirectory)
	text += fmt.Sprintf("📏 Max File Size: %d MB\n", s.config.MaxFileSize/(1024*1024))
	text += fmt.Sprintf("🗄️  Repository: %s\n", s.config.DBDriver)
	switch {
	case s.config.GCSBucket != "":
		text += fmt.Sprintf("🪣 PDF Storage: gs://%s/%s\n", s.config.GCSBucket, s.config.GCSPrefix)
	case s.config.BlobDir != "":
		text += fmt.Sprintf("🪣 PDF Storage: %s\n", s.config.BlobDir)
	}
	if s.config.RedisURL != "" {
		text += "📡 Collaboration events: redis\n"
	} else {
		text += "📡 Collaboration events: in-process\n"
	}

	byStatus := make(map[model.Status]int)
	for _, d := range docs {
		byStatus[d.Status]++
	}
	text += fmt.Sprintf("\n📂 Documents: %d", len(docs))
	if len(docs) > 0 {
		text += fmt.Sprintf(" (draft %d, in progress %d, completed %d, archived %d)",
			byStatus[model.StatusDraft], byStatus[model.StatusInProgress],
			byStatus[model.StatusCompleted], byStatus[model.StatusArchived])
	}
	text += "\n\n🛠️  Available Tools:\n"
	for _, name := range descriptions.GetAllToolNames() {
		summary, _, _ := strings.Cut(descriptions.GetToolDescription(name), "\n")
		text += fmt.Sprintf("  • %s: %s\n", name, summary)
	}
	return text
}

func displayName(logical, identifier string) string {
	if logical != "" && logical != identifier {
		return fmt.Sprintf("%s (%s)", logical, identifier)
	}
	return identifier
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
