package descriptions

import (
	"maps"
	"slices"
)

// Comprehensive tool descriptions with practical examples and use cases

const (
	// Document tools
	FormfillUploadDescription = `Upload a fillable PDF form and detect every interactive field on it.

**When to use:** Starting a new two-party form. The PDF must contain an AcroForm; flat or scanned PDFs are rejected.

**Why it's useful:** Detection reads each widget's type, page, rectangle, styling and current value, assigns a default owner (partyA or partyB) and applies the mapping table's owner/required settings, so the document is ready for submissions immediately.

**Examples:**
• Start an application: "Upload energy-assistance.pdf so the applicant can begin"
• Re-use a blank form: "Upload forms/lease-renewal.pdf as a new document"

**Common workflows:**
1. Two-party form: upload → submit (partyA) → handoff → submit (partyB) → finalize
2. Manual setup: upload → get_document → assign_owners → submit

**Best practices:** Run formfill_validate_mapping against a new form revision before the first upload; the returned document id is used by every other tool.`

	FormfillListDocumentsDescription = `List every uploaded document with its status and fill progress.

**When to use:** Finding a document id, or checking which forms are still waiting on a party.`

	FormfillGetDocumentDescription = `Show a document's status, every detected field with its owner, type, page and value, and the positioned annotations.

**When to use:** Before submitting values (to learn field ids and owners), or to check what is still missing before finalize.

**Best practices:** Required fields without a value are flagged; these block formfill_finalize.`

	FormfillAssignOwnersDescription = `Override the detected owner of fields or positioned annotations.

**When to use:** The position/keyword heuristic picked the wrong party for a field. Assignments are refused once the field already has a value.

**Examples:**
• "Assign field 3f2a... to partyB"
• "Make the household_members annotation belong to partyA"`

	FormfillSubmitDescription = `Write several values at once, keyed by logical name, on behalf of one party.

**When to use:** A party has answered a batch of questions. Names are resolved by exact match against the mapping table, then against detected field names, then against positioned annotations; nothing is ever matched by similarity.

**Why it's useful:** Group inputs expand automatically: "dwelling_type": "House" checks the House box and clears the others; multi-select groups take a comma-separated list.

**Examples:**
• partyA: {"first_name": "Ada", "dwelling_type": "Apartment", "heating_fuel": "Gas"}
• partyB after handoff: {"landlord_signature": "J. Smith", "household_members": "Ada, Tom"}

**Best practices:** The result lists written fields and skipped ones with a reason (unknown name, field owned by the other party). partyB submissions are rejected until partyA hands off.`

	FormfillSetFieldDescription = `Set one field by id (or annotation by logical name) on behalf of a party.

**When to use:** Correcting a single value, or writing a field that has no logical name in the mapping table.`

	FormfillHandoffDescription = `Hand the document from partyA to partyB.

**When to use:** partyA has filled every required field it owns. The handoff fails with the list of missing fields otherwise, and can only happen once.`

	FormfillFinalizeDescription = `Validate required fields, fill the PDF and mark the document completed.

**When to use:** Both parties are done. Finalize fails with a validation error naming every required field that is still empty; the document then stays in progress and can be corrected.

**Why it's useful:** Text, checkbox and radio values are written into the form fields; signatures are drawn as overlay text in a script-like font; positioned annotations are placed at their exact coordinates.

**Best practices:** Use formfill_render first to preview. Pass output_path to also write the filled PDF into the upload directory.`

	FormfillRenderDescription = `Produce a preview fill of the current values without changing the document's state.

**When to use:** Checking placement and fonts before finalize. Pass output_path to save the preview PDF.`

	FormfillPageTextDescription = `Extract the plain text of one page of the original form.

**When to use:** Reading the questions around a field to decide what value belongs in it.`

	FormfillArchiveDescription = `Archive a completed document. Archived documents are read-only.`

	FormfillAuditDescription = `Show the append-only audit trail of a document: uploads, owner changes, every field write with old and new value, handoff, fill outcomes, finalize and session activity.`

	FormfillValidateMappingDescription = `Cross-check the mapping table against a PDF before first use.

**When to use:** A new revision of a form arrives, or the mapping table was edited. Reports entries whose widget is missing, on the wrong page, of the wrong type, or moved, plus annotation names that collide with real widget names.`

	// Collaboration tools
	FormfillSessionConnectDescription = `Open a collaboration session on a document as one participant.

**When to use:** Several participants edit the same document live. Each session receives the other sessions' field updates, focus changes and join/leave notices; a session never receives its own events.

**Common workflows:**
1. connect → session_state → (session_update / session_events)* → session_disconnect
2. After a reconnect: connect → session_state to resynchronise

**Best practices:** Sessions idle longer than the configured timeout are closed automatically.`

	FormfillSessionUpdateDescription = `Change a field property through a session and broadcast it to the other participants.

**When to use:** Live editing. property is "value" (default) or "required". Every update is persisted and audited with the previous value; the last writer wins.`

	FormfillSessionFocusDescription = `Tell the other participants which field this session is editing. Presence only; nothing is persisted.`

	FormfillSessionStateDescription = `Return the authoritative value, required flag and last update time of every field.

**When to use:** After connecting or reconnecting, since events sent while a session was away are not replayed.`

	FormfillSessionEventsDescription = `Drain the events other participants sent to this session since the last call.

**When to use:** Polling for live changes. Events beyond the session's buffer are dropped; call session_state to catch up.`

	FormfillSessionDisconnectDescription = `Close a collaboration session and notify the other participants.`

	FormfillServerInfoDescription = `Get server status, configuration, document counts and the list of available tools.

**When to use:** Discovering capabilities or confirming where uploaded and filled PDFs are stored.`
)

// ToolDescriptions maps tool names to their comprehensive descriptions
var ToolDescriptions = map[string]string{
	"formfill_upload":             FormfillUploadDescription,
	"formfill_list_documents":     FormfillListDocumentsDescription,
	"formfill_get_document":       FormfillGetDocumentDescription,
	"formfill_assign_owners":      FormfillAssignOwnersDescription,
	"formfill_submit":             FormfillSubmitDescription,
	"formfill_set_field":          FormfillSetFieldDescription,
	"formfill_handoff":            FormfillHandoffDescription,
	"formfill_finalize":           FormfillFinalizeDescription,
	"formfill_render":             FormfillRenderDescription,
	"formfill_page_text":          FormfillPageTextDescription,
	"formfill_archive":            FormfillArchiveDescription,
	"formfill_audit":              FormfillAuditDescription,
	"formfill_validate_mapping":   FormfillValidateMappingDescription,
	"formfill_session_connect":    FormfillSessionConnectDescription,
	"formfill_session_update":     FormfillSessionUpdateDescription,
	"formfill_session_focus":      FormfillSessionFocusDescription,
	"formfill_session_state":      FormfillSessionStateDescription,
	"formfill_session_events":     FormfillSessionEventsDescription,
	"formfill_session_disconnect": FormfillSessionDisconnectDescription,
	"formfill_server_info":        FormfillServerInfoDescription,
}

// GetToolDescription returns the comprehensive description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns the names of all available tools, sorted
func GetAllToolNames() []string {
	return slices.Sorted(maps.Keys(ToolDescriptions))
}
