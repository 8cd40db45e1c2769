// Package action defines the self-describing envelope carried by every
// state-changing interaction, and pure producers for each interaction type.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Server-bound action types (meta.sendToServer=true).
const (
	TypeAddTaxonomy           = "ADD TAXONOMY"
	TypeAddToTaxonomy         = "ADD TO TAXONOMY"
	TypeRenameTaxonomy        = "RENAME TAXONOMY"
	TypeRenameTermInTaxonomy  = "RENAME TERM IN TAXONOMY"
	TypeRemoveFromTaxonomy    = "REMOVE FROM TAXONOMY"
	TypeFilterTaxonomyRequest = "FILTER TAXONOMY REQUEST"
	TypeCreateNewProject      = "CREATE NEW PROJECT"
	TypeUploadDocuments       = "UPLOAD DOCUMENTS"
	TypeMarkDocumentsComplete = "MARK DOCUMENTS COMPLETE"
	TypeDeleteDocuments       = "DELETE DOCUMENTS"
	TypeCompleteDocument      = "COMPLETE DOCUMENT"
	TypeMarkDocumentViewing   = "MARK DOCUMENT VIEWING"
)

// Client-local action types (meta.sendToServer=false). Produced on the
// server only as direct responses; they are never relayed.
const (
	TypeFilterTaxonomyResponse  = "FILTER TAXONOMY RESPONSE"
	TypeChangeSelectedTaxonomy  = "CHANGE SELECTED TAXONOMY"
	TypeProjectAdded            = "PROJECT ADDED"
	TypeUpdateDocuments         = "UPDATE DOCUMENTS"
	TypeUpdateClientTaxonomyID  = "UPDATE CLIENT TAXONOMY ID"
	TypeUpdateClientTermID      = "UPDATE CLIENT TAXONOMY TERM ID"
)

// Meta is the routing and persistence metadata attached to every envelope.
// SendToServer is the sole authority on whether an action round-trips
// through persistence before being applied; Project, when set, names the
// broadcast room the persisted action fans out to.
type Meta struct {
	InitiatedBy  *string `json:"initiatedBy"`
	Project      *string `json:"project,omitempty"`
	SendToServer bool    `json:"sendToServer"`
}

// Envelope is one state-changing message. On the wire the payload fields
// sit flat beside type and meta:
//
//	{"id":"…","type":"RENAME TAXONOMY","newName":"…","meta":{…}}
//
// Fields like "id" above belong to the payload (the taxonomy being
// renamed), not to the envelope itself.
type Envelope struct {
	Type    string
	Meta    Meta
	Payload map[string]any
}

var ErrInvalid = errors.New("invalid action")

// Validate checks the structural invariants every envelope must satisfy.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalid)
	}
	if e.Meta.Project != nil && *e.Meta.Project == "" {
		return fmt.Errorf("%w: meta.project must not be empty when present", ErrInvalid)
	}
	return nil
}

// ProjectID returns the project scope, or "" when the action is not
// project-scoped.
func (e Envelope) ProjectID() string {
	if e.Meta.Project == nil {
		return ""
	}
	return *e.Meta.Project
}

// String reads a string payload field, "" when absent or of another type.
func (e Envelope) String(key string) string {
	value, _ := e.Payload[key].(string)
	return value
}

// OptionalString reads a payload field that may be absent or null.
func (e Envelope) OptionalString(key string) *string {
	value, ok := e.Payload[key].(string)
	if !ok {
		return nil
	}
	return &value
}

// StringSlice reads a payload field holding a list of strings. Non-string
// elements are skipped.
func (e Envelope) StringSlice(key string) []string {
	raw, ok := e.Payload[key].([]any)
	if !ok {
		return nil
	}
	values := make([]string, 0, len(raw))
	for _, element := range raw {
		if value, ok := element.(string); ok {
			values = append(values, value)
		}
	}
	return values
}

// Map reads a payload field holding a JSON object.
func (e Envelope) Map(key string) map[string]any {
	value, _ := e.Payload[key].(map[string]any)
	return value
}

// Slice reads a payload field holding a JSON array.
func (e Envelope) Slice(key string) []any {
	value, _ := e.Payload[key].([]any)
	return value
}

// SetPayload writes one payload field, allocating the map on first use.
// Used by handlers to enrich an envelope before relaying it.
func (e *Envelope) SetPayload(key string, value any) {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Payload)+2)
	for key, value := range e.Payload {
		flat[key] = value
	}
	flat["type"] = e.Type
	flat["meta"] = e.Meta
	return json.Marshal(flat)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	e.Type = ""
	e.Meta = Meta{}
	e.Payload = make(map[string]any)

	for key, raw := range flat {
		switch key {
		case "type":
			if err := json.Unmarshal(raw, &e.Type); err != nil {
				return fmt.Errorf("action type: %w", err)
			}
		case "meta":
			if err := json.Unmarshal(raw, &e.Meta); err != nil {
				return fmt.Errorf("action meta: %w", err)
			}
		default:
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return fmt.Errorf("action payload %q: %w", key, err)
			}
			e.Payload[key] = value
		}
	}
	return nil
}
