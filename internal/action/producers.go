package action

import "github.com/google/uuid"

// Producers are pure: given domain inputs they return a fully populated
// envelope and perform no I/O. One producer per interaction type.

func serverMeta(userID, projectID string) Meta {
	return Meta{
		InitiatedBy:  &userID,
		Project:      &projectID,
		SendToServer: true,
	}
}

func localMeta(initiatedBy *string) Meta {
	return Meta{InitiatedBy: initiatedBy, SendToServer: false}
}

// AddTaxonomy creates a named taxonomy in a project, optionally seeded
// from a nested import structure (labels mapping to sub-structures or
// lists of leaf labels).
func AddTaxonomy(name string, importTree map[string]any, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeAddTaxonomy,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"id":       uuid.NewString(),
			"name":     name,
			"taxonomy": importTree,
		},
	}
}

func AddToTaxonomy(label string, parent *string, taxonomyID, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeAddToTaxonomy,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"id":       uuid.NewString(),
			"label":    label,
			"parent":   parent,
			"taxonomy": taxonomyID,
		},
	}
}

func RenameTaxonomy(taxonomyID, newName, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeRenameTaxonomy,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"id":      taxonomyID,
			"newName": newName,
		},
	}
}

func RenameTermInTaxonomy(termID, newName, taxonomyID, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeRenameTermInTaxonomy,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"id":       termID,
			"newName":  newName,
			"taxonomy": taxonomyID,
		},
	}
}

func RemoveFromTaxonomy(termID, taxonomyID, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeRemoveFromTaxonomy,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"id":       termID,
			"taxonomy": taxonomyID,
		},
	}
}

func FilterTaxonomyRequest(filter, taxonomyID, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeFilterTaxonomyRequest,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"filter":     filter,
			"taxonomyId": taxonomyID,
		},
	}
}

// FilterTaxonomyResponse answers a filter request. It is local-only: no
// project scope, never relayed.
func FilterTaxonomyResponse(filter, taxonomyID string, results any, initiatedBy *string) Envelope {
	return Envelope{
		Type: TypeFilterTaxonomyResponse,
		Meta: localMeta(initiatedBy),
		Payload: map[string]any{
			"filter":     filter,
			"taxonomyId": taxonomyID,
			"results":    results,
		},
	}
}

func ChangeSelectedTaxonomy(taxonomyID *string) Envelope {
	return Envelope{
		Type: TypeChangeSelectedTaxonomy,
		Meta: localMeta(nil),
		Payload: map[string]any{
			"taxonomy": taxonomyID,
		},
	}
}

// CreateNewProject is scoped to the placeholder project "NEW": the real
// project id only exists after persistence.
func CreateNewProject(name, teamID, userID string) Envelope {
	placeholder := "NEW"
	return Envelope{
		Type: TypeCreateNewProject,
		Meta: Meta{InitiatedBy: &userID, Project: &placeholder, SendToServer: true},
		Payload: map[string]any{
			"name":   name,
			"teamId": teamID,
		},
	}
}

func ProjectAdded(project any, userID string) Envelope {
	return Envelope{
		Type: TypeProjectAdded,
		Meta: localMeta(&userID),
		Payload: map[string]any{
			"project": project,
		},
	}
}

func UploadDocuments(documents []any, batchLabel string, batchID *string, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeUploadDocuments,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"documents":  documents,
			"batchLabel": batchLabel,
			"batchId":    batchID,
		},
	}
}

func MarkDocumentsComplete(documents []any, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeMarkDocumentsComplete,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"documents": documents,
		},
	}
}

func DeleteDocuments(documentIDs []string, projectID, userID string) Envelope {
	ids := make([]any, len(documentIDs))
	for i, id := range documentIDs {
		ids[i] = id
	}
	return Envelope{
		Type: TypeDeleteDocuments,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"documentIds": ids,
		},
	}
}

func CompleteDocument(annotations any, documentID, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeCompleteDocument,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"annotations": annotations,
			"document":    map[string]any{"id": documentID},
		},
	}
}

// MarkDocumentViewing records which document a user has open; nil clears it.
func MarkDocumentViewing(documentID *string, projectID, userID string) Envelope {
	return Envelope{
		Type: TypeMarkDocumentViewing,
		Meta: serverMeta(userID, projectID),
		Payload: map[string]any{
			"documentId": documentID,
		},
	}
}

func UpdateDocuments(documents []any, initiatedBy *string) Envelope {
	return Envelope{
		Type: TypeUpdateDocuments,
		Meta: localMeta(initiatedBy),
		Payload: map[string]any{
			"documents": documents,
		},
	}
}
