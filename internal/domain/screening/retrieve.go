package screening

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/visionai/drscreen/internal/domain/encounter"
	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/artifact"
)

// Action says how a retrieved report is delivered.
type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
)

// ParseAction accepts "view" (the default) and "download".
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case "", ActionView:
		return ActionView, nil
	case ActionDownload:
		return ActionDownload, nil
	default:
		return "", fmt.Errorf("%w: action must be view or download", apperr.ErrInvalidInput)
	}
}

// Document is a report ready to be sent to a caller.
type Document struct {
	Encounter *encounter.Encounter
	Path      string
	Filename  string
	Action    Action
}

// Retriever serves reports to the doctor who filed them and to the
// patient they are about.
type Retriever struct {
	encounters Encounters
	store      artifact.Store
}

func NewRetriever(encounters Encounters, store artifact.Store) *Retriever {
	return &Retriever{encounters: encounters, store: store}
}

// Detail returns the encounter and whether its report file is present.
func (rt *Retriever) Detail(ctx context.Context, reportID uuid.UUID, r encounter.Requester) (*encounter.Encounter, bool, error) {
	enc, err := rt.encounters.Find(ctx, reportID, r)
	if err != nil {
		return nil, false, err
	}
	return enc, rt.store.Exists(enc.ExpectedReportFilename()), nil
}

// Open checks that r may see the report, then locates its PDF. When the
// record is visible but the file is gone, the returned Document still
// carries the encounter and the error wraps apperr.ErrArtifactMissing.
func (rt *Retriever) Open(ctx context.Context, reportID uuid.UUID, r encounter.Requester, action Action) (*Document, error) {
	if action != ActionView && action != ActionDownload {
		return nil, fmt.Errorf("%w: action must be view or download", apperr.ErrInvalidInput)
	}
	enc, err := rt.encounters.Find(ctx, reportID, r)
	if err != nil {
		return nil, err
	}

	name := enc.ExpectedReportFilename()
	doc := &Document{Encounter: enc, Filename: name, Action: action}
	p, err := rt.store.Resolve(name)
	if err != nil {
		return doc, fmt.Errorf("%w: report file for %s", apperr.ErrArtifactMissing, enc.ID)
	}
	doc.Path = p
	return doc, nil
}
