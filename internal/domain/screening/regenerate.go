package screening

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	lpdf "github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/visionai/drscreen/internal/domain/account"
	"github.com/visionai/drscreen/internal/domain/encounter"
	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/artifact"
)

// OrphanGrace is how old an unreferenced file must be before the orphan
// sweep considers it. Younger files may belong to a submission in flight.
const OrphanGrace = 10 * time.Minute

// AuditEntry is the report status of one encounter.
type AuditEntry struct {
	EncounterID      uuid.UUID `json:"encounter_id"`
	ExpectedFilename string    `json:"expected_filename"`
	Present          bool      `json:"present"`
	// Readable is set only when the audit verifies files.
	Readable *bool  `json:"readable,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// OrphanReport lists files in the artifact root that no encounter refers to.
type OrphanReport struct {
	Orphans []artifact.Entry `json:"orphans"`
	Deleted []string         `json:"deleted,omitempty"`
	// TooRecent counts unreferenced files skipped because of OrphanGrace.
	TooRecent int `json:"too_recent"`
}

// Regenerator holds the offline maintenance operations: regenerate a
// report, audit report files against records and sweep orphaned files.
// None of them modify encounter rows.
type Regenerator struct {
	encounters Encounters
	doctors    Doctors
	reports    *reportWriter
	store      artifact.Store
	logger     zerolog.Logger
	now        func() time.Time
}

func NewRegenerator(encounters Encounters, doctors Doctors, compiler ReportCompiler, store artifact.Store, logger zerolog.Logger) *Regenerator {
	return &Regenerator{
		encounters: encounters,
		doctors:    doctors,
		reports:    &reportWriter{compiler: compiler, store: store},
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// Regenerate rebuilds the report of an encounter from its stored images
// and overwrites the PDF at the expected file name. No visibility check is
// applied. Running it twice yields the same file.
func (g *Regenerator) Regenerate(ctx context.Context, reportID uuid.UUID) (string, error) {
	enc, err := g.encounters.Get(ctx, reportID)
	if err != nil {
		return "", err
	}
	return g.regenerate(ctx, enc)
}

// RegenerateFor is Regenerate on behalf of r, who must be able to see the
// encounter.
func (g *Regenerator) RegenerateFor(ctx context.Context, reportID uuid.UUID, r encounter.Requester) (string, error) {
	enc, err := g.encounters.Find(ctx, reportID, r)
	if err != nil {
		return "", err
	}
	return g.regenerate(ctx, enc)
}

func (g *Regenerator) regenerate(ctx context.Context, enc *encounter.Encounter) (string, error) {
	_, leftErr := g.store.Resolve(enc.LeftImageRef)
	_, rightErr := g.store.Resolve(enc.RightImageRef)
	if leftErr != nil || rightErr != nil {
		return "", fmt.Errorf("%w: cannot resolve source images for %s (left=%q found=%t, right=%q found=%t)",
			apperr.ErrArtifactMissing, enc.ID, enc.LeftImageRef, leftErr == nil, enc.RightImageRef, rightErr == nil)
	}

	doc, err := g.doctors.Get(ctx, enc.OwnerID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}
		g.logger.Warn().Str("encounter_id", enc.ID.String()).Msg("doctor account missing, report will omit physician details")
		doc = &account.Account{}
	}

	ref, err := g.reports.write(ctx, enc, doc, true)
	if err != nil {
		return "", err
	}
	g.logger.Info().Str("encounter_id", enc.ID.String()).Str("artifact", enc.ExpectedReportFilename()).Msg("report regenerated")
	return ref, nil
}

// Audit reports, for every encounter, whether its report file exists. With
// verify set, present files are also parsed as PDF. Nothing is modified.
func (g *Regenerator) Audit(ctx context.Context, verify bool) ([]AuditEntry, error) {
	encs, err := g.encounters.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(encs))
	for _, enc := range encs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := AuditEntry{EncounterID: enc.ID, ExpectedFilename: enc.ExpectedReportFilename()}
		p, err := g.store.Resolve(e.ExpectedFilename)
		e.Present = err == nil
		if e.Present && verify {
			readable := true
			if err := verifyPDF(p); err != nil {
				readable = false
				e.Problem = err.Error()
			}
			e.Readable = &readable
		}
		out = append(out, e)
	}
	return out, nil
}

// Missing filters an audit down to encounters without a usable report.
func Missing(entries []AuditEntry) []AuditEntry {
	return lo.Filter(entries, func(e AuditEntry, _ int) bool {
		return !e.Present || (e.Readable != nil && !*e.Readable)
	})
}

// verifyPDF opens the file as a PDF and requires at least one page.
func verifyPDF(p string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	r, err := lpdf.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("malformed pdf: %w", err)
	}
	if r.NumPage() < 1 {
		return errors.New("pdf has no pages")
	}
	return nil
}

// Orphans lists files in the artifact root that no encounter references:
// images that are neither a left nor a right image of any encounter, and
// reports whose name matches no encounter's expected file name. With del
// set they are removed. Files younger than OrphanGrace are left alone.
func (g *Regenerator) Orphans(ctx context.Context, del bool) (*OrphanReport, error) {
	encs, err := g.encounters.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := g.store.List(ctx)
	if err != nil {
		return nil, err
	}

	referenced := lo.Associate(lo.FlatMap(encs, func(e *encounter.Encounter, _ int) []string {
		return []string{path.Base(e.LeftImageRef), path.Base(e.RightImageRef), e.ExpectedReportFilename()}
	}), func(name string) (string, struct{}) { return name, struct{}{} })

	cutoff := g.now().Add(-OrphanGrace)
	unreferenced := lo.Reject(entries, func(e artifact.Entry, _ int) bool {
		_, ok := referenced[e.Name]
		return ok
	})
	orphans := lo.Filter(unreferenced, func(e artifact.Entry, _ int) bool {
		return e.ModTime.Before(cutoff)
	})

	report := &OrphanReport{Orphans: orphans, TooRecent: len(unreferenced) - len(orphans)}
	if report.Orphans == nil {
		report.Orphans = []artifact.Entry{}
	}
	if !del {
		return report, nil
	}
	for _, o := range orphans {
		if err := g.store.Delete(ctx, o.Ref); err != nil {
			g.logger.Warn().Err(err).Str("artifact", o.Name).Msg("could not delete orphaned artifact")
			continue
		}
		report.Deleted = append(report.Deleted, o.Name)
	}
	g.logger.Info().Int("deleted", len(report.Deleted)).Int("orphans", len(orphans)).Msg("orphan sweep finished")
	return report, nil
}
