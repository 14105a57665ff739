// Package artifact stores the fundus images and generated report PDFs under
// a single directory tree. References handed back to callers are relative
// (prefix/name) so the root can move without touching stored rows.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visionai/drscreen/internal/platform/apperr"
	"github.com/visionai/drscreen/internal/platform/imaging"
)

// Kind distinguishes the two artifact families.
type Kind int

const (
	KindImage Kind = iota + 1
	KindReport
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindReport:
		return "report"
	default:
		return "unknown"
	}
}

const tempPrefix = ".tmp-"

var sidePattern = regexp.MustCompile(`^[a-z]+$`)

// Spec describes an artifact to write.
type Spec struct {
	Kind Kind
	// Side and Ext name an image: {uuid}_{side}{ext}.
	Side string
	Ext  string
	// EncounterID names a report: {encounter_id}.pdf, unless Name is set.
	EncounterID string
	Name        string
	// Overwrite allows a report to replace an existing file. Only
	// regeneration sets it.
	Overwrite bool
}

// Entry is one file in the store root.
type Entry struct {
	Name    string
	Ref     string
	Size    int64
	ModTime time.Time
}

// Store is the artifact store contract used by the screening workflow and
// the report compiler.
type Store interface {
	Put(ctx context.Context, spec Spec, content io.Reader) (string, error)
	Resolve(ref string) (string, error)
	Exists(ref string) bool
	Open(ref string) (io.ReadCloser, error)
	Delete(ctx context.Context, ref string) error
	List(ctx context.Context) ([]Entry, error)
	Ref(name string) string
}

// Options configures an FSStore.
type Options struct {
	Root      string
	RefPrefix string
	// WorkDir and WorkSubdir feed the working-directory fallbacks of
	// Resolve. WorkDir defaults to the process working directory and
	// WorkSubdir to "uploads".
	WorkDir    string
	WorkSubdir string
}

// FSStore is a Store over one local directory.
type FSStore struct {
	root       string
	refPrefix  string
	strategies []Strategy
}

// NewFSStore creates the root directory if needed and returns the store.
func NewFSStore(opts Options) (*FSStore, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("artifact root required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}

	workDir := opts.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("working directory: %w", err)
		}
	}
	subdir := opts.WorkSubdir
	if subdir == "" {
		subdir = "uploads"
	}

	return &FSStore{
		root:      root,
		refPrefix: strings.Trim(opts.RefPrefix, "/"),
		strategies: []Strategy{
			AsGiven(root),
			BaseName(root),
			AsGiven(workDir),
			BaseName(filepath.Join(workDir, subdir)),
		},
	}, nil
}

// Root returns the absolute root directory.
func (s *FSStore) Root() string { return s.root }

// Ref returns the stored reference for a file name in the root.
func (s *FSStore) Ref(name string) string {
	if s.refPrefix == "" {
		return name
	}
	return path.Join(s.refPrefix, name)
}

// Name derives the file name a spec will be written under. Image names are
// random, so two calls for the same image spec differ.
func (s *FSStore) Name(spec Spec) (string, error) {
	switch spec.Kind {
	case KindImage:
		side := strings.ToLower(strings.TrimSpace(spec.Side))
		if !sidePattern.MatchString(side) {
			return "", fmt.Errorf("%w: image side %q", apperr.ErrInvalidInput, spec.Side)
		}
		ext := strings.ToLower(spec.Ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !imaging.AllowedExtensions[ext] {
			return "", fmt.Errorf("%w: image extension %q", apperr.ErrInvalidInput, spec.Ext)
		}
		return uuid.NewString() + "_" + side + ext, nil
	case KindReport:
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			if strings.TrimSpace(spec.EncounterID) == "" {
				return "", fmt.Errorf("%w: report needs an encounter id", apperr.ErrInvalidInput)
			}
			name = spec.EncounterID + ".pdf"
		}
		if filepath.Base(name) != name || name == "." || name == ".." || strings.HasPrefix(name, tempPrefix) {
			return "", fmt.Errorf("%w: report name %q", apperr.ErrInvalidInput, name)
		}
		return name, nil
	default:
		return "", fmt.Errorf("%w: artifact kind %d", apperr.ErrInvalidInput, spec.Kind)
	}
}

// Put writes content under a name derived from spec and returns its
// reference. The bytes land in a temp file first and are then moved into
// place, so a reader sees either no file or the complete file.
func (s *FSStore) Put(ctx context.Context, spec Spec, content io.Reader) (string, error) {
	name, err := s.Name(spec)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.root, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp for %s: %v", apperr.ErrUploadFailed, name, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: write %s: %v", apperr.ErrUploadFailed, name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("%w: sync %s: %v", apperr.ErrUploadFailed, name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %v", apperr.ErrUploadFailed, name, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return "", fmt.Errorf("%w: chmod %s: %v", apperr.ErrUploadFailed, name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	final := filepath.Join(s.root, name)
	if spec.Overwrite {
		if err := os.Rename(tmpPath, final); err != nil {
			return "", fmt.Errorf("%w: replace %s: %v", apperr.ErrUploadFailed, name, err)
		}
		return s.Ref(name), nil
	}

	// Link fails if final exists, which gives no-overwrite without a
	// check-then-write window.
	if err := os.Link(tmpPath, final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", apperr.ErrArtifactExists, name)
		}
		return "", fmt.Errorf("%w: link %s: %v", apperr.ErrUploadFailed, name, err)
	}
	return s.Ref(name), nil
}

// Resolve finds the file a reference points to. Candidates are tried in
// order: the ref under the root, its base name under the root, the ref
// under the working directory, its base name under the working
// directory's upload folder.
func (s *FSStore) Resolve(ref string) (string, error) {
	if p, ok := firstRegular(Candidates(ref, s.strategies)); ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", apperr.ErrArtifactMissing, ref)
}

// Exists reports whether ref resolves to a file.
func (s *FSStore) Exists(ref string) bool {
	_, err := s.Resolve(ref)
	return err == nil
}

// Open resolves ref and opens the file for reading.
func (s *FSStore) Open(ref string) (io.ReadCloser, error) {
	p, err := s.Resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrArtifactMissing, ref, err)
	}
	return f, nil
}

// Delete removes the file ref points to inside the root. Files outside the
// root are never deleted, and a missing file is not an error.
func (s *FSStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var direct []string
	for _, c := range Candidates(ref, s.strategies[:2]) {
		if filepath.Dir(c) == s.root {
			direct = append(direct, c)
		}
	}
	p, ok := firstRegular(direct)
	if !ok {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

// List returns the regular files in the root in name order. Temp files of
// in-flight writes are skipped.
func (s *FSStore) List(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list artifact root: %w", err)
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), tempPrefix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, Entry{
			Name:    de.Name(),
			Ref:     s.Ref(de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}
