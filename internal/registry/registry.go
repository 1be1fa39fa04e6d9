// Package registry resolves template references to concrete, immutable
// revisions. Local templates (embedded built-ins plus an optional catalog
// directory) form the working set; published pins live in DynamoDB and carry
// the versioning contract: digests are immutable by construction, tags are
// immutable by enforcement, channels follow the most recent publish.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conveyorhq/conveyor/internal/dao/templatedao"
	apperrors "github.com/conveyorhq/conveyor/internal/errors"
	"github.com/conveyorhq/conveyor/internal/template"
)

// Revision is a template at an exact content digest.
type Revision struct {
	Template *template.Template
	Digest   string
	Body     []byte
}

// Registry holds the local working set and, when configured, the published
// pin store.
type Registry struct {
	local map[string]Revision // name -> head revision
	dao   *templatedao.DAO    // nil in local-only mode
}

// New creates an empty registry. dao may be nil for local-only resolution
// (digest and default-channel pins against the loaded working set).
func New(dao *templatedao.DAO) *Registry {
	return &Registry{
		local: make(map[string]Revision),
		dao:   dao,
	}
}

// LoadFS loads every *.yaml template below root in fsys into the working set.
func (r *Registry) LoadFS(fsys fs.FS, root string) error {
	return fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		return r.add(path, data)
	})
}

// LoadDir loads every *.yaml template in a catalog directory.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read catalog directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", path, err)
		}
		if err := r.add(path, data); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) add(path string, data []byte) error {
	t, err := template.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if existing, ok := r.local[t.Name]; ok && existing.Digest != template.Digest(data) {
		return fmt.Errorf("%s: template %q already loaded with different content", path, t.Name)
	}
	r.local[t.Name] = Revision{
		Template: t,
		Digest:   template.Digest(data),
		Body:     data,
	}
	return nil
}

// Names returns the loaded template names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.local))
	for name := range r.local {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Head returns the working-set revision of a template, if loaded.
func (r *Registry) Head(name string) (Revision, bool) {
	rev, ok := r.local[name]
	return rev, ok
}

// Resolve maps a ref to the exact revision its pin selects.
func (r *Registry) Resolve(ctx context.Context, ref template.Ref) (Revision, error) {
	switch ref.Kind {
	case template.PinDigest:
		return r.resolveDigest(ctx, ref)
	case template.PinTag:
		return r.resolvePublished(ctx, ref)
	case template.PinChannel:
		rev, err := r.resolvePublished(ctx, ref)
		if err == nil {
			return rev, nil
		}
		// The default channel falls back to the local working set, so a
		// fresh engine with nothing published can still run built-ins.
		if ref.Pin == template.DefaultChannel {
			if rev, ok := r.local[ref.Name]; ok {
				return rev, nil
			}
		}
		return Revision{}, err
	default:
		return Revision{}, fmt.Errorf("unsupported pin kind %q", ref.Kind)
	}
}

func (r *Registry) resolveDigest(ctx context.Context, ref template.Ref) (Revision, error) {
	if rev, ok := r.local[ref.Name]; ok && rev.Digest == ref.Pin {
		return rev, nil
	}
	if r.dao == nil {
		return Revision{}, fmt.Errorf("%s: %w", ref, apperrors.ErrRevisionNotFound)
	}
	record, err := r.dao.FindByDigest(ctx, ref.Name, ref.Pin)
	if err != nil {
		return Revision{}, err
	}
	if record == nil {
		return Revision{}, fmt.Errorf("%s: %w", ref, apperrors.ErrRevisionNotFound)
	}
	return revisionFromRecord(record, ref)
}

func (r *Registry) resolvePublished(ctx context.Context, ref template.Ref) (Revision, error) {
	if r.dao == nil {
		if _, ok := r.local[ref.Name]; !ok {
			return Revision{}, fmt.Errorf("%s: %w", ref, apperrors.ErrTemplateNotFound)
		}
		return Revision{}, fmt.Errorf("%s: %w", ref, apperrors.ErrRevisionNotFound)
	}
	record, err := r.dao.Find(ctx, ref.Name, ref.Pin)
	if err != nil {
		return Revision{}, err
	}
	if record == nil {
		return Revision{}, fmt.Errorf("%s: %w", ref, apperrors.ErrRevisionNotFound)
	}
	return revisionFromRecord(record, ref)
}

func revisionFromRecord(record *templatedao.Record, ref template.Ref) (Revision, error) {
	body := []byte(record.Body)

	// The digest stored at publish time must still match the stored body.
	// A mismatch means the record was mutated out of band.
	if got := template.Digest(body); got != record.Digest {
		return Revision{}, fmt.Errorf("%s: published content does not match digest %s", ref, record.Digest)
	}

	t, err := template.Parse(body)
	if err != nil {
		return Revision{}, fmt.Errorf("%s: %w", ref, err)
	}

	return Revision{
		Template: t,
		Digest:   record.Digest,
		Body:     body,
	}, nil
}

// Publish records the working-set revision of a template under a pin.
func (r *Registry) Publish(ctx context.Context, name, pin string, kind templatedao.PinKind, publishedBy string) (templatedao.Record, error) {
	if r.dao == nil {
		return templatedao.Record{}, fmt.Errorf("publishing requires a template store")
	}
	rev, ok := r.local[name]
	if !ok {
		return templatedao.Record{}, fmt.Errorf("%s: %w", name, apperrors.ErrTemplateNotFound)
	}
	return r.dao.Publish(ctx, templatedao.PublishInput{
		Template:    name,
		Pin:         pin,
		Kind:        kind,
		Digest:      rev.Digest,
		Body:        string(rev.Body),
		PublishedBy: publishedBy,
	})
}
