package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

const manifestExt = ".json"

// ManifestRepository stores one JSON document per operation id. Records are
// written to a temp file and hard-linked into place, so a reader sees either
// nothing or the whole record, and an existing record is never replaced.
type ManifestRepository struct {
	dir string
}

func NewManifestRepository(dir string) (*ManifestRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifests dir: %w", err)
	}
	return &ManifestRepository{dir: dir}, nil
}

func (r *ManifestRepository) Write(ctx context.Context, m *domain.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	target, err := r.path(m.OpID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, ".write-*")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err := os.Link(tmp.Name(), target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return domain.ErrManifestExists
		}
		return fmt.Errorf("publish manifest: %w", err)
	}
	return nil
}

func (r *ManifestRepository) Get(_ context.Context, opID string) (*domain.Manifest, error) {
	p, err := r.path(opID)
	if err != nil {
		return nil, domain.ErrManifestNotFound
	}
	m, err := readManifest(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrManifestNotFound
	}
	return m, err
}

func (r *ManifestRepository) List(ctx context.Context, filter ports.ManifestFilter) iter.Seq2[*domain.Manifest, error] {
	return func(yield func(*domain.Manifest, error) bool) {
		names, err := r.names()
		if err != nil {
			yield(nil, err)
			return
		}

		matched := 0
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			m, err := readManifest(filepath.Join(r.dir, name))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !filter.Match(m) {
				continue
			}
			if !yield(m, nil) {
				return
			}
			matched++
			if filter.Limit > 0 && matched >= filter.Limit {
				return
			}
		}
	}
}

// Watch delivers every record published after it is called until ctx is
// done. The returned channel is closed when watching stops.
func (r *ManifestRepository) Watch(ctx context.Context) (<-chan *domain.Manifest, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", r.dir, err)
	}

	out := make(chan *domain.Manifest)
	go func() {
		defer close(out)
		defer w.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Create) || !isManifestFile(filepath.Base(event.Name)) {
					continue
				}
				m, err := readManifest(event.Name)
				if err != nil {
					log.WithFields(log.Fields{
						"path":  event.Name,
						"error": err,
					}).Warn("skipping unreadable manifest")
					continue
				}
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("manifest watcher error")
			}
		}
	}()
	return out, nil
}

func (r *ManifestRepository) path(opID string) (string, error) {
	if opID == "" || opID != filepath.Base(opID) || strings.HasPrefix(opID, ".") {
		return "", fmt.Errorf("%w: unsafe op id %q", domain.ErrInvalidManifest, opID)
	}
	return filepath.Join(r.dir, opID+manifestExt), nil
}

// names returns record file names newest first. Op ids start with a UTC
// timestamp, so name order is time order.
func (r *ManifestRepository) names() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read manifests dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && isManifestFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func isManifestFile(name string) bool {
	return strings.HasSuffix(name, manifestExt) && !strings.HasPrefix(name, ".")
}

func readManifest(p string) (*domain.Manifest, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, &domain.CorruptManifestError{Source: p, Err: err}
	}
	var m domain.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &domain.CorruptManifestError{Source: p, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &domain.CorruptManifestError{Source: p, Err: err}
	}
	return &m, nil
}

var _ ports.ManifestRepository = (*ManifestRepository)(nil)
var _ ports.ManifestWatcher = (*ManifestRepository)(nil)
