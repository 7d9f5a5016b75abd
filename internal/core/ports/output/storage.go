package ports

import (
	"context"
	"iter"
	"time"

	"model-uploader/internal/core/domain"
)

// ArtifactStore keeps content-addressed copies of artifacts. Put is
// idempotent for a checksum and returns a URL for the stored copy.
type ArtifactStore interface {
	Put(ctx context.Context, localPath, checksum string) (string, error)
}

type ManifestFilter struct {
	Since     time.Time
	Until     time.Time
	Status    domain.Status
	Mode      domain.Mode
	Workspace string
	Project   string
	Limit     int
}

// Match reports whether m passes every set criterion. Since is inclusive
// and Until is exclusive; both compare against StartedAt.
func (f ManifestFilter) Match(m *domain.Manifest) bool {
	if m == nil {
		return false
	}
	if !f.Since.IsZero() && m.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !m.StartedAt.Before(f.Until) {
		return false
	}
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Mode != "" && m.Mode != f.Mode {
		return false
	}
	if f.Workspace != "" && m.Workspace != f.Workspace {
		return false
	}
	if f.Project != "" && m.Project != f.Project {
		return false
	}
	return true
}

// ManifestRepository is the append-only manifest store.
type ManifestRepository interface {
	// Write persists m. It never replaces an existing record and returns
	// domain.ErrManifestExists instead.
	Write(ctx context.Context, m *domain.Manifest) error
	Get(ctx context.Context, opID string) (*domain.Manifest, error)
	// List yields matching records newest first. Records that cannot be read
	// are yielded as *domain.CorruptManifestError and iteration continues.
	List(ctx context.Context, filter ManifestFilter) iter.Seq2[*domain.Manifest, error]
}

// ManifestWatcher streams records as they are written.
type ManifestWatcher interface {
	Watch(ctx context.Context) (<-chan *domain.Manifest, error)
}
