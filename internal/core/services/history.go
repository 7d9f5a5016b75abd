package services

import (
	"context"
	"errors"
	"time"

	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/ports/output"
)

// HistoryService is the read side of the manifest store.
type HistoryService struct {
	repo ports.ManifestRepository
}

func NewHistoryService(repo ports.ManifestRepository) *HistoryService {
	return &HistoryService{repo: repo}
}

// SkippedRecord describes a stored record that could not be read.
type SkippedRecord struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

type HistoryPage struct {
	Records []*domain.Manifest
	Skipped []SkippedRecord
}

type Stats struct {
	Total       int                      `json:"total"`
	ByStatus    map[domain.Status]int    `json:"by_status"`
	ByMode      map[domain.Mode]int      `json:"by_mode"`
	ByFamily    map[domain.Family]int    `json:"by_family"`
	ByErrorKind map[domain.ErrorKind]int `json:"by_error_kind"`
	TotalBytes  int64                    `json:"total_bytes"`
	SuccessRate float64                  `json:"success_rate"`
	First       *time.Time               `json:"first,omitempty"`
	Last        *time.Time               `json:"last,omitempty"`
	Skipped     int                      `json:"skipped"`
}

// List collects matching records newest first. Unreadable records are
// reported in Skipped instead of failing the listing.
func (s *HistoryService) List(ctx context.Context, filter ports.ManifestFilter) (*HistoryPage, error) {
	page := &HistoryPage{}
	err := s.each(ctx, filter, func(m *domain.Manifest) {
		page.Records = append(page.Records, m)
	}, func(skipped SkippedRecord) {
		page.Skipped = append(page.Skipped, skipped)
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (s *HistoryService) Get(ctx context.Context, opID string) (*domain.Manifest, error) {
	return s.repo.Get(ctx, opID)
}

// Watch streams records written after the call that match filter. The
// channel closes when ctx is done.
func (s *HistoryService) Watch(ctx context.Context, filter ports.ManifestFilter) (<-chan *domain.Manifest, error) {
	watcher, ok := s.repo.(ports.ManifestWatcher)
	if !ok {
		return nil, domain.ErrWatchUnsupported
	}
	src, err := watcher.Watch(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.Manifest)
	go func() {
		defer close(out)
		for m := range src {
			if !filter.Match(m) {
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Stats aggregates the records matching filter.
func (s *HistoryService) Stats(ctx context.Context, filter ports.ManifestFilter) (*Stats, error) {
	st := &Stats{
		ByStatus:    make(map[domain.Status]int),
		ByMode:      make(map[domain.Mode]int),
		ByFamily:    make(map[domain.Family]int),
		ByErrorKind: make(map[domain.ErrorKind]int),
	}
	err := s.each(ctx, filter, func(m *domain.Manifest) {
		st.Total++
		st.ByStatus[m.Status]++
		st.ByMode[m.Mode]++
		if m.Detection != nil {
			st.ByFamily[m.Detection.Family]++
		}
		if m.ErrorKind != domain.KindNone {
			st.ByErrorKind[m.ErrorKind]++
		}
		if m.Artifact != nil {
			st.TotalBytes += m.Artifact.SizeBytes
		}
		started := m.StartedAt
		if st.First == nil || started.Before(*st.First) {
			st.First = &started
		}
		if st.Last == nil || started.After(*st.Last) {
			st.Last = &started
		}
	}, func(SkippedRecord) {
		st.Skipped++
	})
	if err != nil {
		return nil, err
	}
	if st.Total > 0 {
		ok := st.ByStatus[domain.StatusSuccess] + st.ByStatus[domain.StatusPartialSuccess]
		st.SuccessRate = float64(ok) / float64(st.Total)
	}
	return st, nil
}

func (s *HistoryService) each(ctx context.Context, filter ports.ManifestFilter, onRecord func(*domain.Manifest), onSkip func(SkippedRecord)) error {
	for m, err := range s.repo.List(ctx, filter) {
		if err != nil {
			var corrupt *domain.CorruptManifestError
			if errors.As(err, &corrupt) {
				onSkip(SkippedRecord{Source: corrupt.Source, Error: corrupt.Err.Error()})
				continue
			}
			return err
		}
		onRecord(m)
	}
	return nil
}
