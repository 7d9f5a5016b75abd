package services

import (
	"sort"
	"strconv"
	"strings"

	"model-uploader/internal/core/domain"
)

// VersionResolver picks the target version for a deployment.
type VersionResolver struct{}

func NewVersionResolver() *VersionResolver {
	return &VersionResolver{}
}

// Resolve applies strategy to versions. Auto picks the newest version with no
// trained model. Manual returns the named version even if it is trained;
// the caller is responsible for confirming that overwrite.
func (r *VersionResolver) Resolve(versions []domain.Version, strategy domain.Strategy) (domain.Version, error) {
	switch strategy.Mode {
	case domain.StrategyManual:
		for _, v := range versions {
			if v.ID == strategy.VersionID || versionNumber(v.ID) == strategy.VersionID {
				return v, nil
			}
		}
		return domain.Version{}, domain.ErrVersionNotFound
	case domain.StrategyAuto, "":
		for _, v := range SortNewestFirst(versions) {
			if !v.Trained {
				return v, nil
			}
		}
		return domain.Version{}, domain.ErrNoUntrainedVersion
	default:
		return domain.Version{}, domain.ErrInvalidStrategy
	}
}

// SortNewestFirst returns a copy of versions ordered newest first.
func SortNewestFirst(versions []domain.Version) []domain.Version {
	sorted := make([]domain.Version, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return versionLess(sorted[j].ID, sorted[i].ID)
	})
	return sorted
}

// versionLess orders ids numerically when both are integers and
// lexicographically when neither is. Numbered ids sort after named ones.
func versionLess(a, b string) bool {
	na, errA := strconv.Atoi(versionNumber(a))
	nb, errB := strconv.Atoi(versionNumber(b))
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return false
	case errB == nil:
		return true
	}
	return a < b
}

// versionNumber strips the "workspace/project/" prefix the remote service
// puts on version ids.
func versionNumber(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}
