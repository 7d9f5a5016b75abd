package domain

import (
	"strings"
)

// Workspace is a remote workspace visible to the API key.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project is a remote project inside a workspace.
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Workspace string `json:"workspace"`
}

// Version is a remote dataset version. It is read-only from this service's
// point of view.
type Version struct {
	ID      string `json:"id"`
	Project string `json:"project"`
	Name    string `json:"name,omitempty"`
	Trained bool   `json:"trained"`
}

// ============================================================================
// Strategy
// ============================================================================

type StrategyMode string

const (
	StrategyAuto   StrategyMode = "auto"
	StrategyManual StrategyMode = "manual"
)

// Strategy selects the target version of a deployment.
type Strategy struct {
	Mode      StrategyMode
	VersionID string
}

// AutoStrategy targets the newest version without a trained model.
func AutoStrategy() Strategy {
	return Strategy{Mode: StrategyAuto}
}

// ManualStrategy targets versionID as given.
func ManualStrategy(versionID string) Strategy {
	return Strategy{Mode: StrategyManual, VersionID: versionID}
}

// ParseStrategy parses "auto" or "manual:<version_id>".
func ParseStrategy(s string) (Strategy, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, string(StrategyAuto)) {
		return AutoStrategy(), nil
	}
	mode, id, found := strings.Cut(s, ":")
	if !found || !strings.EqualFold(mode, string(StrategyManual)) {
		return Strategy{}, ErrInvalidStrategy
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Strategy{}, ErrInvalidStrategy
	}
	return ManualStrategy(id), nil
}

func (s Strategy) String() string {
	if s.Mode == StrategyManual {
		return string(StrategyManual) + ":" + s.VersionID
	}
	return string(StrategyAuto)
}
