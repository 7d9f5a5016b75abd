package ports

import "model-uploader/internal/core/domain"

// ModuleLoader opens a checkpoint and reports the classes it references.
type ModuleLoader interface {
	Load(path string) (*domain.ModuleGraph, error)
}

// EventLog records structured events, one per line.
type EventLog interface {
	Info(event string, fields map[string]any)
	Warn(event string, fields map[string]any)
	Error(event string, fields map[string]any)
}
