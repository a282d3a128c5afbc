package model

import "time"

// RunStatus represents the state of a sync run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Source describes one report to ingest.
type Source struct {
	Name     string `yaml:"name" mapstructure:"name" validate:"required"`
	Kind     Kind   `yaml:"kind" mapstructure:"kind" validate:"required,oneof=contracts forecast"`
	Ref      string `yaml:"ref" mapstructure:"ref" validate:"required"`
	Filename string `yaml:"filename" mapstructure:"filename"`
}

// ScratchName returns the local file name the report is downloaded to.
func (s Source) ScratchName() string {
	if s.Filename != "" {
		return s.Filename
	}
	return s.Name + ".xlsx"
}

// Run is one pipeline execution for a single source.
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Kind        Kind       `json:"kind"`
	Status      RunStatus  `json:"status"`
	Summary     Summary    `json:"summary"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
