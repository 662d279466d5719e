package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunContext is the mutable state of one orchestrator.
type RunContext struct {
	WorkingDirectory string
	CurrentBranch    string
	Log              *ResultLog
}

// NewRunContext returns a context positioned on the default branch with an
// empty result log.
func NewRunContext(workingDirectory string) *RunContext {
	return &RunContext{
		WorkingDirectory: workingDirectory,
		CurrentBranch:    DefaultBranch,
		Log:              NewResultLog(),
	}
}

// HostInfo identifies the machine a run executed on.
type HostInfo struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
	CPUs     int    `json:"cpus"`
	MemoryMB uint64 `json:"memory_mb"`
}

func (h *HostInfo) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, h)
}

func (h HostInfo) Value() (driver.Value, error) {
	return json.Marshal(h)
}

// RunStatus is the aggregated status of a run.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunMetadata is what the orchestrator hands to notifiers and recorders once
// a run is over.
type RunMetadata struct {
	RunID       uuid.UUID        `json:"run_id"`
	Project     string           `json:"project"`
	Environment string           `json:"env_name"`
	Branch      string           `json:"current_branch"`
	Outcomes    []CommandOutcome `json:"results"`
	Host        HostInfo         `json:"host"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Error       string           `json:"error,omitempty"`
}

// Status is "failed" if the run ended with an error or any outcome has a
// non-zero exit code.
func (m RunMetadata) Status() RunStatus {
	if m.Error != "" || AnyFailed(m.Outcomes) {
		return RunFailed
	}
	return RunSuccess
}

// RunRecord is the persisted form of a finished run.
type RunRecord struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	Project     string          `json:"project" gorm:"not null;index:idx_run_target"`
	Environment string          `json:"env_name" gorm:"not null;index:idx_run_target"`
	Branch      string          `json:"branch"`
	Status      RunStatus       `json:"status" gorm:"type:varchar(20);not null"`
	Error       string          `json:"error,omitempty"`
	Host        HostInfo        `json:"host" gorm:"type:jsonb"`
	StartedAt   time.Time       `json:"started_at" gorm:"index"`
	FinishedAt  time.Time       `json:"finished_at"`
	Outcomes    []OutcomeRecord `json:"outcomes" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (r *RunRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

// OutcomeRecord is the persisted form of a CommandOutcome.
type OutcomeRecord struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	RunID      uuid.UUID `json:"run_id" gorm:"type:uuid;not null;index"`
	Seq        int       `json:"seq"`
	Label      string    `json:"label"`
	Invocation string    `json:"invocation"`
	Branch     string    `json:"branch"`
	ExitCode   int       `json:"exit_code"`
	Trials     int       `json:"trials"`
	DurationMS int64     `json:"duration_ms"`
	Stdout     string    `json:"stdout" gorm:"type:text"`
	Stderr     string    `json:"stderr" gorm:"type:text"`
}

// NewRunRecord converts run metadata into its persisted form.
func NewRunRecord(meta RunMetadata) *RunRecord {
	rec := &RunRecord{
		ID:          meta.RunID,
		Project:     meta.Project,
		Environment: meta.Environment,
		Branch:      meta.Branch,
		Status:      meta.Status(),
		Error:       meta.Error,
		Host:        meta.Host,
		StartedAt:   meta.StartedAt,
		FinishedAt:  meta.FinishedAt,
	}
	for i, o := range meta.Outcomes {
		rec.Outcomes = append(rec.Outcomes, OutcomeRecord{
			RunID:      meta.RunID,
			Seq:        i,
			Label:      o.Label,
			Invocation: o.Invocation,
			Branch:     o.Branch,
			ExitCode:   o.ExitCode,
			Trials:     o.Trials,
			DurationMS: o.Duration.Milliseconds(),
			Stdout:     o.Stdout,
			Stderr:     o.Stderr,
		})
	}
	return rec
}
