package pipeline

import "time"

type ExecStatus string

const (
	ExecRunning ExecStatus = "RUNNING"
	ExecSuccess ExecStatus = "SUCCESS"
	ExecFailed  ExecStatus = "FAILED"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerManual   Trigger = "MANUAL"
	TriggerSchedule Trigger = "SCHEDULE"
)

// ProgressEntry is one timestamped line in an execution's progress log.
type ProgressEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Execution is the audit record of one orchestrator run against a work
// item. At most one RUNNING execution may exist per work item. Finalized
// executions are never mutated again.
type Execution struct {
	ID         string `gorm:"primaryKey;size:26"`
	WorkItemID string `gorm:"size:26;index;not null"`

	Status  ExecStatus `gorm:"type:varchar(10);index;not null"`
	Stage   Stage      `gorm:"type:varchar(10)"`
	Trigger Trigger    `gorm:"type:varchar(10);not null"`

	Progress int             `gorm:"not null;default:0"` // percent complete
	Entries  []ProgressEntry `gorm:"type:text;serializer:json"`

	Error       *string `gorm:"type:text"`
	FailedStage *Stage  `gorm:"type:varchar(10)"`

	StartedAt   time.Time
	HeartbeatAt time.Time `gorm:"index"`
	CompletedAt *time.Time
	DurationMs  *int64
}

func (Execution) TableName() string { return "executions" }
