package domain

// Stage is one of the fixed phases of the analysis pipeline.
type Stage string

const (
	StageInit          Stage = "init"
	StageDownloading   Stage = "downloading"
	StageMD5Checking   Stage = "md5-checking"
	StageDataPreparing Stage = "data-preparing"
	StageAnalyzing     Stage = "analyzing"
	StageBackingUp     Stage = "backing-up"
	StageCleaningUp    Stage = "cleaning-up"
	StageNotify        Stage = "notify"
	StageCompleted     Stage = "completed"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StageInit,
	StageDownloading,
	StageMD5Checking,
	StageDataPreparing,
	StageAnalyzing,
	StageBackingUp,
	StageCleaningUp,
	StageNotify,
	StageCompleted,
}

// StageStatus names a node of the stage supervisor machine.
type StageStatus string

const (
	StatusInit              StageStatus = "init"
	StatusRunning           StageStatus = "running"
	StatusCompleted         StageStatus = "completed"
	StatusFailed            StageStatus = "failed"
	StatusAutoResume        StageStatus = "auto-resume"
	StatusHumanIntervention StageStatus = "human-intervention"
)

// StageOutcome is the classification of one execution of a stage.
// Only StatusCompleted, StatusFailed and StatusHumanIntervention are valid outcomes.
type StageOutcome = StageStatus

// StageState is scoped to one stage supervisor run.
type StageState struct {
	RunID    string     `json:"run_id"`
	Stage    Stage      `json:"stage"`
	Messages []*Message `json:"messages"`
	Execute  bool       `json:"execute"`
	// Args are the task arguments, StageArgs the stage's own argument record.
	Args          Args           `json:"args,omitempty"`
	StageArgs     map[string]any `json:"stage_args,omitempty"`
	ResumeCount   int            `json:"resume_count"`
	Failures      int            `json:"failures"`
	Interventions int            `json:"interventions"`
	Outcome       StageStatus    `json:"outcome,omitempty"`
}

// Fork returns an update carrying the current scalars and an empty message delta.
func (s StageState) Fork() StageState {
	s.Messages = nil
	return s
}

// MergeStage is the reducer of StageState.
func MergeStage(prev, update StageState) StageState {
	out := update
	out.Messages = appendMessages(prev.Messages, update.Messages)
	return out
}

// Intervention is the value a stage suspends with when it needs a human.
type Intervention struct {
	Stage         Stage  `json:"stage"`
	Failures      int    `json:"failures"`
	Interventions int    `json:"interventions"`
	Message       string `json:"message"`
}
