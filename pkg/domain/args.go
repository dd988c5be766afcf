package domain

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Task argument keys.
const (
	KeyJobID             = "job_id"
	KeyProjectName       = "project_name"
	KeyCreateDate        = "create_date"
	KeyBatchID           = "batch_id"
	KeyWorkingDir        = "working_dir"
	KeySequencingType    = "sequencing_type"
	KeyPipelineType      = "pipeline_type"
	KeyPipelineName      = "pipeline_name"
	KeySequencingSpecies = "sequencing_species"
	KeyAnalysisMode      = "analysis_mode"
	KeyDataSourceType    = "data_source_type"
	KeyKeywordTopics     = "keyword_topics"
)

// TaskKeys is the allow-list of argument keys a pipeline task carries.
var TaskKeys = []string{
	KeyJobID,
	KeyProjectName,
	KeyCreateDate,
	KeyBatchID,
	KeyWorkingDir,
	KeySequencingType,
	KeyPipelineType,
	KeyPipelineName,
	KeySequencingSpecies,
	KeyAnalysisMode,
	KeyDataSourceType,
	KeyKeywordTopics,
}

// requiredKeys are asked for, in this order, while collecting a new task.
var requiredKeys = []string{
	KeyProjectName,
	KeySequencingType,
	KeyPipelineName,
	KeySequencingSpecies,
	KeyAnalysisMode,
	KeyDataSourceType,
	KeyBatchID,
}

// IsTaskKey reports whether key is one of TaskKeys.
func IsTaskKey(key string) bool {
	for _, k := range TaskKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Args maps task argument keys to values. Absent keys are unset.
// A key, once set, keeps its value until Clear.
type Args map[string]string

// Set writes value under key only if the key is unset. It reports whether it wrote.
func (a Args) Set(key, value string) bool {
	if value == "" {
		return false
	}
	if _, ok := a[key]; ok {
		return false
	}
	a[key] = value
	return true
}

// Get returns the value of key and whether it is set.
func (a Args) Get(key string) (string, bool) {
	v, ok := a[key]
	return v, ok
}

// SetTopic records the key the user was last asked for. Unlike Set it overwrites.
func (a Args) SetTopic(key string) {
	a[KeyKeywordTopics] = key
}

// Clear unsets every key.
func (a Args) Clear() {
	for k := range a {
		delete(a, k)
	}
}

// Missing returns the required keys that are still unset, in asking order.
func (a Args) Missing() []string {
	var out []string
	for _, k := range requiredKeys {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Clone returns an independent copy.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// TaskArgs is the typed view of Args.
type TaskArgs struct {
	JobID             string `mapstructure:"job_id" json:"job_id,omitempty"`
	ProjectName       string `mapstructure:"project_name" json:"project_name,omitempty"`
	CreateDate        string `mapstructure:"create_date" json:"create_date,omitempty"`
	BatchID           string `mapstructure:"batch_id" json:"batch_id,omitempty"`
	WorkingDir        string `mapstructure:"working_dir" json:"working_dir,omitempty"`
	SequencingType    string `mapstructure:"sequencing_type" json:"sequencing_type,omitempty"`
	PipelineType      string `mapstructure:"pipeline_type" json:"pipeline_type,omitempty"`
	PipelineName      string `mapstructure:"pipeline_name" json:"pipeline_name,omitempty"`
	SequencingSpecies string `mapstructure:"sequencing_species" json:"sequencing_species,omitempty"`
	AnalysisMode      string `mapstructure:"analysis_mode" json:"analysis_mode,omitempty"`
	DataSourceType    string `mapstructure:"data_source_type" json:"data_source_type,omitempty"`
	KeywordTopics     string `mapstructure:"keyword_topics" json:"keyword_topics,omitempty"`
}

// Typed decodes the arguments into TaskArgs.
func (a Args) Typed() (TaskArgs, error) {
	var out TaskArgs
	if err := mapstructure.Decode(map[string]string(a), &out); err != nil {
		return TaskArgs{}, fmt.Errorf("failed to decode task args: %w", err)
	}
	return out, nil
}

// StageArgs is the per-stage argument record of a pipeline task.
type StageArgs struct {
	Do   *bool          `json:"do,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// PipelineTaskState is the state of the pipeline supervisor.
type PipelineTaskState struct {
	ConversationState
	Username string              `json:"username,omitempty"`
	Email    string              `json:"email,omitempty"`
	Args     Args                `json:"args"`
	Stages   map[Stage]StageArgs `json:"stages,omitempty"`
	Current  Stage               `json:"current,omitempty"`
}

// NewPipelineTaskState returns a task with empty arguments and one record per stage.
func NewPipelineTaskState() PipelineTaskState {
	st := PipelineTaskState{
		Args:   make(Args),
		Stages: make(map[Stage]StageArgs, len(Stages)),
	}
	for _, s := range Stages {
		st.Stages[s] = StageArgs{}
	}
	return st
}

// ShouldExecute reports whether the stage is enabled; a missing "do" flag means yes.
func (s PipelineTaskState) ShouldExecute(stage Stage) bool {
	rec, ok := s.Stages[stage]
	if !ok || rec.Do == nil {
		return true
	}
	return *rec.Do
}

// Fork returns an update carrying the current scalars and an empty message delta.
func (s PipelineTaskState) Fork() PipelineTaskState {
	s.Messages = nil
	return s
}

// MergePipelineTask is the reducer of PipelineTaskState.
// Arguments merge first-write-wins so a node can never overwrite a set key.
func MergePipelineTask(prev, update PipelineTaskState) PipelineTaskState {
	out := update
	out.ConversationState = MergeConversation(prev.ConversationState, update.ConversationState)
	out.Args = prev.Args.Clone()
	for k, v := range update.Args {
		out.Args.Set(k, v)
	}
	if out.Stages == nil {
		out.Stages = prev.Stages
	}
	return out
}
