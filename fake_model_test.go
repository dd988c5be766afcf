package tether_test

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const fullTask = `project_name: STING_UNLOCK
batch_id: B17
sequencing_type: WGS
pipeline_name: wgs-basic
sequencing_species: human
analysis_mode: full
data_source_type: local
working_dir: None`

// deskModel routes anything mentioning a project to the pipeline and answers
// the formatter prompt with a complete task.
type deskModel struct{}

func (deskModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	system := ""
	if len(input) > 0 && input[0].Role == schema.System {
		system = input[0].Content
	}
	last := input[len(input)-1].Content
	switch {
	case strings.Contains(system, "extract the parameters"):
		return schema.AssistantMessage(fullTask, nil), nil
	case strings.Contains(last, "keep working on"):
		return schema.AssistantMessage("Keep working on the pipeline?", nil), nil
	case strings.Contains(last, "project"):
		return schema.AssistantMessage("pipeline", nil), nil
	case strings.Contains(last, "symptom"):
		return schema.AssistantMessage("medical", nil), nil
	}
	return schema.AssistantMessage("Hello! How can I help?", nil), nil
}

func (m deskModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
