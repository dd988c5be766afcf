package dialogue_test

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const confirmQuestion = "Do you want to keep working on your pipeline task?"

// fakeModel classifies by exact user message and answers topic-change prompts
// with a fixed question.
type fakeModel struct {
	mu       sync.Mutex
	classify map[string]string
	calls    int
	err      error
}

func newFakeModel(classify map[string]string) *fakeModel {
	return &fakeModel{classify: classify}
}

func (f *fakeModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	last := input[len(input)-1].Content
	if strings.Contains(last, "keep working on") {
		return schema.AssistantMessage(confirmQuestion, nil), nil
	}
	if reply, ok := f.classify[last]; ok {
		return schema.AssistantMessage(reply, nil), nil
	}
	return schema.AssistantMessage("I am here to help.", nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeModel) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
