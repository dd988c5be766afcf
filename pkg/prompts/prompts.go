// Package prompts resolves prompt templates by task and variant.
//
// Prompt sets are YAML (or JSON) documents. Each variant renders into an eino
// prompt.ChatTemplate made of an optional system message, few-shot examples,
// an optional chat history placeholder and the final user message.
package prompts

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"gopkg.in/yaml.v3"
)

// HistoryKey is the template variable that receives the message log
// of variants declaring history: true.
const HistoryKey = "history"

//go:embed default.yaml
var defaultSet []byte

// Example is one few-shot exchange.
type Example struct {
	User      string `yaml:"user" json:"user"`
	Assistant string `yaml:"assistant" json:"assistant"`
}

// Variant is one prompt of a task.
type Variant struct {
	System   string    `yaml:"system" json:"system"`
	Examples []Example `yaml:"examples" json:"examples"`
	History  bool      `yaml:"history" json:"history"`
	Message  string    `yaml:"message" json:"message"`
}

// Set is a loaded prompt document.
type Set struct {
	Tasks map[string]map[string]Variant `yaml:"tasks" json:"tasks"`
	Tips  map[string]map[string]string  `yaml:"tips" json:"tips"`
}

// Default returns the embedded prompt set.
func Default() *Set {
	set, err := Parse(defaultSet, ".yaml")
	if err != nil {
		panic(fmt.Sprintf("embedded prompt set is invalid: %v", err))
	}
	return set
}

// Load reads a prompt set from path, decoding JSON or YAML by extension.
// An empty path yields the embedded default set.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt set: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes a prompt set.
func Parse(data []byte, ext string) (*Set, error) {
	var set Set
	if strings.EqualFold(ext, ".json") {
		if err := json.Unmarshal(data, &set); err != nil {
			return nil, fmt.Errorf("failed to parse prompt set: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &set); err != nil {
			return nil, fmt.Errorf("failed to parse prompt set: %w", err)
		}
	}
	if len(set.Tasks) == 0 {
		return nil, fmt.Errorf("prompt set defines no tasks")
	}
	for task, variants := range set.Tasks {
		for name, v := range variants {
			if strings.TrimSpace(v.Message) == "" {
				return nil, fmt.Errorf("prompt %s/%s has no message", task, name)
			}
		}
	}
	return &set, nil
}

// Variant returns the raw variant of a task.
func (s *Set) Variant(task, variant string) (Variant, error) {
	v, ok := s.Tasks[task][variant]
	if !ok {
		return Variant{}, fmt.Errorf("prompt %s/%s not found", task, variant)
	}
	return v, nil
}

// Template resolves a task variant into a chat template.
func (s *Set) Template(task, variant string) (prompt.ChatTemplate, error) {
	v, err := s.Variant(task, variant)
	if err != nil {
		return nil, err
	}

	messages := make([]schema.MessagesTemplate, 0, 2+2*len(v.Examples))
	if v.System != "" {
		messages = append(messages, schema.SystemMessage(v.System))
	}
	for _, ex := range v.Examples {
		messages = append(messages,
			schema.UserMessage(ex.User),
			schema.AssistantMessage(ex.Assistant, nil),
		)
	}
	if v.History {
		messages = append(messages, schema.MessagesPlaceholder(HistoryKey, true))
	}
	messages = append(messages, schema.UserMessage(v.Message))

	return prompt.FromMessages(schema.FString, messages...), nil
}

// Text renders a tip of a task, replacing {name} placeholders from vars.
func (s *Set) Text(task, key string, vars map[string]string) (string, error) {
	text, ok := s.Tips[task][key]
	if !ok {
		return "", fmt.Errorf("tip %s/%s not found", task, key)
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text), nil
}

// Generate formats a task variant with vars and sends it to the chat model.
func (s *Set) Generate(ctx context.Context, m model.BaseChatModel, task, variant string, vars map[string]any) (*schema.Message, error) {
	tpl, err := s.Template(task, variant)
	if err != nil {
		return nil, err
	}
	input, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to format prompt %s/%s: %w", task, variant, err)
	}
	out, err := m.Generate(ctx, input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("model returned no message for %s/%s", task, variant)
	}
	return out, nil
}
