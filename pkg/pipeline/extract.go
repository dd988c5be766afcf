package pipeline

import (
	"strings"

	"github.com/aretw0/tether/pkg/domain"
	"gopkg.in/yaml.v3"
)

// strippedChars are removed from every candidate line before it is parsed.
const strippedChars = "@#$%\"',.!?[]{}()=+-*/&^~`"

var species = map[string]bool{"human": true, "mouse": true}

// extractable reports whether the model may set key. Run bookkeeping keys are
// stamped by the system and never taken from a reply.
func extractable(key string) bool {
	switch key {
	case domain.KeyJobID, domain.KeyCreateDate, domain.KeyKeywordTopics:
		return false
	}
	return domain.IsTaskKey(key)
}

// ExtractArgs scans a model reply for "key: value" lines and writes each new
// value into args. Keys that are already set keep their value. Lines that do
// not parse are skipped. It reports whether any key was written.
func ExtractArgs(reply string, args domain.Args) bool {
	changed := false
	for _, line := range strings.Split(reply, "\n") {
		if !strings.Contains(line, ":") {
			continue
		}
		line = strings.Map(func(r rune) rune {
			if strings.ContainsRune(strippedChars, r) {
				return -1
			}
			return r
		}, strings.TrimLeft(line, " \t"))

		for key, value := range scalarPairs(line) {
			if !extractable(key) || value == "" || value == "None" {
				continue
			}
			if key == domain.KeySequencingSpecies && !species[strings.ToLower(value)] {
				continue
			}
			if args.Set(key, value) {
				changed = true
			}
		}
	}
	return changed
}

// scalarPairs parses line as a YAML mapping and returns each scalar value as
// written, so "0012" or "1e3" are not reinterpreted as numbers. Null values
// and non-scalar values are left out.
func scalarPairs(line string) map[string]string {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(line), &doc); err != nil || len(doc.Content) == 0 {
		return nil
	}
	m := doc.Content[0]
	if m.Kind != yaml.MappingNode {
		return nil
	}
	pairs := make(map[string]string, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		k, v := m.Content[i], m.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode || v.Tag == "!!null" {
			continue
		}
		pairs[k.Value] = strings.TrimSpace(v.Value)
	}
	return pairs
}
