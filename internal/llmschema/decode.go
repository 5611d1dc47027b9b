// Package llmschema turns free-form model replies into validated values.
//
// Each call site asks the model for a small JSON object. Replies are decoded
// structurally first; when that fails the labeled-section format
// ("CONFIDENCE: ...") is scanned as a repair step. Whatever is still missing
// gets the documented default.
package llmschema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"legal-rag/internal/models"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoObject = errors.New("no structured object in reply")

	thinkRe = regexp.MustCompile(models.ThinkTag)
	fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)```")
)

// Clean removes reasoning blocks and markdown code fences from a reply
func Clean(raw string) string {
	s := thinkRe.ReplaceAllString(raw, "")
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimSpace(s)
}

// Decode reads the first JSON or YAML mapping in raw into v.
// Keys are matched case-insensitively, spaces and dashes count as underscores.
func Decode(raw string, v any) error {
	s := Clean(raw)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}

	var obj map[string]any
	if err := yaml.Unmarshal([]byte(s), &obj); err != nil {
		return fmt.Errorf("failed to parse reply: %w", err)
	}
	if len(obj) == 0 {
		return ErrNoObject
	}

	normalized := make(map[string]any, len(obj))
	for k, val := range obj {
		normalized[normalizeKey(k)] = val
	}
	b, err := yaml.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("failed to re-encode reply: %w", err)
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to decode reply: %w", err)
	}
	return nil
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

// StringList accepts either a sequence or a delimited scalar
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, n := range value.Content {
			if n.Kind != yaml.ScalarNode {
				continue
			}
			if item := cleanItem(n.Value); item != "" {
				out = append(out, item)
			}
		}
		*l = out
	case yaml.ScalarNode:
		*l = SplitList(value.Value)
	default:
		return fmt.Errorf("expected list, got yaml kind %d", value.Kind)
	}
	return nil
}
