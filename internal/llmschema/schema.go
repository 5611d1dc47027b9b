package llmschema

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"legal-rag/internal/models"

	"gopkg.in/yaml.v3"
)

var (
	ratioRe  = regexp.MustCompile(`(\d*\.?\d+)\s*/\s*(\d*\.?\d+)`)
	numberRe = regexp.MustCompile(`[-+]?\d*\.?\d+`)
)

// ParseClassification reads a document category from a classification reply.
// The boolean is false when no known category was named, in which case the
// default type is returned.
func ParseClassification(raw string) (models.DocumentType, bool) {
	var reply struct {
		DocumentType string `yaml:"document_type"`
		Type         string `yaml:"type"`
		Category     string `yaml:"category"`
	}
	if err := Decode(raw, &reply); err == nil {
		for _, v := range []string{reply.DocumentType, reply.Type, reply.Category} {
			if v != "" {
				return models.ParseDocumentType(v)
			}
		}
	}

	sections := Sections(raw, "DOCUMENT_TYPE", "CATEGORY")
	for _, label := range []string{"DOCUMENT_TYPE", "CATEGORY"} {
		if v, ok := sections[label]; ok {
			return models.ParseDocumentType(firstLine(v))
		}
	}

	return models.ParseDocumentType(firstLine(Clean(raw)))
}

// Facts are the parties and issues named in a document
type Facts struct {
	Parties []string
	Issues  []string
}

// ParseFacts reads parties and issues from an extraction reply. Missing lists
// are empty, the boolean reports whether either list was present.
func ParseFacts(raw string) (Facts, bool) {
	facts := Facts{Parties: []string{}, Issues: []string{}}

	var reply struct {
		Parties *StringList `yaml:"parties"`
		Issues  *StringList `yaml:"issues"`
	}
	if err := Decode(raw, &reply); err == nil && (reply.Parties != nil || reply.Issues != nil) {
		if reply.Parties != nil {
			facts.Parties = nonNil(*reply.Parties)
		}
		if reply.Issues != nil {
			facts.Issues = nonNil(*reply.Issues)
		}
		return facts, true
	}

	sections := Sections(raw, "PARTIES", "ISSUES")
	if v, ok := sections["PARTIES"]; ok {
		facts.Parties = SplitList(v)
	}
	if v, ok := sections["ISSUES"]; ok {
		facts.Issues = SplitList(v)
	}
	return facts, len(sections) > 0
}

// Evaluation is the self-assessment of a generated response
type Evaluation struct {
	Confidence float64
	Reasoning  string
	KeyPoints  []string
}

// DefaultEvaluation is used when a reply carries nothing usable
func DefaultEvaluation() Evaluation {
	return Evaluation{
		Confidence: models.DefaultConfidence,
		Reasoning:  models.DefaultReasoning,
		KeyPoints:  []string{},
	}
}

type score struct {
	value float64
	ok    bool
}

func (s *score) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.value, s.ok = ParseConfidence(value.Value)
	}
	return nil
}

// ParseEvaluation reads confidence, reasoning and key points from an
// evaluation reply, filling defaults for anything missing or invalid.
func ParseEvaluation(raw string) Evaluation {
	eval := DefaultEvaluation()

	var reply struct {
		Confidence *score      `yaml:"confidence"`
		Reasoning  *string     `yaml:"reasoning"`
		KeyPoints  *StringList `yaml:"key_points"`
	}
	if err := Decode(raw, &reply); err == nil && (reply.Confidence != nil || reply.Reasoning != nil || reply.KeyPoints != nil) {
		if reply.Confidence != nil && reply.Confidence.ok {
			eval.Confidence = reply.Confidence.value
		}
		if reply.Reasoning != nil && strings.TrimSpace(*reply.Reasoning) != "" {
			eval.Reasoning = strings.TrimSpace(*reply.Reasoning)
		}
		if reply.KeyPoints != nil {
			eval.KeyPoints = nonNil(*reply.KeyPoints)
		}
		return eval
	}

	sections := Sections(raw, "CONFIDENCE", "REASONING", "KEY_POINTS")
	if v, ok := sections["CONFIDENCE"]; ok {
		if c, ok := ParseConfidence(v); ok {
			eval.Confidence = c
		}
	}
	if v := sections["REASONING"]; v != "" {
		eval.Reasoning = v
	}
	if v, ok := sections["KEY_POINTS"]; ok {
		eval.KeyPoints = SplitList(v)
	}
	return eval
}

// ParseConfidence reads a score in [0,1]. Percentages and values in (1,100]
// are scaled down, ratios like "8/10" are divided out. Anything else is rejected.
func ParseConfidence(s string) (float64, bool) {
	s = strings.TrimSpace(s)

	var v float64
	if m := ratioRe.FindStringSubmatch(s); m != nil {
		num, err1 := strconv.ParseFloat(m[1], 64)
		den, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil || den == 0 {
			return 0, false
		}
		v = num / den
	} else {
		m := numberRe.FindString(s)
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		v = f
		if strings.Contains(s, "%") || (v > 1 && v <= 100) {
			v /= 100
		}
	}

	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

func nonNil(l StringList) []string {
	if l == nil {
		return []string{}
	}
	return []string(l)
}
