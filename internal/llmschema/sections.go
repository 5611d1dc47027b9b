package llmschema

import (
	"regexp"
	"sort"
	"strings"
)

var (
	bulletRe = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s+`)
	emptyish = map[string]bool{"none": true, "n/a": true, "na": true, "null": true, "[]": true}
)

type marker struct {
	label      string
	start, end int
}

// Sections scans raw for "LABEL:" markers and returns the text following each
// label up to the next marker or the end of the reply. Labels are matched
// case-insensitively and underscores match spaces. Missing labels are absent
// from the result.
func Sections(raw string, labels ...string) map[string]string {
	s := strings.ReplaceAll(Clean(raw), "**", "")

	var found []marker
	for _, label := range labels {
		pattern := `(?:^|[^A-Za-z_])(` + strings.ReplaceAll(regexp.QuoteMeta(label), "_", "[ _]") + `)\s*:`
		// exact case wins over a lowercase mention earlier in the reply
		loc := regexp.MustCompile(pattern).FindStringSubmatchIndex(s)
		if loc == nil {
			loc = regexp.MustCompile(`(?i)` + pattern).FindStringSubmatchIndex(s)
		}
		if loc == nil {
			continue
		}
		found = append(found, marker{label: label, start: loc[2], end: loc[1]})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })

	out := make(map[string]string, len(found))
	for i, m := range found {
		stop := len(s)
		if i+1 < len(found) {
			stop = found[i+1].start
		}
		out[m.label] = strings.TrimSpace(s[m.end:stop])
	}
	return out
}

// SplitList splits a model-written list. Multi-line text is read one item per
// line with bullets removed, a single line is split on commas or semicolons.
func SplitList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	var parts []string
	if strings.Contains(s, "\n") {
		parts = strings.Split(s, "\n")
	} else {
		parts = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	}

	out := []string{}
	for _, p := range parts {
		if item := cleanItem(p); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func cleanItem(s string) string {
	s = strings.TrimSpace(s)
	s = bulletRe.ReplaceAllString(s, "")
	s = strings.Trim(s, " \t\"'`")
	if emptyish[strings.ToLower(s)] {
		return ""
	}
	return s
}
