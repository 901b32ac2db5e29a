// Package syllabus parses course syllabus documents into a structured model:
// subject identification, per-unit topic lists and a rough format
// classification. Parsing is layered: structured tables are preferred, a
// heading-driven text scan covers table-less documents, and a catch-all
// topic list guarantees a usable result for anything readable.
package syllabus

import (
	"strings"
)

// Format classifies how detailed the syllabus topics are. The answer
// generator uses it to calibrate expected answer depth.
type Format string

const (
	// FormatShort marks terse keyword-style topics.
	FormatShort Format = "short"
	// FormatMedium marks phrase-level topics.
	FormatMedium Format = "medium"
	// FormatLong marks paragraph-style topic descriptions.
	FormatLong Format = "long"
)

// Format inference thresholds on the average topic length in characters.
const (
	longTopicAvg   = 100
	mediumTopicAvg = 40
)

// Unit is one syllabus unit with its topic list.
type Unit struct {
	// Name is the composed display label, e.g. "Unit 1: Automata".
	Name string `json:"name"`
	// Number is the unit's label as written ("1", "IV", ...).
	Number string `json:"number"`
	// Title is the unit heading. Defaults to "Unit N" when the source has
	// no title column.
	Title string `json:"title"`
	// Topics are the unit's individual topics.
	Topics []string `json:"topics"`
	// Format classifies this unit's topic verbosity.
	Format Format `json:"format"`
}

// newUnit composes a Unit: the name joins number and title, and the format
// is inferred from the unit's own topics.
func newUnit(number, title string, topics []string) Unit {
	name := "Unit " + number
	if title != "" {
		name += ": " + title
	} else {
		title = name
	}
	return Unit{
		Name:   name,
		Number: number,
		Title:  title,
		Topics: topics,
		Format: inferFormat(topics),
	}
}

// Syllabus is the parsed course syllabus.
type Syllabus struct {
	// Subject is the course label, e.g. "IC-812 Theory of Computation".
	// Never empty: extraction falls back to "Unknown Subject".
	Subject string `json:"subject"`
	// Units holds the parsed units in document order.
	Units []Unit `json:"units"`
}

// Topics returns every topic across all units.
func (s *Syllabus) Topics() []string {
	var out []string
	for _, u := range s.Units {
		out = append(out, u.Topics...)
	}
	return out
}

// MatchTopic finds the unit topic sharing the most keywords with the
// question, returning it prefixed with the unit title for context. Returns
// the empty string when nothing overlaps.
func (s *Syllabus) MatchTopic(question string) string {
	qk := tokens(question)
	if len(qk) == 0 {
		return ""
	}

	best := ""
	bestScore := 0
	for _, u := range s.Units {
		for _, topic := range u.Topics {
			score := 0
			tk := tokens(topic)
			for k := range qk {
				if _, ok := tk[k]; ok {
					score++
				}
			}
			if score > bestScore {
				bestScore = score
				if u.Title != "" {
					best = u.Title + ": " + topic
				} else {
					best = topic
				}
			}
		}
	}
	return best
}

// tokens extracts lowercase alphabetic words of three or more characters.
func tokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r < 'a' || r > 'z'
	}) {
		if len(tok) >= 3 {
			out[tok] = struct{}{}
		}
	}
	return out
}

// inferFormat classifies one unit's topic verbosity by average topic length.
func inferFormat(topics []string) Format {
	total := 0
	for _, t := range topics {
		total += len(t)
	}
	if len(topics) == 0 {
		return FormatShort
	}
	avg := total / len(topics)
	switch {
	case avg > longTopicAvg:
		return FormatLong
	case avg > mediumTopicAvg:
		return FormatMedium
	default:
		return FormatShort
	}
}
