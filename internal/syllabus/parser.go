package syllabus

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/studyrag/studyrag-go/internal/extract"
)

// ErrNoContent is returned when the document yields no text at all.
var ErrNoContent = errors.New("syllabus: document has no readable text")

// generalTopicsCap bounds the catch-all topic list when no structure is found.
const generalTopicsCap = 50

// subjectMaxLen caps the extracted subject label.
const subjectMaxLen = 100

// unknownSubject is the sentinel when no label can be extracted at all.
const unknownSubject = "Unknown Subject"

// codeWithName captures a course code followed by its title, the preferred
// "IC-812 Theory of Computation" form. The first two variants carry a code
// plus trailing name; the last catches a bare code.
var codeWithName = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z]{2,4}\s?-\s?\d{3,4}[A-Z]?)\b[\s:–-]*([A-Za-z][A-Za-z0-9 ,&()/-]{2,79})`),
	regexp.MustCompile(`\b([A-Z]{2,4}\d{3,4}[A-Z]?)\b[\s:–-]*([A-Za-z][A-Za-z0-9 ,&()/-]{2,79})`),
}

// subjectLabels are the alternative labelled forms, tried when no
// code-with-name match exists. code marks captures that need hyphen
// normalization.
var subjectLabels = []struct {
	re   *regexp.Regexp
	code bool
}{
	{regexp.MustCompile(`(?i)(?:subject|course)\s*code\s*[:–-]?\s*([A-Za-z]{2,4}\s?-?\s?\d{3,4}[A-Za-z]?)`), true},
	{regexp.MustCompile(`(?i)(?:subject\s*name|course\s*(?:name|title))\s*[:–-]?\s*([A-Za-z][A-Za-z ,&-]{3,79})`), false},
	{regexp.MustCompile(`\b([A-Z]{2,4}\s?-\s?\d{3,4}[A-Z]?)\b`), true},
}

// unitHeading matches text-scan unit headings like "Unit 1:", "UNIT-IV" or
// "Module 2 -".
var unitHeading = regexp.MustCompile(`(?i)^\s*(?:unit|module)\s*[-: ]\s*([0-9]+|[IVXivx]+)\s*[:.\-–]?\s*(.*)$`)

// enumMarker strips leading enumeration markers from topics: "1.", "(a)",
// "i)", bullets.
var enumMarker = regexp.MustCompile(`^\s*(?:\(?[0-9]{1,2}[.)\]]|\(?[a-hA-H][.)\]]|\(?[ivxIVX]{1,4}[.)\]]|[-•*·])\s*`)

// Column synonym sets for fuzzy table header matching.
var (
	unitSynonyms     = []string{"unit", "module", "no", "s.no", "sno", "sr"}
	titleSynonyms    = []string{"title", "name", "topic", "chapter", "heading"}
	contentsSynonyms = []string{"contents", "content", "syllabus", "description", "details", "topics", "subtopics"}
)

// Parser parses syllabus documents.
type Parser struct{}

// NewParser returns a new Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse builds a Syllabus from an extracted document. Tables are tried
// first; documents without a usable table fall back to a text scan for unit
// headings, and finally to a flat "General Topics" unit so any readable
// document produces a result.
func (p *Parser) Parse(doc *extract.Document) (*Syllabus, error) {
	text := doc.Text()
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoContent
	}

	s := &Syllabus{Subject: findSubject(text)}

	s.Units = parseTables(doc.Tables)
	if len(s.Units) == 0 {
		s.Units = scanText(text)
	}
	if len(s.Units) == 0 {
		s.Units = generalTopics(text)
	}

	return s, nil
}

// findSubject extracts the course label from the leading portion of the
// text. The chain: code-with-name forms, then labelled code/name lines,
// then a bare code, then the first meaningful non-heading line, and finally
// the "Unknown Subject" sentinel.
func findSubject(text string) string {
	// Only the head of the document is relevant; codes cited later are
	// usually cross-references.
	head := text
	if len(head) > 2000 {
		head = head[:2000]
	}

	for _, re := range codeWithName {
		if m := re.FindStringSubmatch(head); m != nil {
			label := normalizeCode(m[1])
			if name := cleanSubjectName(m[2]); name != "" {
				label += " " + name
			}
			return clipLabel(label)
		}
	}

	for _, p := range subjectLabels {
		m := p.re.FindStringSubmatch(head)
		if m == nil {
			continue
		}
		label := strings.TrimSpace(m[1])
		if p.code {
			label = normalizeCode(label)
		}
		return clipLabel(label)
	}

	// First meaningful line, skipping unit headings. Many syllabi open with
	// a plain title line instead of a coded one.
	lines := strings.Split(head, "\n")
	if len(lines) > 10 {
		lines = lines[:10]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if len(line) <= 5 ||
			strings.HasPrefix(lower, "unit") ||
			strings.HasPrefix(lower, "module") ||
			strings.HasPrefix(lower, "chapter") {
			continue
		}
		return clipLabel(line)
	}

	return unknownSubject
}

// clipLabel bounds the subject label, cutting on a rune boundary.
func clipLabel(label string) string {
	if len(label) <= subjectMaxLen {
		return label
	}
	cut := subjectMaxLen
	for cut > 0 && !utf8.RuneStart(label[cut]) {
		cut--
	}
	return strings.TrimSpace(label[:cut])
}

// normalizeCode canonicalizes spacing around the code's hyphen.
func normalizeCode(code string) string {
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// cleanSubjectName trims decoration and boilerplate off the captured name.
func cleanSubjectName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, ":-– ")
	// "Theory of Computation Syllabus" reads better without the trailing word.
	name = strings.TrimSuffix(name, " Syllabus")
	name = strings.TrimSuffix(name, " syllabus")
	return strings.TrimSpace(name)
}

// parseTables extracts units from the first table whose header row matches
// the expected columns. The header is looked for in row 0, then row 1, since
// some syllabi put a caption row above the real header.
func parseTables(tables []extract.Table) []Unit {
	for _, tbl := range tables {
		for headerRow := 0; headerRow <= 1 && headerRow < len(tbl.Rows); headerRow++ {
			cols, ok := matchColumns(tbl.Rows[headerRow])
			if !ok {
				continue
			}
			units := extractUnits(tbl.Rows[headerRow+1:], cols)
			if len(units) > 0 {
				return units
			}
		}
	}
	return nil
}

// columnMap holds the resolved column indexes, -1 when absent.
type columnMap struct {
	unit     int
	title    int
	contents int
}

// matchColumns fuzzily resolves the unit/title/contents columns from a
// candidate header row. A usable header needs at least a contents column.
func matchColumns(header []string) (columnMap, bool) {
	cols := columnMap{unit: -1, title: -1, contents: -1}
	for i, cell := range header {
		lower := strings.ToLower(strings.TrimSpace(cell))
		switch {
		case cols.unit < 0 && matchesAny(lower, unitSynonyms):
			cols.unit = i
		case cols.title < 0 && matchesAny(lower, titleSynonyms):
			cols.title = i
		case cols.contents < 0 && matchesAny(lower, contentsSynonyms):
			cols.contents = i
		}
	}
	return cols, cols.contents >= 0
}

// matchesAny reports whether the cell contains any of the synonyms.
func matchesAny(cell string, synonyms []string) bool {
	for _, s := range synonyms {
		if strings.Contains(cell, s) {
			return true
		}
	}
	return false
}

// extractUnits converts table data rows into units using the column map.
func extractUnits(rows [][]string, cols columnMap) []Unit {
	var units []Unit
	for i, row := range rows {
		if cols.contents >= len(row) {
			continue
		}
		contents := strings.TrimSpace(row[cols.contents])
		if contents == "" {
			continue
		}

		topics := splitTopics(contents)
		if len(topics) == 0 {
			continue
		}

		number := ""
		if cols.unit >= 0 && cols.unit < len(row) {
			number = strings.TrimSpace(row[cols.unit])
		}
		if number == "" {
			number = strconv.Itoa(i + 1)
		}
		title := ""
		if cols.title >= 0 && cols.title < len(row) {
			title = strings.TrimSpace(row[cols.title])
		}
		units = append(units, newUnit(number, title, topics))
	}
	return units
}

// scanText recovers units from "Unit N" style headings in plain text. Lines
// between headings become that unit's topics.
func scanText(text string) []Unit {
	var units []Unit
	var number, title string
	var topics []string
	inUnit := false

	flush := func() {
		if inUnit && len(topics) > 0 {
			units = append(units, newUnit(number, title, topics))
		}
		topics = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := unitHeading.FindStringSubmatch(line); m != nil {
			flush()
			number, title = m[1], strings.TrimSpace(m[2])
			inUnit = true
			continue
		}
		if !inUnit {
			continue
		}
		topics = append(topics, splitTopics(line)...)
	}
	flush()
	return units
}

// generalTopics is the last-resort unit: the document's non-trivial lines as
// a flat topic list, capped to keep pathological inputs bounded.
func generalTopics(text string) []Unit {
	var topics []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(enumMarker.ReplaceAllString(line, ""))
		if len(line) < 4 {
			continue
		}
		topics = append(topics, line)
		if len(topics) == generalTopicsCap {
			break
		}
	}
	if len(topics) == 0 {
		return nil
	}
	return []Unit{{
		Name:   "General Topics",
		Number: "1",
		Title:  "General Topics",
		Topics: topics,
		Format: inferFormat(topics),
	}}
}

// splitTopics cuts a contents cell or line into individual topics on commas,
// semicolons and newlines, stripping enumeration markers.
func splitTopics(contents string) []string {
	var topics []string
	for _, part := range strings.FieldsFunc(contents, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		part = strings.TrimSpace(enumMarker.ReplaceAllString(part, ""))
		part = strings.TrimSpace(strings.Trim(part, "."))
		if len(part) < 2 {
			continue
		}
		topics = append(topics, part)
	}
	return topics
}
