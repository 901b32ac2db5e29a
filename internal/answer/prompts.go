package answer

import (
	"fmt"
	"strings"
)

// systemPrompt establishes the assistant's grounding rules: answers come from
// the retrieved course material, never from the model's own knowledge.
const systemPrompt = `You are a study assistant helping a student prepare for university examinations.

You answer strictly from the provided course material excerpts. The excerpts
are labelled with their source document and page number.

Rules:
- Base every statement on the provided excerpts. Do not invent facts,
  definitions, or formulas that the excerpts do not support.
- If the excerpts do not contain enough information to answer the question,
  say so plainly and point out which part of the question is not covered.
- Structure the answer the way an examiner expects: define terms first, then
  explain, then give examples from the material where available.
- Write in clear prose. Use bullet points or numbered steps only where the
  material itself is enumerative.`

// marksGuidance maps an exam marks weight to the expected answer depth.
func marksGuidance(marks int) string {
	switch {
	case marks <= 0:
		return ""
	case marks <= 2:
		return fmt.Sprintf("This is a %d-mark question: answer in 2-3 concise sentences.", marks)
	case marks <= 5:
		return fmt.Sprintf("This is a %d-mark question: answer in one or two focused paragraphs with key definitions.", marks)
	default:
		return fmt.Sprintf("This is a %d-mark question: give a thorough, well-structured answer with definitions, explanations, and examples.", marks)
	}
}

// buildUserPrompt renders the question together with its retrieved context
// and optional syllabus framing into the final user message.
func buildUserPrompt(question, docContext, syllabusTopic string, marks int) string {
	var b strings.Builder

	b.WriteString("Course material excerpts:\n\n")
	b.WriteString(docContext)
	b.WriteString("\n\n")

	if topic := strings.TrimSpace(syllabusTopic); topic != "" {
		b.WriteString("Syllabus topic this question belongs to: ")
		b.WriteString(topic)
		b.WriteString("\n\n")
	}
	if g := marksGuidance(marks); g != "" {
		b.WriteString(g)
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}
