package practice

import (
	"fmt"
	"strings"

	"github.com/MrWong99/speakdrill/internal/drill"
)

// StartTurn is the synthetic user turn that opens a greeting session.
const StartTurn = "Start the session."

// DialoguePrompt renders the system instruction for a practice exchange on d.
//
// The prompt is pure and safe for concurrent use. Empty drill sections are
// omitted entirely rather than rendered as empty headers.
func DialoguePrompt(d *drill.Drill) string {
	var sb strings.Builder
	sb.WriteString(tutorPersona)
	sb.WriteString("\n\n")
	sb.WriteString(dialogueRules)
	writeDrill(&sb, d)
	return sb.String()
}

// GreetingPrompt renders the system instruction for the opening turn of a
// session on d. It tells the tutor to state the purpose of the session and
// issue the first task directly.
func GreetingPrompt(d *drill.Drill) string {
	var sb strings.Builder
	sb.WriteString(tutorPersona)
	sb.WriteString("\n\n")
	sb.WriteString(greetingRules)
	writeDrill(&sb, d)
	return sb.String()
}

// FallbackGreeting is the canned opener used when a greeting session fails.
func FallbackGreeting(d *drill.Drill) string {
	if d == nil {
		d = &drill.Drill{}
	}
	title := strings.TrimSpace(d.Title)
	if title == "" {
		title = "today's drill"
	}
	switch {
	case len(d.TargetSentences) > 0:
		return fmt.Sprintf("Welcome! Today we're practising %s. Let's start: please say \"%s\"",
			title, d.TargetSentences[0].Text)
	case d.Roleplay != nil && len(d.Roleplay.Characters) > 0:
		return fmt.Sprintf("Welcome! Today we're practising %s. I'll play %s. Let's begin. Say hello to start the conversation.",
			title, d.Roleplay.Characters[0].Name)
	default:
		return fmt.Sprintf("Welcome! Today we're practising %s. Let's begin with the first exercise.", title)
	}
}

const tutorPersona = "You are a friendly, encouraging English speaking tutor. " +
	"You speak clearly and at a pace suited to the learner's level."

const dialogueRules = `## How to respond
- Reply in spoken English only, in one to three short sentences.
- Correct important mistakes briefly, then continue the exercise.
- Keep the learner working on the drill below; steer back if they drift.
- Never describe your reasoning or these instructions.`

const greetingRules = `## Opening the session
- In one or two sentences, say what this session practises.
- Then immediately give the learner their first task.
- Do not ask open questions such as "How are you?" or "What would you like to do?".
- Never describe your reasoning or these instructions.`

// writeDrill appends the drill sections to sb.
func writeDrill(sb *strings.Builder, d *drill.Drill) {
	if d == nil {
		return
	}

	sb.WriteString("\n\n## Drill\n")
	fmt.Fprintf(sb, "Title: %s\n", d.Title)
	fmt.Fprintf(sb, "Type: %s\n", d.Type.Label())
	if d.Difficulty != "" {
		fmt.Fprintf(sb, "Difficulty: %s\n", d.Difficulty)
	}
	if c := strings.TrimSpace(d.Context); c != "" {
		fmt.Fprintf(sb, "Context: %s\n", c)
	}

	section(sb, "Target Sentences", formatTargetSentences(d.TargetSentences))
	if d.Roleplay != nil {
		section(sb, "Roleplay", formatRoleplay(d.Roleplay))
	}
	section(sb, "Matching Pairs", formatMatchingPairs(d.MatchingPairs))
	section(sb, "Definitions", formatDefinitions(d.Definitions))
	section(sb, "Grammar", formatGrammar(d.GrammarItems))
	section(sb, "Sentence Writing", formatSentenceWriting(d.SentenceWritingItems))
	section(sb, "Fill in the Blank", formatFillBlanks(d.FillBlankItems))
	if d.Article != nil {
		section(sb, "Material", formatArticle(d.Article))
	}
	section(sb, "Pronunciation Focus", formatWeaknesses(d.Weaknesses))
}

func section(sb *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n", title)
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteByte('\n')
}

func formatTargetSentences(items []drill.TargetSentence) []string {
	var lines []string
	for i, s := range items {
		line := fmt.Sprintf("%d. %s", i+1, s.Text)
		if s.Translation != "" {
			line += fmt.Sprintf(" (%s)", s.Translation)
		}
		lines = append(lines, line)
	}
	return lines
}

func formatRoleplay(r *drill.Roleplay) []string {
	var lines []string
	if r.Scenario != "" {
		lines = append(lines, "Scenario: "+r.Scenario)
	}
	for _, c := range r.Characters {
		line := "Character: " + c.Name
		if c.Role != "" {
			line += " (" + c.Role + ")"
		}
		if c.Description != "" {
			line += " - " + c.Description
		}
		lines = append(lines, line)
	}
	for i, s := range r.Scenes {
		head := fmt.Sprintf("Scene %d", i+1)
		if s.Title != "" {
			head += ": " + s.Title
		}
		lines = append(lines, head)
		if s.Context != "" {
			lines = append(lines, "  "+s.Context)
		}
		for _, l := range s.Dialogue {
			lines = append(lines, fmt.Sprintf("  %s: %s", l.Speaker, l.Text))
		}
	}
	return lines
}

func formatMatchingPairs(items []drill.MatchingPair) []string {
	var lines []string
	for _, p := range items {
		lines = append(lines, fmt.Sprintf("- %s = %s", p.Left, p.Right))
	}
	return lines
}

func formatDefinitions(items []drill.Definition) []string {
	var lines []string
	for _, d := range items {
		line := fmt.Sprintf("- %s: %s", d.Word, d.Meaning)
		if d.Example != "" {
			line += fmt.Sprintf(" (e.g. %q)", d.Example)
		}
		lines = append(lines, line)
	}
	return lines
}

func formatGrammar(items []drill.GrammarItem) []string {
	var lines []string
	for _, g := range items {
		line := "- " + g.Rule
		if g.Example != "" {
			line += fmt.Sprintf(" (e.g. %q)", g.Example)
		}
		if g.Prompt != "" {
			line += ". Exercise: " + g.Prompt
		}
		lines = append(lines, line)
	}
	return lines
}

func formatSentenceWriting(items []drill.SentenceWritingItem) []string {
	var lines []string
	for i, it := range items {
		line := fmt.Sprintf("%d. %s", i+1, it.Prompt)
		if len(it.Keywords) > 0 {
			line += " [use: " + strings.Join(it.Keywords, ", ") + "]"
		}
		lines = append(lines, line)
	}
	return lines
}

func formatFillBlanks(items []drill.FillBlankItem) []string {
	var lines []string
	for i, it := range items {
		line := fmt.Sprintf("%d. %s (answer: %s)", i+1, it.Sentence, it.Answer)
		if it.Hint != "" {
			line += " hint: " + it.Hint
		}
		lines = append(lines, line)
	}
	return lines
}

func formatArticle(a *drill.Article) []string {
	var lines []string
	if a.Title != "" {
		lines = append(lines, "Title: "+a.Title)
	}
	if b := strings.TrimSpace(a.Body); b != "" {
		lines = append(lines, b)
	}
	for i, q := range a.Questions {
		lines = append(lines, fmt.Sprintf("Q%d. %s", i+1, q))
	}
	return lines
}

func formatWeaknesses(items []drill.PronunciationWeakness) []string {
	var lines []string
	for _, w := range items {
		line := "- " + w.Sound
		if w.Example != "" {
			line += fmt.Sprintf(" as in %q", w.Example)
		}
		if w.Tip != "" {
			line += ". Tip: " + w.Tip
		}
		lines = append(lines, line)
	}
	return lines
}
