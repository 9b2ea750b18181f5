// Package drill defines practice drills and the stores that serve them.
//
// A [Drill] is read-only input for the practice orchestrators: its metadata
// and typed content payloads are rendered into the system prompt of a live
// session. Drills are owned by an external content service; this package only
// reads them (plus a Put used for seeding and tests).
package drill

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the kind of drill.
type Type string

const (
	TypePronunciation   Type = "pronunciation"
	TypeRoleplay        Type = "roleplay"
	TypeVocabulary      Type = "vocabulary"
	TypeMatching        Type = "matching"
	TypeDefinition      Type = "definition"
	TypeGrammar         Type = "grammar"
	TypeSentenceWriting Type = "sentence_writing"
	TypeFillBlank       Type = "fill_blank"
	TypeListening       Type = "listening"
	TypeReading         Type = "reading"
)

var validTypes = map[Type]bool{
	TypePronunciation:   true,
	TypeRoleplay:        true,
	TypeVocabulary:      true,
	TypeMatching:        true,
	TypeDefinition:      true,
	TypeGrammar:         true,
	TypeSentenceWriting: true,
	TypeFillBlank:       true,
	TypeListening:       true,
	TypeReading:         true,
}

// IsValid reports whether t is a known drill type.
func (t Type) IsValid() bool { return validTypes[t] }

// Label returns a human-readable form of t, e.g. "sentence writing".
func (t Type) Label() string { return strings.ReplaceAll(string(t), "_", " ") }

// Difficulty is the learner level a drill targets.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// IsValid reports whether d is a known difficulty. The empty value is valid
// and means "unspecified".
func (d Difficulty) IsValid() bool {
	switch d {
	case "", DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// Drill is a single practice unit.
type Drill struct {
	ID         string     `json:"id,omitempty" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	Type       Type       `json:"type" yaml:"type"`
	Difficulty Difficulty `json:"difficulty,omitempty" yaml:"difficulty"`

	// Context is free text describing the situation the learner practises.
	Context string `json:"context,omitempty" yaml:"context"`

	TargetSentences      []TargetSentence        `json:"targetSentences,omitempty" yaml:"target_sentences"`
	Roleplay             *Roleplay               `json:"roleplay,omitempty" yaml:"roleplay"`
	MatchingPairs        []MatchingPair          `json:"matchingPairs,omitempty" yaml:"matching_pairs"`
	Definitions          []Definition            `json:"definitions,omitempty" yaml:"definitions"`
	GrammarItems         []GrammarItem           `json:"grammarItems,omitempty" yaml:"grammar_items"`
	SentenceWritingItems []SentenceWritingItem   `json:"sentenceWritingItems,omitempty" yaml:"sentence_writing_items"`
	FillBlankItems       []FillBlankItem         `json:"fillBlankItems,omitempty" yaml:"fill_blank_items"`
	Article              *Article                `json:"article,omitempty" yaml:"article"`
	Weaknesses           []PronunciationWeakness `json:"weaknesses,omitempty" yaml:"weaknesses"`
}

// TargetSentence is a sentence the learner should say.
type TargetSentence struct {
	Text        string `json:"text" yaml:"text"`
	Translation string `json:"translation,omitempty" yaml:"translation"`
}

// Roleplay describes a scripted conversation with named characters.
type Roleplay struct {
	Scenario   string      `json:"scenario,omitempty" yaml:"scenario"`
	Characters []Character `json:"characters,omitempty" yaml:"characters"`
	Scenes     []Scene     `json:"scenes,omitempty" yaml:"scenes"`
}

// Character is a participant in a roleplay.
type Character struct {
	Name        string `json:"name" yaml:"name"`
	Role        string `json:"role,omitempty" yaml:"role"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Scene is one part of a roleplay.
type Scene struct {
	Title    string         `json:"title,omitempty" yaml:"title"`
	Context  string         `json:"context,omitempty" yaml:"context"`
	Dialogue []DialogueLine `json:"dialogue,omitempty" yaml:"dialogue"`
}

// DialogueLine is a scripted line spoken by a character.
type DialogueLine struct {
	Speaker string `json:"speaker" yaml:"speaker"`
	Text    string `json:"text" yaml:"text"`
}

// MatchingPair links a term to its counterpart.
type MatchingPair struct {
	Left  string `json:"left" yaml:"left"`
	Right string `json:"right" yaml:"right"`
}

// Definition is a vocabulary entry.
type Definition struct {
	Word    string `json:"word" yaml:"word"`
	Meaning string `json:"meaning" yaml:"meaning"`
	Example string `json:"example,omitempty" yaml:"example"`
}

// GrammarItem is a grammar point with an exercise prompt.
type GrammarItem struct {
	Rule    string `json:"rule" yaml:"rule"`
	Example string `json:"example,omitempty" yaml:"example"`
	Prompt  string `json:"prompt,omitempty" yaml:"prompt"`
}

// SentenceWritingItem asks the learner to build a sentence.
type SentenceWritingItem struct {
	Prompt   string   `json:"prompt" yaml:"prompt"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords"`
}

// FillBlankItem is a sentence with a gap, written as "___".
type FillBlankItem struct {
	Sentence string `json:"sentence" yaml:"sentence"`
	Answer   string `json:"answer" yaml:"answer"`
	Hint     string `json:"hint,omitempty" yaml:"hint"`
}

// Article is reading or listening material.
type Article struct {
	Title     string   `json:"title,omitempty" yaml:"title"`
	Body      string   `json:"body" yaml:"body"`
	Questions []string `json:"questions,omitempty" yaml:"questions"`
}

// PronunciationWeakness is a sound the learner is known to struggle with.
type PronunciationWeakness struct {
	Sound   string `json:"sound" yaml:"sound"`
	Example string `json:"example,omitempty" yaml:"example"`
	Tip     string `json:"tip,omitempty" yaml:"tip"`
}

// Validate checks that d can be rendered into a prompt. All problems are
// reported together.
func (d *Drill) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if !d.Type.IsValid() {
		errs = append(errs, fmt.Errorf("unknown type %q", d.Type))
	}
	if !d.Difficulty.IsValid() {
		errs = append(errs, fmt.Errorf("unknown difficulty %q", d.Difficulty))
	}
	if d.Roleplay != nil {
		for i, s := range d.Roleplay.Scenes {
			for j, l := range s.Dialogue {
				if strings.TrimSpace(l.Speaker) == "" {
					errs = append(errs, fmt.Errorf("roleplay scene %d line %d: speaker is required", i, j))
				}
			}
		}
	}
	for i, it := range d.FillBlankItems {
		if !strings.Contains(it.Sentence, "___") {
			errs = append(errs, fmt.Errorf("fill-blank item %d: sentence has no ___ gap", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("drill %q: %w", d.ID, err)
	}
	return nil
}
