package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dentprep/exam-service/internal/models"
)

const maxMaterialRunes = 24000

// ErrNoDrafts is returned when the model output parsed but held nothing usable.
var ErrNoDrafts = errors.New("model output contained no usable items")

type FlashcardDraft struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type OptionDraft struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type QuestionDraft struct {
	Stem            string        `json:"stem"`
	Options         []OptionDraft `json:"options"`
	CorrectOptionID string        `json:"correct_option_id"`
	Explanation     string        `json:"explanation"`
	Difficulty      string        `json:"difficulty"`
}

type Summary struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// Generator turns study material into flashcards, questions or a summary.
type Generator struct {
	client Client
}

func NewGenerator(client Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) ClientName() string {
	return g.client.Name()
}

// Flashcards returns the parsed cards and the raw JSON the model produced.
func (g *Generator) Flashcards(ctx context.Context, title, material string, count int) ([]FlashcardDraft, string, error) {
	raw, err := g.client.CompleteJSON(ctx, Request{
		Kind:   models.KindFlashcards,
		System: flashcardSystemPrompt,
		User:   userPrompt(title, material, count),
		Count:  count,
	})
	if err != nil {
		return nil, "", err
	}

	var out struct {
		Cards []FlashcardDraft `json:"cards"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return nil, raw, err
	}

	cards := make([]FlashcardDraft, 0, len(out.Cards))
	for _, c := range out.Cards {
		c.Front = strings.TrimSpace(c.Front)
		c.Back = strings.TrimSpace(c.Back)
		if c.Front == "" || c.Back == "" {
			continue
		}
		cards = append(cards, c)
		if count > 0 && len(cards) == count {
			break
		}
	}
	if len(cards) == 0 {
		return nil, raw, ErrNoDrafts
	}
	return cards, raw, nil
}

// Questions returns parsed multiple choice drafts. Drafts are not validated
// beyond having a stem and options.
func (g *Generator) Questions(ctx context.Context, subject, material string, count int) ([]QuestionDraft, string, error) {
	raw, err := g.client.CompleteJSON(ctx, Request{
		Kind:   models.KindQuestions,
		System: questionSystemPrompt,
		User:   userPrompt(subject, material, count),
		Count:  count,
	})
	if err != nil {
		return nil, "", err
	}

	var out struct {
		Questions []QuestionDraft `json:"questions"`
	}
	if err := decodeJSON(raw, &out); err != nil {
		return nil, raw, err
	}

	drafts := make([]QuestionDraft, 0, len(out.Questions))
	for _, q := range out.Questions {
		q.Stem = strings.TrimSpace(q.Stem)
		if q.Stem == "" || len(q.Options) < 2 {
			continue
		}
		q.Difficulty = strings.ToLower(strings.TrimSpace(q.Difficulty))
		if !models.DifficultyLevel(q.Difficulty).IsValid() {
			q.Difficulty = string(models.DifficultyMedium)
		}
		drafts = append(drafts, q)
		if count > 0 && len(drafts) == count {
			break
		}
	}
	if len(drafts) == 0 {
		return nil, raw, ErrNoDrafts
	}
	return drafts, raw, nil
}

func (g *Generator) Summarize(ctx context.Context, title, material string) (*Summary, string, error) {
	raw, err := g.client.CompleteJSON(ctx, Request{
		Kind:   models.KindSummary,
		System: summarySystemPrompt,
		User:   userPrompt(title, material, 0),
	})
	if err != nil {
		return nil, "", err
	}

	var out Summary
	if err := decodeJSON(raw, &out); err != nil {
		return nil, raw, err
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return nil, raw, ErrNoDrafts
	}
	if out.Title == "" {
		out.Title = title
	}
	return &out, raw, nil
}

// decodeJSON tolerates a markdown code fence around the object.
func decodeJSON(raw string, out any) error {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return fmt.Errorf("failed to parse model output: %w", err)
	}
	return nil
}

func userPrompt(title, material string, count int) string {
	material = strings.TrimSpace(material)
	if r := []rune(material); len(r) > maxMaterialRunes {
		material = string(r[:maxMaterialRunes])
	}

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Topic: %s\n", title)
	}
	if count > 0 {
		fmt.Fprintf(&b, "Number of items: %d\n", count)
	}
	b.WriteString("Study material:\n")
	b.WriteString(material)
	return b.String()
}

const flashcardSystemPrompt = `You write flashcards for dental students preparing for licensing exams.
Use only facts present in the study material.
Respond with a single JSON object of the form {"cards":[{"front":"...","back":"..."}]}.
Fronts are short questions or cues; backs are concise answers.`

const questionSystemPrompt = `You write single-best-answer multiple choice questions for dental licensing exam preparation.
Use only facts present in the study material.
Respond with a single JSON object of the form
{"questions":[{"stem":"...","options":[{"id":"A","text":"..."}],"correct_option_id":"A","explanation":"...","difficulty":"easy|medium|hard"}]}.
Each question has four or five options with distinct texts and exactly one correct option.`

const summarySystemPrompt = `You summarize study material for dental students.
Respond with a single JSON object of the form {"title":"...","summary":"...","key_points":["..."]}.
Keep the summary under 300 words and list at most eight key points.`
