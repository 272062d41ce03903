package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dentprep/exam-service/internal/models"
)

// StaticClient builds deterministic output from the material itself. It is
// used when no API key is configured.
type StaticClient struct{}

func NewStaticClient() *StaticClient {
	return &StaticClient{}
}

func (c *StaticClient) Name() string {
	return "static"
}

func (c *StaticClient) CompleteJSON(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sentences := splitSentences(materialOf(req.User))
	if len(sentences) == 0 {
		sentences = []string{"No study material was provided"}
	}
	count := req.Count
	if count <= 0 {
		count = 5
	}

	var payload any
	switch req.Kind {
	case models.KindFlashcards:
		cards := make([]FlashcardDraft, 0, count)
		for i := 0; i < count; i++ {
			s := sentences[i%len(sentences)]
			cards = append(cards, FlashcardDraft{
				Front: fmt.Sprintf("Card %d: what does the material say about %q?", i+1, leadWords(s, 5)),
				Back:  s,
			})
		}
		payload = map[string]any{"cards": cards}
	case models.KindQuestions:
		questions := make([]QuestionDraft, 0, count)
		for i := 0; i < count; i++ {
			s := sentences[i%len(sentences)]
			questions = append(questions, QuestionDraft{
				Stem: fmt.Sprintf("According to the study material, which statement is accurate? (item %d)", i+1),
				Options: []OptionDraft{
					{ID: "A", Text: s},
					{ID: "B", Text: "The material states the opposite"},
					{ID: "C", Text: "The material does not address this topic"},
					{ID: "D", Text: "None of the listed statements"},
				},
				CorrectOptionID: "A",
				Explanation:     s,
				Difficulty:      string(models.DifficultyMedium),
			})
		}
		payload = map[string]any{"questions": questions}
	case models.KindSummary:
		n := min(len(sentences), 8)
		payload = Summary{
			Title:     leadWords(sentences[0], 6),
			Summary:   strings.Join(sentences[:min(len(sentences), 3)], ". ") + ".",
			KeyPoints: sentences[:n],
		}
	default:
		return "", fmt.Errorf("unsupported generation kind %q", req.Kind)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func materialOf(prompt string) string {
	const marker = "Study material:\n"
	if i := strings.Index(prompt, marker); i >= 0 {
		return prompt[i+len(marker):]
	}
	return prompt
}

func splitSentences(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func leadWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
