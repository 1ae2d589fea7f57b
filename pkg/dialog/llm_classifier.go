package dialog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-booking-caller-be/internal/constant"
	"ai-booking-caller-be/internal/entity"
	"ai-booking-caller-be/pkg/llm"
)

// LLMClassifier classifies receptionist replies with a language model and
// answers their questions about the caller.
type LLMClassifier struct {
	provider llm.LLMProvider
	location *time.Location
	now      func() time.Time
}

var (
	_ Classifier        = (*LLMClassifier)(nil)
	_ Answerer          = (*LLMClassifier)(nil)
	_ OutcomeClassifier = (*LLMClassifier)(nil)
)

func NewLLMClassifier(provider llm.LLMProvider, location *time.Location) *LLMClassifier {
	if location == nil {
		location = time.UTC
	}
	return &LLMClassifier{provider: provider, location: location, now: time.Now}
}

func (c *LLMClassifier) ClassifyTurn(ctx context.Context, s *entity.CallSession, utterance string) (Classification, error) {
	prompt := fmt.Sprintf(constant.TurnClassificationPrompt,
		c.now().In(c.location).Format(time.RFC3339), s.BusinessName, s.Reason, sanitize(utterance))

	// Temperature 0 for deterministic output
	response, err := c.provider.Generate(ctx, prompt, llm.WithTemperature(0.0))
	if err != nil {
		return Unclear(), fmt.Errorf("classify turn: %w", err)
	}
	return ParseTurn(response)
}

func (c *LLMClassifier) ClassifyConfirmation(ctx context.Context, s *entity.CallSession, utterance string) (Classification, error) {
	proposed := "the proposed time"
	if s.ProposedTime != nil {
		proposed = SpokenTime(*s.ProposedTime, c.location)
	}
	prompt := fmt.Sprintf(constant.ConfirmationClassificationPrompt, proposed, sanitize(utterance))

	response, err := c.provider.Generate(ctx, prompt, llm.WithTemperature(0.0))
	if err != nil {
		return Unclear(), fmt.Errorf("classify confirmation: %w", err)
	}
	return ParseConfirmation(response)
}

func (c *LLMClassifier) Answer(ctx context.Context, s *entity.CallSession, question string) (string, error) {
	prompt := fmt.Sprintf(constant.QuestionAnswerPrompt,
		s.CallerName, s.Reason, contactOrUnknown(s.ContactInfo), s.BusinessName, sanitize(question))

	response, err := c.provider.Generate(ctx, prompt, llm.WithTemperature(0.3), llm.WithMaxTokens(120))
	if err != nil {
		return "", fmt.Errorf("answer question: %w", err)
	}
	return strings.TrimSpace(response), nil
}

func (c *LLMClassifier) ClassifyStreamOutcome(ctx context.Context, s *entity.CallSession, transcript []entity.TranscriptEntry) (Classification, error) {
	var b strings.Builder
	for _, entry := range transcript {
		speaker := "Receptionist"
		if entry.Speaker == entity.SpeakerAgent {
			speaker = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, sanitize(entry.Text))
	}

	prompt := fmt.Sprintf(constant.StreamOutcomePrompt,
		c.now().In(c.location).Format(time.RFC3339), s.BusinessName, b.String())

	response, err := c.provider.Generate(ctx, prompt, llm.WithTemperature(0.0))
	if err != nil {
		return Classification{Kind: KindNegative}, fmt.Errorf("classify stream outcome: %w", err)
	}
	return ParseStreamOutcome(response)
}

func sanitize(utterance string) string {
	return strings.ReplaceAll(strings.TrimSpace(utterance), `"`, "'")
}

func contactOrUnknown(contact string) string {
	if contact == "" {
		return "the number on file"
	}
	return contact
}
