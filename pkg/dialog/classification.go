package dialog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ai-booking-caller-be/pkg/apperr"
)

// Kind tags the meaning of one caller utterance.
type Kind string

const (
	KindTimeSuggested  Kind = "TIME_SUGGESTED"
	KindQuestion       Kind = "QUESTION"
	KindCannotSchedule Kind = "CANNOT_SCHEDULE"
	KindAmbiguous      Kind = "AMBIGUOUS"
	KindUnclear        Kind = "UNCLEAR"
	KindAffirmative    Kind = "AFFIRMATIVE"
	KindNegative       Kind = "NEGATIVE"
)

// Classification is the only shape classifier output takes past the parse
// boundary. Payload holds the question text or the refusal reason; Time is
// set for KindTimeSuggested.
type Classification struct {
	Kind    Kind
	Payload string
	Time    time.Time
}

func Unclear() Classification { return Classification{Kind: KindUnclear} }

type classifierOutput struct {
	Kind   string `json:"kind"`
	Time   string `json:"time"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// ParseTurn validates model output for a time-gathering turn. It always
// returns a usable Classification; the error, when set, is a
// *apperr.ClassificationParseError describing why the output was coerced.
func ParseTurn(raw string) (Classification, error) {
	out, err := decode(raw)
	if err != nil {
		return Unclear(), &apperr.ClassificationParseError{Raw: raw, Err: err}
	}

	switch Kind(out.Kind) {
	case KindTimeSuggested:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(out.Time))
		if err != nil {
			return Classification{Kind: KindAmbiguous}, &apperr.ClassificationParseError{Raw: raw, Err: err}
		}
		return Classification{Kind: KindTimeSuggested, Payload: out.Time, Time: t}, nil
	case KindQuestion:
		return Classification{Kind: KindQuestion, Payload: firstNonEmpty(out.Text, out.Reason)}, nil
	case KindCannotSchedule:
		return Classification{Kind: KindCannotSchedule, Payload: firstNonEmpty(out.Reason, out.Text)}, nil
	case KindAmbiguous, KindUnclear:
		return Classification{Kind: Kind(out.Kind)}, nil
	default:
		return Unclear(), &apperr.ClassificationParseError{Raw: raw, Err: fmt.Errorf("unexpected kind %q", out.Kind)}
	}
}

// ParseConfirmation validates model output for a yes/no confirmation turn.
func ParseConfirmation(raw string) (Classification, error) {
	out, err := decode(raw)
	if err != nil {
		return Unclear(), &apperr.ClassificationParseError{Raw: raw, Err: err}
	}

	switch Kind(out.Kind) {
	case KindAffirmative, KindNegative, KindUnclear:
		return Classification{Kind: Kind(out.Kind)}, nil
	default:
		return Unclear(), &apperr.ClassificationParseError{Raw: raw, Err: fmt.Errorf("unexpected kind %q", out.Kind)}
	}
}

// ParseStreamOutcome reads the verdict on a finished streaming conversation.
// AFFIRMATIVE carries the agreed time; without a parsable time the verdict
// is NEGATIVE.
func ParseStreamOutcome(raw string) (Classification, error) {
	out, err := decode(raw)
	if err != nil {
		return Classification{Kind: KindNegative}, &apperr.ClassificationParseError{Raw: raw, Err: err}
	}

	switch Kind(out.Kind) {
	case KindAffirmative:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(out.Time))
		if err != nil {
			return Classification{Kind: KindNegative}, &apperr.ClassificationParseError{Raw: raw, Err: err}
		}
		return Classification{Kind: KindAffirmative, Payload: out.Time, Time: t}, nil
	case KindNegative:
		return Classification{Kind: KindNegative}, nil
	default:
		return Classification{Kind: KindNegative}, &apperr.ClassificationParseError{Raw: raw, Err: fmt.Errorf("unexpected kind %q", out.Kind)}
	}
}

// decode accepts a JSON object anywhere in the response, or a bare kind
// token such as "AFFIRMATIVE".
func decode(raw string) (classifierOutput, error) {
	var out classifierOutput

	jsonContent := extractJSON(raw)
	if jsonContent == "" {
		bare := strings.ToUpper(strings.Trim(raw, " \t\r\n.\"'`"))
		if bare == "" || strings.ContainsAny(bare, " \n") {
			return out, fmt.Errorf("no JSON found in response")
		}
		out.Kind = bare
		return out, nil
	}

	if err := json.Unmarshal([]byte(jsonContent), &out); err != nil {
		return out, fmt.Errorf("JSON unmarshal failed: %w", err)
	}
	out.Kind = strings.ToUpper(strings.TrimSpace(out.Kind))
	if out.Kind == "" {
		return out, fmt.Errorf("missing kind")
	}
	return out, nil
}

func extractJSON(response string) string {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")

	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return ""
	}

	return response[startIdx : endIdx+1]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
