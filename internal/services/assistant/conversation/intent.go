package conversation

import "strings"

// ActionKind names the calendar operation a pending action resolves to.
type ActionKind string

const (
	ActionCheckAvailability ActionKind = "check_availability"
	ActionCreateEvent       ActionKind = "create_event"
)

// IntentDetector inspects the assistant's reply for a question that asks
// the user to confirm a calendar action.
//
// The default implementation matches substrings of model-generated text,
// which is brittle glue by nature. Keeping it behind this interface lets a
// structured function-calling detector replace it without touching the
// controller's state machine.
type IntentDetector interface {
	DetectIntent(reply string) (ActionKind, bool)
}

// Trigger phrases the system prompt instructs every provider to use.
var (
	createTriggers = []string{
		"shall i go ahead and book",
		"should i go ahead and book",
		"shall i book it",
		"should i book it",
		"go ahead and book it?",
		"want me to book it",
	}
	availabilityTriggers = []string{
		"shall i check your availability",
		"should i check your availability",
		"want me to check your availability",
		"shall i check your calendar",
	}
)

// PhraseDetector matches confirmation questions by case-insensitive
// substring against a fixed phrase list.
type PhraseDetector struct{}

// NewPhraseDetector builds the default substring-matching detector.
func NewPhraseDetector() PhraseDetector {
	return PhraseDetector{}
}

func (PhraseDetector) DetectIntent(reply string) (ActionKind, bool) {
	lowered := strings.ToLower(reply)
	for _, phrase := range createTriggers {
		if strings.Contains(lowered, phrase) {
			return ActionCreateEvent, true
		}
	}
	for _, phrase := range availabilityTriggers {
		if strings.Contains(lowered, phrase) {
			return ActionCheckAvailability, true
		}
	}
	return "", false
}

// affirmations is the fixed set of accepting first words. It is English
// only; anything outside the set counts as a decline.
var affirmations = map[string]bool{
	"yes":     true,
	"y":       true,
	"yeah":    true,
	"yep":     true,
	"ok":      true,
	"okay":    true,
	"sure":    true,
	"proceed": true,
	"alright": true,
	"confirm": true,
}

// affirmationPhrases catches the multi-word accepts a single-token check
// misses.
var affirmationPhrases = []string{"go ahead", "do it"}

// IsAffirmation reports whether the user's reply accepts the pending
// action. Matching is on the normalized first word only, so "yes please"
// and "ok, book it" both count.
func IsAffirmation(text string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range affirmationPhrases {
		if strings.HasPrefix(normalized, phrase) {
			return true
		}
	}
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})
	if len(fields) == 0 {
		return false
	}
	return affirmations[fields[0]]
}
