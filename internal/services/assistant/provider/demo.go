package provider

import (
	"context"
	"strings"
)

// Keyword groups the demo provider uses to pick a canned reply. They mirror
// the phrasing users actually type when scheduling.
var (
	demoScheduleWords     = []string{"schedule", "meeting", "book", "create", "appointment"}
	demoAvailabilityWords = []string{"availability", "available", "free"}
)

type demoClient struct{}

// NewDemo builds a deterministic Client that needs no API key or network.
// It answers with the same confirmation questions a real model is prompted
// to use, so the full confirmation flow works offline.
func NewDemo() Client {
	return demoClient{}
}

func (demoClient) Name() string { return "demo" }

func (demoClient) Send(_ context.Context, _ []Message, message string) (string, error) {
	lowered := strings.ToLower(message)
	switch {
	case containsAny(lowered, demoScheduleWords):
		return "Happy to set that up! Based on what you told me, I'll create the event " +
			"on your calendar. Shall I go ahead and book it?", nil
	case containsAny(lowered, demoAvailabilityWords):
		return "I can look at your calendar for open slots. Shall I check your availability?", nil
	default:
		return "I'm TailorTalk, your scheduling assistant. Ask me to book a meeting or " +
			"check when you're free, and I'll take care of the calendar side.", nil
	}
}

func containsAny(text string, words []string) bool {
	for _, word := range words {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}
