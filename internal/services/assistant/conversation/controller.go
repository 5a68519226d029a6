// Package conversation drives the chat turn loop: forwarding user text to
// the language-model provider, watching replies for proposed calendar
// actions, and resolving the user's follow-up confirmation into a real
// calendar call.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/platform/id"
	"github.com/tailortalk/assistant/internal/services/assistant/calendar"
	"github.com/tailortalk/assistant/internal/services/assistant/oauth"
	"github.com/tailortalk/assistant/internal/services/assistant/provider"
	"github.com/tailortalk/assistant/internal/services/assistant/storage"
	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

// Chat message senders as persisted in the transcript.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// ErrSessionBusy rejects a send while another send for the same session is
// still in flight. Turns are strictly sequential per session so two pending
// action writers can never race.
var ErrSessionBusy = perrors.New(perrors.CodeSessionBusy, "another message is still being processed for this session")

const connectCalendarMessage = "To do that I need access to your Google Calendar. " +
	"Please connect your calendar first, then ask me again."

// ChatMessage is one transcript entry as returned to callers.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	ErrorFlag bool      `json:"error_flag"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is the outcome of one Send call: every message appended to the
// transcript during the turn.
type Turn struct {
	Messages []ChatMessage `json:"messages"`
}

// Reply joins the turn's assistant and system texts into the single reply
// string the chat endpoint returns.
func (t Turn) Reply() string {
	var parts []string
	for _, message := range t.Messages {
		if message.Sender == SenderUser {
			continue
		}
		parts = append(parts, message.Text)
	}
	return strings.Join(parts, "\n\n")
}

// PendingCalendarAction is the single-slot record of an action the
// assistant proposed and is awaiting confirmation for. It lives exactly
// one turn.
type PendingCalendarAction struct {
	Kind    ActionKind
	Details ActionDetails
}

// Controller owns per-session chat state. Safe for concurrent use across
// sessions; sends within one session are serialized.
type Controller struct {
	provider    provider.Client
	gateway     *calendar.Gateway
	coordinator *oauth.Coordinator
	tokens      *token.Store
	messages    storage.MessageStore
	detector    IntentDetector
	clock       func() time.Time

	mu      sync.Mutex
	busy    map[string]bool
	pending map[string]PendingCalendarAction
}

// ControllerOption adjusts controller construction.
type ControllerOption func(*Controller)

// WithDetector replaces the default phrase detector.
func WithDetector(detector IntentDetector) ControllerOption {
	return func(c *Controller) { c.detector = detector }
}

// WithControllerClock overrides the time source, for tests.
func WithControllerClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// NewController wires the conversation loop to its collaborators.
func NewController(llm provider.Client, gateway *calendar.Gateway, coordinator *oauth.Coordinator, tokens *token.Store, messages storage.MessageStore, opts ...ControllerOption) *Controller {
	c := &Controller{
		provider:    llm,
		gateway:     gateway,
		coordinator: coordinator,
		tokens:      tokens,
		messages:    messages,
		detector:    NewPhraseDetector(),
		clock:       time.Now,
		busy:        make(map[string]bool),
		pending:     make(map[string]PendingCalendarAction),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// begin claims the session's turn slot and takes the pending action. The
// pending slot is cleared here so it never survives past this turn, no
// matter how the turn resolves.
func (c *Controller) begin(sessionID string) (PendingCalendarAction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[sessionID] {
		return PendingCalendarAction{}, false, ErrSessionBusy
	}
	c.busy[sessionID] = true
	pending, ok := c.pending[sessionID]
	delete(c.pending, sessionID)
	return pending, ok, nil
}

func (c *Controller) finish(sessionID string) {
	c.mu.Lock()
	delete(c.busy, sessionID)
	c.mu.Unlock()
}

func (c *Controller) setPending(sessionID string, action PendingCalendarAction) {
	c.mu.Lock()
	c.pending[sessionID] = action
	c.mu.Unlock()
}

// PendingAction exposes the current pending slot, for tests and status
// endpoints.
func (c *Controller) PendingAction(sessionID string) (PendingCalendarAction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	action, ok := c.pending[sessionID]
	return action, ok
}

func (c *Controller) append(ctx context.Context, turn *Turn, sessionID, sender, text string, errorFlag bool) (ChatMessage, error) {
	messageID, err := id.NewID()
	if err != nil {
		return ChatMessage{}, fmt.Errorf("mint message id: %w", err)
	}
	row := storage.MessageRow{
		ID:        messageID,
		SessionID: sessionID,
		Sender:    sender,
		Text:      text,
		ErrorFlag: errorFlag,
		CreatedAt: c.clock().UTC(),
	}
	if err := c.messages.AppendMessage(ctx, row); err != nil {
		return ChatMessage{}, fmt.Errorf("append chat message: %w", err)
	}
	message := ChatMessage{
		ID:        row.ID,
		Sender:    row.Sender,
		Text:      row.Text,
		ErrorFlag: row.ErrorFlag,
		CreatedAt: row.CreatedAt,
	}
	turn.Messages = append(turn.Messages, message)
	return message, nil
}

// providerHistory maps the stored transcript to provider roles. System
// entries are folded in as annotated user turns since providers only
// accept a user/model alternation.
func providerHistory(rows []storage.MessageRow) []provider.Message {
	history := make([]provider.Message, 0, len(rows))
	for _, row := range rows {
		switch row.Sender {
		case SenderUser:
			history = append(history, provider.Message{Role: provider.RoleUser, Content: row.Text})
		case SenderAssistant:
			history = append(history, provider.Message{Role: provider.RoleModel, Content: row.Text})
		case SenderSystem:
			history = append(history, provider.Message{Role: provider.RoleUser, Content: "System note: " + row.Text})
		}
	}
	return history
}

// Send processes one user turn. Every failure path appends exactly one
// error-flagged message to the transcript; infrastructure errors (storage,
// id minting) are the only ones returned to the caller.
func (c *Controller) Send(ctx context.Context, sessionID, userText string) (Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	userText = strings.TrimSpace(userText)
	if sessionID == "" {
		return Turn{}, perrors.New(perrors.CodeInvalidArgument, "session id is required")
	}
	if userText == "" {
		return Turn{}, perrors.New(perrors.CodeInvalidArgument, "message is required")
	}

	pending, hadPending, err := c.begin(sessionID)
	if err != nil {
		return Turn{}, err
	}
	defer c.finish(sessionID)

	var turn Turn
	if hadPending && IsAffirmation(userText) {
		if _, err := c.append(ctx, &turn, sessionID, SenderUser, userText, false); err != nil {
			return turn, err
		}
		if err := c.dispatch(ctx, &turn, sessionID, pending); err != nil {
			return turn, err
		}
		return turn, nil
	}
	// A declined pending action is dropped and the text becomes a normal
	// turn.

	history, err := c.messages.ListMessages(ctx, sessionID)
	if err != nil {
		return turn, fmt.Errorf("load chat history: %w", err)
	}
	if _, err := c.append(ctx, &turn, sessionID, SenderUser, userText, false); err != nil {
		return turn, err
	}

	reply, err := c.provider.Send(ctx, providerHistory(history), userText)
	if err != nil {
		// History and pending state stay intact; the failure becomes a
		// visible assistant message.
		if _, appendErr := c.append(ctx, &turn, sessionID, SenderAssistant, "I couldn't reach the language model: "+err.Error(), true); appendErr != nil {
			return turn, appendErr
		}
		return turn, nil
	}
	if _, err := c.append(ctx, &turn, sessionID, SenderAssistant, reply, false); err != nil {
		return turn, err
	}

	kind, matched := c.detector.DetectIntent(reply)
	if !matched {
		return turn, nil
	}
	if !c.authenticated(ctx, sessionID) {
		// The inferred action is dropped, not queued; the user re-states it
		// after connecting.
		if _, err := c.append(ctx, &turn, sessionID, SenderSystem, connectCalendarMessage, false); err != nil {
			return turn, err
		}
		return turn, nil
	}
	c.setPending(sessionID, PendingCalendarAction{
		Kind:    kind,
		Details: ExtractDetails(userText, c.clock()),
	})
	return turn, nil
}

func (c *Controller) authenticated(ctx context.Context, sessionID string) bool {
	_, err := c.tokens.Get(ctx, sessionID)
	return err == nil
}

// dispatch executes a confirmed pending action: re-validate the token,
// run the calendar call with one bounded retry, then fold the outcome back
// through the provider so the user gets a natural-language confirmation.
func (c *Controller) dispatch(ctx context.Context, turn *Turn, sessionID string, pending PendingCalendarAction) error {
	record, err := c.tokens.Get(ctx, sessionID)
	if err != nil {
		return c.dispatchFailed(ctx, turn, sessionID, "Your calendar connection is unavailable. Please reconnect your calendar.")
	}
	// The confirmation turn may arrive long after the token was stored;
	// re-check expiry right before the calendar call.
	record, err = c.coordinator.RefreshIfNeeded(ctx, sessionID, record)
	if err != nil {
		return c.dispatchFailed(ctx, turn, sessionID, "Your calendar authorization has expired. Please reconnect your calendar.")
	}

	now := c.clock().UTC()
	var resultText string
	switch pending.Kind {
	case ActionCreateEvent:
		input := createInput(pending.Details, now)
		event, err := c.createWithRetry(ctx, record, input)
		if err != nil {
			return c.dispatchFailed(ctx, turn, sessionID, fmt.Sprintf("Creating the event failed: %v.", err))
		}
		resultText = fmt.Sprintf("Event %q created for %s.", event.Summary, event.Start.Format("Mon Jan 2 at 3:04 PM"))
		if event.Link != "" {
			resultText += " Link: " + event.Link
		}
	case ActionCheckAvailability:
		timeMin, timeMax := availabilityWindow(pending.Details, now)
		events, err := c.listWithRetry(ctx, record, timeMin, timeMax)
		if err != nil {
			return c.dispatchFailed(ctx, turn, sessionID, fmt.Sprintf("Checking your availability failed: %v.", err))
		}
		resultText = availabilityText(events, timeMin, timeMax)
	default:
		return c.dispatchFailed(ctx, turn, sessionID, fmt.Sprintf("Unknown calendar action %q.", pending.Kind))
	}

	if _, err := c.append(ctx, turn, sessionID, SenderSystem, resultText, false); err != nil {
		return err
	}
	return c.confirmThroughProvider(ctx, turn, sessionID,
		"System: the calendar operation succeeded. "+resultText+
			" Confirm this to the user in one short friendly sentence.")
}

// dispatchFailed records the failure as an error-flagged system message and
// feeds it back to the provider so the assistant can apologize and offer
// alternatives.
func (c *Controller) dispatchFailed(ctx context.Context, turn *Turn, sessionID, reason string) error {
	if _, err := c.append(ctx, turn, sessionID, SenderSystem, reason, true); err != nil {
		return err
	}
	return c.confirmThroughProvider(ctx, turn, sessionID,
		"System: the calendar operation failed. "+reason+
			" Apologize briefly and suggest what the user can do next.")
}

func (c *Controller) confirmThroughProvider(ctx context.Context, turn *Turn, sessionID, synthetic string) error {
	history, err := c.messages.ListMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}
	reply, err := c.provider.Send(ctx, providerHistory(history), synthetic)
	if err != nil {
		if _, appendErr := c.append(ctx, turn, sessionID, SenderAssistant, "I couldn't reach the language model: "+err.Error(), true); appendErr != nil {
			return appendErr
		}
		return nil
	}
	_, err = c.append(ctx, turn, sessionID, SenderAssistant, reply, false)
	return err
}

func (c *Controller) createWithRetry(ctx context.Context, record token.Record, input calendar.CreateEventInput) (calendar.Event, error) {
	event, err := c.gateway.CreateEvent(ctx, record, input)
	if err != nil && calendar.IsRetryable(err) {
		event, err = c.gateway.CreateEvent(ctx, record, input)
	}
	return event, err
}

func (c *Controller) listWithRetry(ctx context.Context, record token.Record, timeMin, timeMax time.Time) ([]calendar.Event, error) {
	events, err := c.gateway.ListEvents(ctx, record, timeMin, timeMax)
	if err != nil && calendar.IsRetryable(err) {
		events, err = c.gateway.ListEvents(ctx, record, timeMin, timeMax)
	}
	return events, err
}

// createInput turns best-effort details into a full event input. A missing
// time window defaults to one hour starting at the next full hour.
func createInput(details ActionDetails, now time.Time) calendar.CreateEventInput {
	input := calendar.CreateEventInput{
		Summary:   details.Summary,
		Start:     details.Start,
		End:       details.End,
		Attendees: details.Attendees,
	}
	if input.Summary == "" {
		input.Summary = "Meeting"
	}
	if input.Start.IsZero() {
		input.Start = now.Truncate(time.Hour).Add(time.Hour)
	}
	if !input.End.After(input.Start) {
		input.End = input.Start.Add(defaultMeetingLength)
	}
	return input
}

// availabilityWindow defaults to the next two days when the user's request
// carried no parseable window.
func availabilityWindow(details ActionDetails, now time.Time) (time.Time, time.Time) {
	if !details.Start.IsZero() {
		// Midnight in the request's own location; Truncate would cut on
		// the UTC timeline and shift the day for other zones.
		day := details.Start
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		return start, start.AddDate(0, 0, 1)
	}
	return now, now.Add(48 * time.Hour)
}

func availabilityText(events []calendar.Event, timeMin, timeMax time.Time) string {
	window := fmt.Sprintf("between %s and %s", timeMin.Format("Mon Jan 2 3:04 PM"), timeMax.Format("Mon Jan 2 3:04 PM"))
	if len(events) == 0 {
		return "Your calendar is clear " + window + "."
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "You have %d event(s) %s:", len(events), window)
	for _, event := range events {
		summary := event.Summary
		if summary == "" {
			summary = "(untitled)"
		}
		fmt.Fprintf(&builder, "\n- %s at %s", summary, event.Start.Format("Mon Jan 2 3:04 PM"))
	}
	return builder.String()
}

// History returns the session transcript oldest first.
func (c *Controller) History(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := c.messages.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	out := make([]ChatMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, ChatMessage{
			ID:        row.ID,
			Sender:    row.Sender,
			Text:      row.Text,
			ErrorFlag: row.ErrorFlag,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

// Reset clears the session transcript and any pending action.
func (c *Controller) Reset(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	delete(c.pending, sessionID)
	c.mu.Unlock()
	if err := c.messages.DeleteMessages(ctx, sessionID); err != nil {
		return fmt.Errorf("delete chat history: %w", err)
	}
	return nil
}
