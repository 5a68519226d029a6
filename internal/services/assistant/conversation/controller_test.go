package conversation

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tailortalk/assistant/internal/services/assistant/calendar"
	"github.com/tailortalk/assistant/internal/services/assistant/oauth"
	"github.com/tailortalk/assistant/internal/services/assistant/provider"
	"github.com/tailortalk/assistant/internal/services/assistant/secret"
	"github.com/tailortalk/assistant/internal/services/assistant/storage/memory"
	"github.com/tailortalk/assistant/internal/services/assistant/token"
)

type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	calls    int
	messages []string
	block    chan struct{}
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Send(_ context.Context, _ []provider.Message, message string) (string, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	if s.err != nil {
		return "", s.err
	}
	reply := "Understood."
	if s.calls < len(s.replies) {
		reply = s.replies[s.calls]
	}
	s.calls++
	return reply, nil
}

type fakeCalendarAPI struct {
	mu          sync.Mutex
	insertCalls int
	listCalls   int
	insertErrs  []error
	listErrs    []error
	events      []calendar.Event
}

func (f *fakeCalendarAPI) ListEvents(context.Context, string, time.Time, time.Time) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	return f.events, nil
}

func (f *fakeCalendarAPI) InsertEvent(_ context.Context, _ string, input calendar.CreateEventInput) (calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		return calendar.Event{}, err
	}
	return calendar.Event{
		ID:      "evt-1",
		Summary: input.Summary,
		Start:   input.Start,
		End:     input.End,
		Link:    "https://calendar.example/event/evt-1",
	}, nil
}

type fixture struct {
	controller *Controller
	llm        *scriptedProvider
	api        *fakeCalendarAPI
	tokens     *token.Store
}

func newFixture(t *testing.T, llm *scriptedProvider) *fixture {
	t.Helper()
	store := memory.New()
	sealer, err := secret.NewAESGCMSealer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewAESGCMSealer() error = %v", err)
	}
	tokens := token.NewStore(store, sealer)
	coordinator := oauth.NewCoordinator(oauth.NewDemoExchanger("http://localhost/oauth/callback"), store, tokens)
	api := &fakeCalendarAPI{}
	controller := NewController(llm, calendar.NewGateway(api), coordinator, tokens, store)
	return &fixture{controller: controller, llm: llm, api: api, tokens: tokens}
}

func (f *fixture) authenticate(t *testing.T, sessionID string) {
	t.Helper()
	record := token.Record{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().UTC().Add(time.Hour),
		Scopes:       []string{calendar.ScopeReadOnly, calendar.ScopeEvents},
	}
	if err := f.tokens.Put(context.Background(), sessionID, record); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

const bookingReply = "I can set that up for you. Shall I go ahead and book it?"

func TestSendNormalTurn(t *testing.T) {
	f := newFixture(t, &scriptedProvider{replies: []string{"Hello! How can I help with your calendar?"}})

	turn, err := f.controller.Send(context.Background(), "session-1", "hi there")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(turn.Messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(turn.Messages))
	}
	if turn.Messages[0].Sender != SenderUser || turn.Messages[1].Sender != SenderAssistant {
		t.Fatalf("senders = [%s, %s], want [user, assistant]", turn.Messages[0].Sender, turn.Messages[1].Sender)
	}
	if _, ok := f.controller.PendingAction("session-1"); ok {
		t.Fatal("pending action set for a smalltalk turn")
	}
}

func TestIntentSetsPendingWhenAuthenticated(t *testing.T) {
	f := newFixture(t, &scriptedProvider{replies: []string{bookingReply}})
	f.authenticate(t, "session-1")

	_, err := f.controller.Send(context.Background(), "session-1", "Schedule a meeting with John tomorrow at 2 PM")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	pending, ok := f.controller.PendingAction("session-1")
	if !ok {
		t.Fatal("pending action not set")
	}
	if pending.Kind != ActionCreateEvent {
		t.Fatalf("Kind = %q, want %q", pending.Kind, ActionCreateEvent)
	}
	if pending.Details.Summary != "Meeting with John" {
		t.Fatalf("Summary = %q, want %q", pending.Details.Summary, "Meeting with John")
	}
}

func TestIntentUnauthenticatedDropsAction(t *testing.T) {
	f := newFixture(t, &scriptedProvider{replies: []string{bookingReply}})

	turn, err := f.controller.Send(context.Background(), "session-1", "Schedule a meeting with John tomorrow at 2 PM")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, ok := f.controller.PendingAction("session-1"); ok {
		t.Fatal("pending action set for unauthenticated session")
	}
	last := turn.Messages[len(turn.Messages)-1]
	if last.Sender != SenderSystem {
		t.Fatalf("last sender = %q, want system", last.Sender)
	}
	if !strings.Contains(last.Text, "connect your calendar") {
		t.Fatalf("system message = %q missing connect instruction", last.Text)
	}
	if f.api.insertCalls != 0 || f.api.listCalls != 0 {
		t.Fatalf("calendar calls = %d/%d, want none", f.api.insertCalls, f.api.listCalls)
	}
}

func TestPendingClearedOnDecline(t *testing.T) {
	f := newFixture(t, &scriptedProvider{replies: []string{bookingReply, "No problem, let me know if you change your mind."}})
	f.authenticate(t, "session-1")

	ctx := context.Background()
	if _, err := f.controller.Send(ctx, "session-1", "book a meeting tomorrow at 2 PM"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, ok := f.controller.PendingAction("session-1"); !ok {
		t.Fatal("pending action not set after trigger reply")
	}

	if _, err := f.controller.Send(ctx, "session-1", "actually never mind"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, ok := f.controller.PendingAction("session-1"); ok {
		t.Fatal("pending action survived a declining turn")
	}
	if f.api.insertCalls != 0 {
		t.Fatalf("insertCalls = %d, want 0", f.api.insertCalls)
	}
}

func TestPoliteDeclineDoesNotDispatch(t *testing.T) {
	f := newFixture(t, &scriptedProvider{replies: []string{bookingReply, "Okay, I won't book anything."}})
	f.authenticate(t, "session-1")

	ctx := context.Background()
	if _, err := f.controller.Send(ctx, "session-1", "book a meeting tomorrow at 2 PM"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := f.controller.Send(ctx, "session-1", "please don't, I changed my mind"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if f.api.insertCalls != 0 {
		t.Fatalf("insertCalls = %d after a decline, want 0", f.api.insertCalls)
	}
	if _, ok := f.controller.PendingAction("session-1"); ok {
		t.Fatal("pending action survived a declining turn")
	}
}

func TestConfirmedCreateDispatches(t *testing.T) {
	llm := &scriptedProvider{replies: []string{bookingReply, "All booked! See you then."}}
	f := newFixture(t, llm)
	f.authenticate(t, "session-1")

	ctx := context.Background()
	if _, err := f.controller.Send(ctx, "session-1", "Schedule a meeting with John tomorrow at 2 PM"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	turn, err := f.controller.Send(ctx, "session-1", "yes")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if f.api.insertCalls != 1 {
		t.Fatalf("insertCalls = %d, want 1", f.api.insertCalls)
	}
	var system *ChatMessage
	for i := range turn.Messages {
		if turn.Messages[i].Sender == SenderSystem {
			system = &turn.Messages[i]
		}
	}
	if system == nil {
		t.Fatal("no system message in dispatch turn")
	}
	if system.ErrorFlag {
		t.Fatalf("system message error_flag = true, text %q", system.Text)
	}
	if !strings.Contains(system.Text, "Meeting with John") {
		t.Fatalf("system message = %q missing event summary", system.Text)
	}
	last := turn.Messages[len(turn.Messages)-1]
	if last.Sender != SenderAssistant || last.ErrorFlag {
		t.Fatalf("last message sender=%q error=%v, want clean assistant confirmation", last.Sender, last.ErrorFlag)
	}
	if _, ok := f.controller.PendingAction("session-1"); ok {
		t.Fatal("pending action survived dispatch")
	}
}

func TestConfirmedCreateRetriesOnceThenSurfaces(t *testing.T) {
	llm := &scriptedProvider{replies: []string{bookingReply, "Sorry, that didn't work."}}
	f := newFixture(t, llm)
	f.authenticate(t, "session-1")
	serverErr := &calendar.APIError{StatusCode: http.StatusInternalServerError, Message: "backend unavailable"}
	f.api.insertErrs = []error{serverErr, serverErr, serverErr}

	ctx := context.Background()
	if _, err := f.controller.Send(ctx, "session-1", "book a meeting tomorrow at 2 PM"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	turn, err := f.controller.Send(ctx, "session-1", "yes")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if f.api.insertCalls != 2 {
		t.Fatalf("insertCalls = %d, want exactly one retry (2 calls)", f.api.insertCalls)
	}
	var system *ChatMessage
	for i := range turn.Messages {
		if turn.Messages[i].Sender == SenderSystem {
			system = &turn.Messages[i]
		}
	}
	if system == nil || !system.ErrorFlag {
		t.Fatalf("system message = %+v, want error-flagged failure", system)
	}
	llm.mu.Lock()
	lastSynthetic := llm.messages[len(llm.messages)-1]
	llm.mu.Unlock()
	if !strings.Contains(lastSynthetic, "failed") {
		t.Fatalf("synthetic context = %q missing failure detail", lastSynthetic)
	}
}

func TestConfirmedCreateRetryablyRecoversOnSecondAttempt(t *testing.T) {
	llm := &scriptedProvider{replies: []string{bookingReply, "Done!"}}
	f := newFixture(t, llm)
	f.authenticate(t, "session-1")
	f.api.insertErrs = []error{&calendar.APIError{StatusCode: http.StatusTooManyRequests, Message: "slow down"}}

	ctx := context.Background()
	if _, err := f.controller.Send(ctx, "session-1", "book a meeting tomorrow at 2 PM"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	turn, err := f.controller.Send(ctx, "session-1", "sure")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if f.api.insertCalls != 2 {
		t.Fatalf("insertCalls = %d, want 2", f.api.insertCalls)
	}
	for _, message := range turn.Messages {
		if message.ErrorFlag {
			t.Fatalf("message %q error-flagged after successful retry", message.Text)
		}
	}
}

func TestConfirmedAvailabilityListsEvents(t *testing.T) {
	llm := &scriptedProvider{replies: []string{
		"Let me look. Shall I check your availability?",
		"Here's what your schedule looks like.",
	}}
	f := newFixture(t, llm)
	f.authenticate(t, "session-1")
	f.api.events = []calendar.Event{
		{ID: "evt-1", Summary: "Standup", Start: time.Now().UTC().Add(time.Hour), Status: "confirmed"},
	}

	ctx := context.Background()
	if _, err := f.controller.Send(ctx, "session-1", "am I free tomorrow?"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	pending, ok := f.controller.PendingAction("session-1")
	if !ok || pending.Kind != ActionCheckAvailability {
		t.Fatalf("pending = %+v ok=%v, want check_availability", pending, ok)
	}

	turn, err := f.controller.Send(ctx, "session-1", "ok")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if f.api.listCalls != 1 {
		t.Fatalf("listCalls = %d, want 1", f.api.listCalls)
	}
	var systemText string
	for _, message := range turn.Messages {
		if message.Sender == SenderSystem {
			systemText = message.Text
		}
	}
	if !strings.Contains(systemText, "Standup") {
		t.Fatalf("system message = %q missing event summary", systemText)
	}
}

func TestLLMFailureKeepsHistory(t *testing.T) {
	f := newFixture(t, &scriptedProvider{err: errors.New("provider timeout")})

	turn, err := f.controller.Send(context.Background(), "session-1", "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	last := turn.Messages[len(turn.Messages)-1]
	if last.Sender != SenderAssistant || !last.ErrorFlag {
		t.Fatalf("last message sender=%q error=%v, want error-flagged assistant", last.Sender, last.ErrorFlag)
	}
	history, err := f.controller.History(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want user turn and error message kept", len(history))
	}
}

func TestConcurrentSendRejectedAsBusy(t *testing.T) {
	llm := &scriptedProvider{block: make(chan struct{})}
	f := newFixture(t, llm)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.controller.Send(ctx, "session-1", "first message")
	}()

	// Wait for the first send to claim the turn slot.
	deadline := time.After(2 * time.Second)
	for {
		f.controller.mu.Lock()
		busy := f.controller.busy["session-1"]
		f.controller.mu.Unlock()
		if busy {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first send never claimed the session")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	_, err := f.controller.Send(ctx, "session-1", "second message")
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("Send() error = %v, want ErrSessionBusy", err)
	}
	close(llm.block)
	<-done
}

func TestResetClearsTranscriptAndPending(t *testing.T) {
	f := newFixture(t, &scriptedProvider{replies: []string{bookingReply}})
	f.authenticate(t, "session-1")

	ctx := context.Background()
	if _, err := f.controller.Send(ctx, "session-1", "book a meeting tomorrow at 2 PM"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := f.controller.Reset(ctx, "session-1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, ok := f.controller.PendingAction("session-1"); ok {
		t.Fatal("pending action survived reset")
	}
	history, err := f.controller.History(ctx, "session-1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("len(history) = %d, want 0", len(history))
	}
}

func TestIsAffirmation(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"yes", true},
		{"Yes!", true},
		{"  YES please", true},
		{"ok", true},
		{"okay, book it", true},
		{"sure", true},
		{"proceed", true},
		{"alright", true},
		{"go ahead", true},
		{"do it", true},
		{"no", false},
		{"never mind", false},
		{"please don't", false},
		{"please wait", false},
		{"what time is it?", false},
		{"", false},
		{"yesterday was fine", false},
	}
	for _, tt := range tests {
		if got := IsAffirmation(tt.text); got != tt.want {
			t.Errorf("IsAffirmation(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestPhraseDetector(t *testing.T) {
	detector := NewPhraseDetector()
	tests := []struct {
		reply   string
		want    ActionKind
		matched bool
	}{
		{"Sounds good. Shall I go ahead and book it?", ActionCreateEvent, true},
		{"SHALL I GO AHEAD AND BOOK the room?", ActionCreateEvent, true},
		{"Shall I check your availability?", ActionCheckAvailability, true},
		{"Want me to check your availability for Friday?", ActionCheckAvailability, true},
		{"Your meeting is at 2 PM.", "", false},
		{"I booked nothing.", "", false},
	}
	for _, tt := range tests {
		kind, matched := detector.DetectIntent(tt.reply)
		if matched != tt.matched || kind != tt.want {
			t.Errorf("DetectIntent(%q) = (%q, %v), want (%q, %v)", tt.reply, kind, matched, tt.want, tt.matched)
		}
	}
}

func TestExtractDetails(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

	details := ExtractDetails("Schedule a meeting with John tomorrow at 2 PM", now)
	if details.Summary != "Meeting with John" {
		t.Fatalf("Summary = %q, want %q", details.Summary, "Meeting with John")
	}
	wantStart := time.Date(2026, 5, 5, 14, 0, 0, 0, time.UTC)
	if !details.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", details.Start, wantStart)
	}
	if !details.End.Equal(wantStart.Add(time.Hour)) {
		t.Fatalf("End = %v, want one hour after start", details.End)
	}

	details = ExtractDetails("book something today at 9:15 am", now)
	wantStart = time.Date(2026, 5, 4, 9, 15, 0, 0, time.UTC)
	if !details.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", details.Start, wantStart)
	}

	details = ExtractDetails("set up a meeting sometime", now)
	if !details.Start.IsZero() {
		t.Fatalf("Start = %v, want zero for unparseable time", details.Start)
	}
}

func TestAvailabilityWindowCoversLocalDay(t *testing.T) {
	tokyo := time.FixedZone("UTC+9", 9*60*60)
	now := time.Date(2026, 5, 4, 10, 30, 0, 0, tokyo)
	details := ActionDetails{Start: time.Date(2026, 5, 5, 2, 0, 0, 0, tokyo)}

	timeMin, timeMax := availabilityWindow(details, now)
	wantMin := time.Date(2026, 5, 5, 0, 0, 0, 0, tokyo)
	if !timeMin.Equal(wantMin) {
		t.Fatalf("timeMin = %v, want local midnight %v", timeMin, wantMin)
	}
	if !timeMax.Equal(wantMin.AddDate(0, 0, 1)) {
		t.Fatalf("timeMax = %v, want next local midnight", timeMax)
	}

	timeMin, timeMax = availabilityWindow(ActionDetails{}, now)
	if !timeMin.Equal(now) || !timeMax.Equal(now.Add(48*time.Hour)) {
		t.Fatalf("default window = [%v, %v], want now..now+48h", timeMin, timeMax)
	}
}
