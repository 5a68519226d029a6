package rest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	perrors "github.com/tailortalk/assistant/internal/platform/errors"
	"github.com/tailortalk/assistant/internal/services/assistant/calendar"
	"github.com/tailortalk/assistant/internal/services/assistant/conversation"
)

func (h *handler) chatSend(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var request struct {
		Message string `json:"message"`
	}
	body := http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(body).Decode(&request); err != nil {
		writeError(w, perrors.New(perrors.CodeInvalidArgument, "request body must be JSON with a message field"))
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(w, perrors.New(perrors.CodeInvalidArgument, "message is required"))
		return
	}

	turn, err := h.controller.Send(r.Context(), session, request.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Reply    string                     `json:"reply"`
		Messages []conversation.ChatMessage `json:"messages"`
	}{Reply: turn.Reply(), Messages: turn.Messages})
}

func (h *handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	messages, err := h.controller.History(r.Context(), session)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Messages []conversation.ChatMessage `json:"messages"`
	}{Messages: messages})
}

func (h *handler) chatReset(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := h.controller.Reset(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) calendarList(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	record, err := h.authorizedRecord(r, session)
	if err != nil {
		writeError(w, err)
		return
	}

	now := h.clock().UTC()
	timeMin, timeMax := now, now.AddDate(0, 0, 7)
	query := r.URL.Query()
	if raw := query.Get("time_min"); raw != "" {
		if timeMin, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, perrors.New(perrors.CodeInvalidArgument, "time_min must be RFC 3339"))
			return
		}
	}
	if raw := query.Get("time_max"); raw != "" {
		if timeMax, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, perrors.New(perrors.CodeInvalidArgument, "time_max must be RFC 3339"))
			return
		}
	}

	events, err := h.gateway.ListEvents(r.Context(), record, timeMin, timeMax)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Events []calendar.Event `json:"events"`
	}{Events: events})
}

func (h *handler) calendarCreate(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	record, err := h.authorizedRecord(r, session)
	if err != nil {
		writeError(w, err)
		return
	}

	var request struct {
		Summary     string    `json:"summary"`
		Description string    `json:"description"`
		Start       time.Time `json:"start"`
		End         time.Time `json:"end"`
		Attendees   []string  `json:"attendees"`
	}
	body := http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(body).Decode(&request); err != nil {
		writeError(w, perrors.New(perrors.CodeInvalidArgument, "request body must be JSON"))
		return
	}
	if strings.TrimSpace(request.Summary) == "" {
		writeError(w, perrors.New(perrors.CodeInvalidArgument, "summary is required"))
		return
	}

	event, err := h.gateway.CreateEvent(r.Context(), record, calendar.CreateEventInput{
		Summary:     request.Summary,
		Description: request.Description,
		Start:       request.Start,
		End:         request.End,
		Attendees:   request.Attendees,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}
