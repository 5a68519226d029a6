// Package assistant implements the chat-based calendar scheduling service.
//
// It keeps conversation state, Google Calendar authorization, and token
// sealing isolated behind small packages so the language-model provider and
// the calendar backend stay replaceable collaborators.
package assistant
