// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ProviderCall caps the time allowed for a single LLM provider request.
const ProviderCall = 60 * time.Second

// CalendarCall caps the time allowed for a single calendar API request.
const CalendarCall = 15 * time.Second

// TokenExchange caps the time allowed for OAuth code exchange and refresh.
const TokenExchange = 10 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
