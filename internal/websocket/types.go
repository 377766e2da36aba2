package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePIIDetection is sent when a request contained at least one PII record
	EventTypePIIDetection EventType = "pii_detection"
	// EventTypeRequestLog is sent for every completed API request
	EventTypeRequestLog EventType = "request_log"
	// EventTypeConnection is sent when a feed client connects or disconnects
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// PIIDetectionEvent summarizes the records of one request that contained PII.
// It names masked fields and never carries values.
type PIIDetectionEvent struct {
	RequestID    string         `json:"request_id"`
	Method       string         `json:"method"`
	Path         string         `json:"path"`
	ClientIP     string         `json:"client_ip"`
	Records      int            `json:"records"`
	Flagged      int            `json:"flagged"`
	Fields       []string       `json:"fields"`
	Rules        map[string]int `json:"rules"`
	ProcessingMS float64        `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string        `json:"request_id"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type   string      `json:"type"`
	Events []EventType `json:"events,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu sync.Mutex
	// subscribed is nil until the client sends a subscribe message; nil means all events
	subscribed map[EventType]bool
}

// Subscribe limits the client to events of the given types. No types means all events.
func (c *Client) Subscribe(events []EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(events) == 0 {
		c.subscribed = nil
		return
	}
	c.subscribed = make(map[EventType]bool, len(events))
	for _, e := range events {
		c.subscribed[e] = true
	}
}

// Wants reports whether the client is subscribed to eventType
func (c *Client) Wants(eventType EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.subscribed == nil || c.subscribed[eventType]
}
