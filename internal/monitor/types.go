package monitor

import (
	"time"

	"order-tracker/internal/order"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventMerged    EventType = "merged"
	EventMismatch  EventType = "mismatch"
	EventDuplicate EventType = "duplicate"
	EventError     EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MergedPayload 记录一次成功合并。
type MergedPayload struct {
	ReportID string       `json:"report_id"`
	Result   order.Result `json:"result"`
	Summary  string       `json:"summary"`
}

// RejectedPayload 记录被丢弃的回报。
type RejectedPayload struct {
	ReportID string       `json:"report_id"`
	Report   order.Result `json:"report"`
	Error    string       `json:"error"`
}

// ErrorPayload 记录异常信息。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
