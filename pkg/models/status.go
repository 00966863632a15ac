package models

import "time"

// 扫描器状态
const (
	ScanStateIdle     = "idle"
	ScanStateRunning  = "running"
	ScanStateFinished = "finished"
	ScanStateStopped  = "stopped"
	ScanStateFailed   = "failed"
)

// ScanStatus 扫描器运行状态
type ScanStatus struct {
	State            string    `json:"state"`
	NextBlock        uint64    `json:"next_block"`
	EndBlock         uint64    `json:"end_block,omitempty"`
	WindowSize       uint64    `json:"window_size"`
	TargetEvents     uint64    `json:"target_events"`
	LastWindow       string    `json:"last_window,omitempty"`
	LastMatched      uint64    `json:"last_matched"`
	WindowsProcessed uint64    `json:"windows_processed"`
	EventsMatched    uint64    `json:"events_matched"`
	EventsProcessed  uint64    `json:"events_processed"`
	EventsSkipped    uint64    `json:"events_skipped"`
	Classified       uint64    `json:"contracts_classified"`
	TokenURIsFetched uint64    `json:"token_uris_fetched"`
	Overflows        uint64    `json:"overflows"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastError        string    `json:"last_error,omitempty"`
}
