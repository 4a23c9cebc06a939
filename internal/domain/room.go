// Package domain contains entity without logic, just meta-data
package domain

import "time"

const MaxDisplayNameLen = 36

// CallSummary is handed to the notification layer when a call starts.
type CallSummary struct {
	CallID    RoomID    `json:"callId"`
	StartedBy UserID    `json:"startedBy"`
	StartedAt time.Time `json:"startedAt"`
}

// Stats is the operational snapshot exposed by the stats endpoint.
type Stats struct {
	Rooms   int `json:"rooms"`
	Peers   int `json:"peers"`
	Workers int `json:"workers"`
}
