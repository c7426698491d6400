// Package staterecords defines the JSON-persisted record shapes shared
// across the autorate and steering control loops (spec §6). Keeping them
// in one package lets the baseline loader and the steering state machine
// read the autorate's persisted record without importing the autorate
// control loop itself — the two loops stay coupled only through this file
// format, per the no-shared-memory architecture of spec §9.
package staterecords

import "time"

// SchemaVersion is the current on-disk schema version for both record
// kinds. A loader that sees a different value treats the file as cold
// start rather than attempting a migration.
const SchemaVersion = 1

// QueueState is the per-direction state machine snapshot of spec §6.
type QueueState struct {
	State         string  `json:"state"`
	RateMbps      float64 `json:"rate_mbps"`
	GreenStreak   int     `json:"green_streak"`
	SoftRedStreak int     `json:"soft_red_streak"`
	RedStreak     int     `json:"red_streak"`
}

// LastApplied records the rates most recently written to the router. The
// autorate controller does not read it back on restart; a restarted
// process starts with no last-applied rates.
type LastApplied struct {
	DownloadMbps float64 `json:"download_mbps"`
	UploadMbps   float64 `json:"upload_mbps"`
}

// AutorateRecord is the full persisted autorate record of spec §6.
type AutorateRecord struct {
	SchemaVersionField  int         `json:"schema_version"`
	WANName             string      `json:"wan_name"`
	BaselineRTTMs       float64     `json:"baseline_rtt_ms"`
	LoadRTTMs           float64     `json:"load_rtt_ms"`
	Download            QueueState  `json:"download"`
	Upload              QueueState  `json:"upload"`
	LastApplied         LastApplied `json:"last_applied"`
	ICMPUnavailableCycles int       `json:"icmp_unavailable_cycles"`
	Timestamp           time.Time   `json:"timestamp"`
}

func (r AutorateRecord) SchemaVersion() int { return r.SchemaVersionField }

// Transition is one entry in the steering state machine's bounded
// transition history ring.
type Transition struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// SteeringRecord is the full persisted steering record of spec §6.
type SteeringRecord struct {
	SchemaVersionField int          `json:"schema_version"`
	CurrentState       string       `json:"current_state"`
	RedCount           int          `json:"red_count"`
	GoodCount          int          `json:"good_count"`
	SmoothedRTTDelta   float64      `json:"smoothed_rtt_delta_ms"`
	SmoothedQueue      float64      `json:"smoothed_queue"`
	CakeReadFailures   int          `json:"cake_read_failures"`
	Transitions        []Transition `json:"transitions"`
	Timestamp          time.Time    `json:"timestamp"`
}

func (r SteeringRecord) SchemaVersion() int { return r.SchemaVersionField }
