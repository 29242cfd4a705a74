package models

// Roster is the ordered list of records, newest first.
type Roster struct {
	Records []AttendanceRecord `json:"records"`
	Count   int                `json:"count"`
}

// RosterEventType distinguishes the initial snapshot from later entries.
type RosterEventType string

const (
	RosterEventSnapshot RosterEventType = "snapshot"
	RosterEventEntry    RosterEventType = "entry"
	RosterEventReset    RosterEventType = "reset"
)

// RosterEvent is emitted by a roster subscription.
type RosterEvent struct {
	Type   RosterEventType   `json:"type"`
	Record *AttendanceRecord `json:"record,omitempty"`
	Roster *Roster           `json:"roster,omitempty"`
	Count  int               `json:"count"`
}

// RecordChangeKind classifies a change on the record collection.
type RecordChangeKind string

const (
	RecordAdded    RecordChangeKind = "added"
	RecordsCleared RecordChangeKind = "cleared"
)

// RecordChange is delivered by store watchers.
type RecordChange struct {
	Kind   RecordChangeKind  `json:"kind"`
	Record *AttendanceRecord `json:"record,omitempty"`
}
