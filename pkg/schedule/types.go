package schedule

import "time"

// Kind represents the type of schedule.
type Kind string

const (
	KindAt    Kind = "at"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Spec is a time specification for triggering migration runs.
type Spec struct {
	Kind Kind `json:"kind"`

	// For "at" schedules: ISO 8601 timestamp.
	At string `json:"at,omitempty"`

	// For "every" schedules.
	EveryMs  int64  `json:"everyMs,omitempty"`
	AnchorMs *int64 `json:"anchorMs,omitempty"`

	// For "cron" schedules: 5-field expression plus optional timezone.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// EntryState tracks runtime state of a scheduled run.
type EntryState struct {
	NextRunAtMs       *int64 `json:"nextRunAtMs,omitempty"`
	RunningAtMs       *int64 `json:"runningAtMs,omitempty"`
	LastRunAtMs       *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus        string `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError         string `json:"lastError,omitempty"`
	LastDurationMs    *int64 `json:"lastDurationMs,omitempty"`
	ConsecutiveErrors int    `json:"consecutiveErrors,omitempty"`
}

// Entry is a persisted scheduled migration run.
type Entry struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SessionID      string     `json:"sessionId,omitempty"`
	Enabled        bool       `json:"enabled"`
	DeleteAfterRun bool       `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64      `json:"createdAtMs"`
	UpdatedAtMs    int64      `json:"updatedAtMs"`
	Spec           Spec       `json:"spec"`
	State          EntryState `json:"state"`
}

// AddParams contains parameters for creating an entry.
type AddParams struct {
	Name           string `json:"name"`
	SessionID      string `json:"sessionId,omitempty"`
	Enabled        bool   `json:"enabled"`
	DeleteAfterRun bool   `json:"deleteAfterRun,omitempty"`
	Spec           Spec   `json:"spec"`
}

// EntryPatch contains the fields that can be updated in place.
type EntryPatch struct {
	Name      *string `json:"name,omitempty"`
	SessionID *string `json:"sessionId,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
	Spec      *Spec   `json:"spec,omitempty"`
}

// EventAction represents the type of scheduler event.
type EventAction string

const (
	EventActionFinished EventAction = "finished"
	EventActionAdded    EventAction = "added"
	EventActionUpdated  EventAction = "updated"
	EventActionDeleted  EventAction = "deleted"
)

// Event is emitted on entry lifecycle transitions.
type Event struct {
	Action      EventAction `json:"action"`
	EntryID     string      `json:"entryId"`
	Status      string      `json:"status,omitempty"`
	Error       string      `json:"error,omitempty"`
	DurationMs  *int64      `json:"durationMs,omitempty"`
	NextRunAtMs *int64      `json:"nextRunAtMs,omitempty"`
}

// ServiceOptions configures the scheduler.
type ServiceOptions struct {
	StorePath  string                                 // Path to schedules.json
	TriggerRun func(entry *Entry, sessionID string) error // Kicks off a migration run
	OnEvent    func(evt Event)                        // Lifecycle event callback
}

// Now returns current time in milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Int64Ptr returns a pointer to an int64 value.
func Int64Ptr(v int64) *int64 {
	return &v
}
