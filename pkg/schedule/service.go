package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service schedules recurring and one-shot migration runs. Entries survive
// restarts through the JSON registry at StorePath.
type Service struct {
	entries map[string]*Entry
	timers  map[string]*time.Timer
	options ServiceOptions
	mu      sync.RWMutex
	stopped bool
}

// NewService creates a scheduler and arms every enabled entry.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.TriggerRun == nil {
		return nil, fmt.Errorf("trigger run callback is required")
	}
	if opts.OnEvent == nil {
		opts.OnEvent = func(Event) {}
	}

	s := &Service{
		entries: make(map[string]*Entry),
		timers:  make(map[string]*time.Timer),
		options: opts,
	}

	if err := s.load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load schedule registry, starting empty")
	}

	s.mu.Lock()
	for _, entry := range s.entries {
		if entry.Enabled {
			s.armLocked(entry)
		}
	}
	s.mu.Unlock()

	log.Info().Int("entryCount", len(s.entries)).Msg("Scheduler initialized")

	return s, nil
}

// Add creates a new scheduled run.
func (s *Service) Add(params AddParams) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("scheduler is stopped")
	}
	if params.Name == "" {
		return nil, fmt.Errorf("entry name is required")
	}

	nextRunAtMs, err := NextRun(params.Spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	now := Now()
	entry := &Entry{
		ID:             uuid.New().String(),
		Name:           params.Name,
		SessionID:      params.SessionID,
		Enabled:        params.Enabled,
		DeleteAfterRun: params.DeleteAfterRun,
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		Spec:           params.Spec,
		State:          EntryState{NextRunAtMs: Int64Ptr(nextRunAtMs)},
	}

	s.entries[entry.ID] = entry
	if err := s.persist(); err != nil {
		delete(s.entries, entry.ID)
		return nil, fmt.Errorf("failed to persist entry: %w", err)
	}

	if entry.Enabled {
		s.armLocked(entry)
	}

	log.Info().
		Str("entryId", entry.ID).
		Str("name", entry.Name).
		Bool("enabled", entry.Enabled).
		Msg("Schedule entry created")

	s.options.OnEvent(Event{Action: EventActionAdded, EntryID: entry.ID})

	return entry, nil
}

// Update patches an existing entry and rearms it if needed.
func (s *Service) Update(id string, patch EntryPatch) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("scheduler is stopped")
	}

	entry, exists := s.entries[id]
	if !exists {
		return nil, fmt.Errorf("entry not found: %s", id)
	}

	specChanged := false
	enabledChanged := false
	oldEnabled := entry.Enabled

	if patch.Name != nil {
		entry.Name = *patch.Name
	}
	if patch.SessionID != nil {
		entry.SessionID = *patch.SessionID
	}
	if patch.Enabled != nil {
		entry.Enabled = *patch.Enabled
		enabledChanged = oldEnabled != entry.Enabled
	}
	if patch.Spec != nil {
		entry.Spec = *patch.Spec
		specChanged = true
	}

	entry.UpdatedAtMs = Now()

	if specChanged {
		nextRunAtMs, err := NextRun(entry.Spec)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule: %w", err)
		}
		entry.State.NextRunAtMs = Int64Ptr(nextRunAtMs)
	}

	if err := s.persist(); err != nil {
		return nil, fmt.Errorf("failed to persist entry: %w", err)
	}

	if specChanged || enabledChanged {
		s.disarmLocked(id)
		if entry.Enabled {
			s.armLocked(entry)
		}
	}

	log.Info().
		Str("entryId", id).
		Str("name", entry.Name).
		Bool("specChanged", specChanged).
		Msg("Schedule entry updated")

	s.options.OnEvent(Event{Action: EventActionUpdated, EntryID: id})

	return entry, nil
}

// Remove deletes an entry.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}

	if _, exists := s.entries[id]; !exists {
		return fmt.Errorf("entry not found: %s", id)
	}

	s.disarmLocked(id)
	delete(s.entries, id)

	if err := s.persist(); err != nil {
		return fmt.Errorf("failed to persist entry: %w", err)
	}

	log.Info().Str("entryId", id).Msg("Schedule entry removed")
	s.options.OnEvent(Event{Action: EventActionDeleted, EntryID: id})

	return nil
}

// RunNow manually fires an entry regardless of its schedule.
func (s *Service) RunNow(id string) error {
	s.mu.RLock()
	entry, exists := s.entries[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("entry not found: %s", id)
	}

	go s.execute(entry)
	return nil
}

// List returns all entries sorted by creation time.
func (s *Service) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAtMs < entries[j].CreatedAtMs
	})

	return entries
}

// Get returns a specific entry, or nil.
func (s *Service) Get(id string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.entries[id]
}

// Stop disarms all timers and persists final state.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	for id := range s.timers {
		s.disarmLocked(id)
	}

	if err := s.persist(); err != nil {
		log.Error().Err(err).Msg("Failed to persist schedule registry on shutdown")
		return err
	}

	log.Info().Msg("Scheduler stopped")
	return nil
}

// armLocked arms a timer for the entry's next run. Caller holds the lock.
func (s *Service) armLocked(entry *Entry) {
	if entry.State.NextRunAtMs == nil {
		log.Warn().Str("entryId", entry.ID).Msg("Cannot arm entry without next run time")
		return
	}

	delay := *entry.State.NextRunAtMs - Now()
	if delay < 0 {
		delay = 0
	}

	s.timers[entry.ID] = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		s.execute(entry)
	})

	log.Debug().
		Str("entryId", entry.ID).
		Int64("delayMs", delay).
		Msg("Schedule entry armed")
}

// disarmLocked stops the entry's timer. Caller holds the lock.
func (s *Service) disarmLocked(id string) {
	if timer, exists := s.timers[id]; exists {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) execute(entry *Entry) {
	s.mu.Lock()

	current, exists := s.entries[entry.ID]
	if !exists {
		s.mu.Unlock()
		return
	}
	if current.State.RunningAtMs != nil {
		s.mu.Unlock()
		log.Debug().Str("entryId", entry.ID).Msg("Entry already running, skipping")
		return
	}

	startMs := Now()
	current.State.RunningAtMs = Int64Ptr(startMs)
	sessionID := current.SessionID
	if sessionID == "" {
		sessionID = "scheduled-" + current.ID
	}
	s.mu.Unlock()

	log.Info().Str("entryId", entry.ID).Str("name", entry.Name).Msg("Triggering scheduled run")

	err := s.options.TriggerRun(current, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	endMs := Now()
	durationMs := endMs - startMs

	current.State.RunningAtMs = nil
	current.State.LastRunAtMs = Int64Ptr(startMs)
	current.State.LastDurationMs = Int64Ptr(durationMs)

	if err != nil {
		current.State.LastStatus = "error"
		current.State.LastError = err.Error()
		current.State.ConsecutiveErrors++
		log.Error().
			Str("entryId", entry.ID).
			Err(err).
			Int("consecutiveErrors", current.State.ConsecutiveErrors).
			Msg("Scheduled run failed")
	} else {
		current.State.LastStatus = "ok"
		current.State.LastError = ""
		current.State.ConsecutiveErrors = 0
	}

	nextRunAtMs, calcErr := NextRun(current.Spec)
	if calcErr != nil {
		log.Error().Str("entryId", entry.ID).Err(calcErr).Msg("Failed to calculate next run")
	} else {
		current.State.NextRunAtMs = Int64Ptr(nextRunAtMs)
	}

	if persistErr := s.persist(); persistErr != nil {
		log.Error().Err(persistErr).Msg("Failed to persist schedule state")
	}

	s.options.OnEvent(Event{
		Action:      EventActionFinished,
		EntryID:     entry.ID,
		Status:      current.State.LastStatus,
		Error:       current.State.LastError,
		DurationMs:  Int64Ptr(durationMs),
		NextRunAtMs: current.State.NextRunAtMs,
	})

	if current.DeleteAfterRun && err == nil {
		s.disarmLocked(entry.ID)
		delete(s.entries, entry.ID)
		if persistErr := s.persist(); persistErr != nil {
			log.Error().Err(persistErr).Msg("Failed to persist after delete")
		}
		s.options.OnEvent(Event{Action: EventActionDeleted, EntryID: entry.ID})
		return
	}

	// One-shot "at" entries stay around but disabled once fired.
	if current.Spec.Kind == KindAt {
		current.Enabled = false
		return
	}

	if current.Enabled && !s.stopped && calcErr == nil {
		s.armLocked(current)
	}
}

func (s *Service) load() error {
	if _, err := os.Stat(s.options.StorePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(s.options.StorePath)
	if err != nil {
		return fmt.Errorf("failed to read schedule registry: %w", err)
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse schedule registry: %w", err)
	}

	s.entries = make(map[string]*Entry, len(entries))
	for _, entry := range entries {
		// Never resume mid-run state from disk.
		entry.State.RunningAtMs = nil
		s.entries[entry.ID] = entry
	}

	return nil
}

func (s *Service) persist() error {
	entries := make([]*Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAtMs < entries[j].CreatedAtMs
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schedule registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.options.StorePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.options.StorePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.options.StorePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
