// ABOUTME: External scheduler abstraction and its robfig/cron implementation
// ABOUTME: Entries are keyed by an external id derived from the job id

package cronsync

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// ErrEntryNotFound is returned when a scheduler entry does not exist.
var ErrEntryNotFound = errors.New("scheduler entry not found")

// entryPrefix marks scheduler entries owned by this gateway. Entries without
// it belong to someone else and are never mutated.
const entryPrefix = "nanobot:"

// EntryID derives the external scheduler id for a managed job
func EntryID(jobID string) string {
	return entryPrefix + jobID
}

// JobID recovers the job id from an external entry id. ok is false for
// foreign entries.
func JobID(entryID string) (string, bool) {
	rest, found := strings.CutPrefix(entryID, entryPrefix)
	return rest, found
}

// Entry is one native scheduler entry
type Entry struct {
	ID       string // External id
	Schedule string // 5-field cron expression
	Payload  string
	Enabled  bool
}

// Scheduler is the external scheduler's native surface: add, update, remove,
// list, and out-of-band trigger, keyed by external id.
type Scheduler interface {
	Add(entry Entry) error
	Update(entry Entry) error
	Remove(id string) error
	List() ([]Entry, error)
	Trigger(id string) error
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr is a well-formed 5-field expression
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return nil
}

type cronEntry struct {
	entry  Entry
	cronID cron.EntryID // Zero when the entry is disabled
}

// CronScheduler implements Scheduler on an in-process robfig/cron runner.
// Disabled entries stay registered but are detached from the cron clock.
type CronScheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*cronEntry
	onFire  func(entryID string)
}

// NewCronScheduler creates a scheduler. SetOnFire must be called before
// any entry can fire.
func NewCronScheduler(logger *slog.Logger) *CronScheduler {
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(cronParser)),
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]*cronEntry),
	}
}

// SetOnFire installs the callback invoked when an entry fires, either on
// schedule or through Trigger
func (c *CronScheduler) SetOnFire(fn func(entryID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFire = fn
}

// Start begins dispatching scheduled entries
func (c *CronScheduler) Start() {
	c.cron.Start()
}

// Stop halts dispatch; running invocations finish
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) fire(id string) {
	c.mu.Lock()
	fn := c.onFire
	c.mu.Unlock()
	if fn == nil {
		c.logger.Warn("entry fired with no handler installed", "entry", id)
		return
	}
	fn(id)
}

// Add registers a new entry. Adding an id that already exists is an error;
// use Update to change an existing entry.
func (c *CronScheduler) Add(entry Entry) error {
	if err := ValidateSchedule(entry.Schedule); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[entry.ID]; exists {
		return fmt.Errorf("entry %q already exists", entry.ID)
	}

	ce := &cronEntry{entry: entry}
	if entry.Enabled {
		id := entry.ID
		cronID, err := c.cron.AddFunc(entry.Schedule, func() { c.fire(id) })
		if err != nil {
			return fmt.Errorf("scheduling entry %q: %w", entry.ID, err)
		}
		ce.cronID = cronID
	}
	c.entries[entry.ID] = ce

	c.logger.Info("entry added", "entry", entry.ID, "schedule", entry.Schedule, "enabled", entry.Enabled)
	return nil
}

// Update replaces an existing entry's schedule, payload, and enabled state
func (c *CronScheduler) Update(entry Entry) error {
	if err := ValidateSchedule(entry.Schedule); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ce, exists := c.entries[entry.ID]
	if !exists {
		return ErrEntryNotFound
	}

	if ce.cronID != 0 {
		c.cron.Remove(ce.cronID)
		ce.cronID = 0
	}
	ce.entry = entry
	if entry.Enabled {
		id := entry.ID
		cronID, err := c.cron.AddFunc(entry.Schedule, func() { c.fire(id) })
		if err != nil {
			return fmt.Errorf("rescheduling entry %q: %w", entry.ID, err)
		}
		ce.cronID = cronID
	}

	c.logger.Info("entry updated", "entry", entry.ID, "schedule", entry.Schedule, "enabled", entry.Enabled)
	return nil
}

// Remove deletes an entry. Removing an absent entry is a no-op.
func (c *CronScheduler) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ce, exists := c.entries[id]
	if !exists {
		return nil
	}
	if ce.cronID != 0 {
		c.cron.Remove(ce.cronID)
	}
	delete(c.entries, id)

	c.logger.Info("entry removed", "entry", id)
	return nil
}

// List returns all entries in unspecified order
func (c *CronScheduler) List() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.entries))
	for _, ce := range c.entries {
		entries = append(entries, ce.entry)
	}
	return entries, nil
}

// Trigger fires an entry immediately without touching its schedule or
// enabled state
func (c *CronScheduler) Trigger(id string) error {
	c.mu.Lock()
	_, exists := c.entries[id]
	c.mu.Unlock()
	if !exists {
		return ErrEntryNotFound
	}

	c.fire(id)
	return nil
}
