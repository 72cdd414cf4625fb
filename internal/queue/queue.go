// Package queue holds the authoritative in-memory print queue and keeps it in
// sync with a domain.QueueStore.
package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"

	"github.com/cwygoda/printq/internal/domain"
)

const defaultPersistTimeout = 5 * time.Second

// Queue is the ordered, duplicate-free list of documents pending upload plus
// their print settings. Every identifier in the list has exactly one settings
// entry. Store failures are logged and never returned, so the queue keeps
// working in memory when the store is unavailable.
//
// Entries other producers append to the store are folded in before every
// mutation, so a long-lived Queue never overwrites them.
type Queue struct {
	store          domain.QueueStore
	logger         logrus.FieldLogger
	bus            *EventBus
	persistTimeout time.Duration

	mu       sync.Mutex
	jobs     []string
	settings map[string]domain.DocumentSettings
	// presets holds settings stored for identifiers that are not queued yet.
	presets map[string]domain.DocumentSettings
	// persisted is the stored sequence as of the last load or save.
	persisted []string
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for persistence warnings.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(q *Queue) { q.logger = logger }
}

// WithEventBus publishes an Event for every mutation.
func WithEventBus(bus *EventBus) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithPersistTimeout bounds each store call.
func WithPersistTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.persistTimeout = d
		}
	}
}

// New creates a queue backed by store and loads its current state.
func New(store domain.QueueStore, opts ...Option) *Queue {
	q := &Queue{
		store:          store,
		logger:         logrus.StandardLogger(),
		persistTimeout: defaultPersistTimeout,
		settings:       make(map[string]domain.DocumentSettings),
		presets:        make(map[string]domain.DocumentSettings),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.mu.Lock()
	q.load()
	q.mu.Unlock()

	return q
}

// Jobs returns the queued identifiers in insertion order.
func (q *Queue) Jobs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.jobs)
}

// Len returns the number of queued documents.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// JobDescriptors returns the normalized view of the queue.
func (q *Queue) JobDescriptors() []domain.Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.descriptors()
}

// Quantity returns the copy count for identifier, 1 when unknown.
func (q *Queue) Quantity(identifier string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settingsFor(identifier).Quantity
}

// IsA3 reports whether identifier prints on A3 paper.
func (q *Queue) IsA3(identifier string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settingsFor(identifier).IsA3
}

// AddJob appends identifier with its preset or default settings. Adding an
// identifier that is already queued increments its quantity instead of
// duplicating the entry.
func (q *Queue) AddJob(identifier string) domain.Descriptor {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.absorbAppends()
	s := q.settingsFor(identifier)
	if slices.Contains(q.jobs, identifier) {
		s.Quantity++
	} else {
		q.jobs = append(q.jobs, identifier)
		delete(q.presets, identifier)
	}
	q.settings[identifier] = s
	if !slices.Equal(q.jobs, q.persisted) {
		q.persistQueue()
	}
	q.persistSettings()

	q.publish(EventAdded, identifier)
	return q.descriptor(identifier)
}

// SetJobQuantity stores the copy count for identifier, clamped to at least 1.
// Queue membership is unchanged: settings for an identifier that is not
// queued are kept and used when it is added. The bool reports whether
// identifier is queued.
func (q *Queue) SetJobQuantity(identifier string, quantity int) (domain.DocumentSettings, bool) {
	return q.update(identifier, func(s *domain.DocumentSettings) { s.Quantity = quantity })
}

// SetA3 stores the paper size for identifier, like SetJobQuantity.
func (q *Queue) SetA3(identifier string, isA3 bool) (domain.DocumentSettings, bool) {
	return q.update(identifier, func(s *domain.DocumentSettings) { s.IsA3 = isA3 })
}

func (q *Queue) update(identifier string, apply func(*domain.DocumentSettings)) (domain.DocumentSettings, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.absorbAppends() {
		q.persistQueue()
	}

	s := q.settingsFor(identifier)
	apply(&s)
	s = s.Normalize()

	queued := slices.Contains(q.jobs, identifier)
	if queued {
		q.settings[identifier] = s
	} else {
		q.presets[identifier] = s
	}
	q.persistSettings()

	if queued {
		q.publish(EventUpdated, identifier)
	}
	return s, queued
}

// RemoveJob removes the document at index. Out of range indices are ignored.
func (q *Queue) RemoveJob(index int) (string, bool) {
	removed := q.RemoveJobs(index)
	if len(removed) == 0 {
		return "", false
	}
	return removed[0], true
}

// RemoveJobs removes the documents at the given indices, highest index first,
// and returns the removed identifiers in that order. Duplicate and out of
// range indices are ignored.
func (q *Queue) RemoveJobs(indices ...int) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	absorbed := q.absorbAppends()
	order := mapset.NewThreadUnsafeSet(indices...).ToSlice()
	slices.SortFunc(order, func(a, b int) int { return b - a })

	var removed []string
	for _, i := range order {
		if i < 0 || i >= len(q.jobs) {
			continue
		}
		id := q.jobs[i]
		q.jobs = slices.Delete(q.jobs, i, i+1)
		if !slices.Contains(q.jobs, id) {
			delete(q.settings, id)
		}
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		if absorbed {
			q.persistQueue()
			q.persistSettings()
		}
		return nil
	}

	q.persistQueue()
	q.persistSettings()
	for _, id := range removed {
		q.publish(EventRemoved, id)
	}
	return removed
}

// CompleteJobs takes the copies in submitted off the queue. A document is
// removed unless it gained copies since submitted was taken, in which case
// only the extra copies stay queued. Documents queued after submitted was
// taken are untouched. It returns the removed identifiers.
func (q *Queue) CompleteJobs(submitted []domain.Descriptor) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	absorbed := q.absorbAppends()

	var removed, reduced []string
	for _, d := range submitted {
		i := slices.Index(q.jobs, d.Identifier)
		if i < 0 {
			continue
		}
		s := q.settingsFor(d.Identifier)
		if s.Quantity > d.Quantity {
			s.Quantity -= d.Quantity
			q.settings[d.Identifier] = s
			reduced = append(reduced, d.Identifier)
			continue
		}
		q.jobs = slices.Delete(q.jobs, i, i+1)
		delete(q.settings, d.Identifier)
		removed = append(removed, d.Identifier)
	}

	if absorbed || len(removed) > 0 {
		q.persistQueue()
	}
	if absorbed || len(removed) > 0 || len(reduced) > 0 {
		q.persistSettings()
	}
	for _, id := range removed {
		q.publish(EventRemoved, id)
	}
	for _, id := range reduced {
		q.publish(EventUpdated, id)
	}
	return removed
}

// RemoveAllJobs empties the queue and clears the store.
func (q *Queue) RemoveAllJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = nil
	q.settings = make(map[string]domain.DocumentSettings)
	q.presets = make(map[string]domain.DocumentSettings)

	ctx, cancel := context.WithTimeout(context.Background(), q.persistTimeout)
	defer cancel()
	if err := q.store.ClearQueue(ctx); err != nil {
		q.logger.WithError(err).Warn("clear stored queue")
	} else {
		q.persisted = nil
	}
	if err := q.store.ClearSettings(ctx); err != nil {
		q.logger.WithError(err).Warn("clear stored settings")
	}

	q.publish(EventCleared, "")
}

// Reload replaces the in-memory state with the store's. Identifiers stored
// more than once are collapsed to their first position and each extra
// occurrence counts as one more add of that document.
func (q *Queue) Reload() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.load()
	q.publish(EventReloaded, "")
}

// load must be called with mu held.
func (q *Queue) load() {
	ctx, cancel := context.WithTimeout(context.Background(), q.persistTimeout)
	defer cancel()

	stored, err := q.store.LoadQueue(ctx)
	if err != nil {
		q.logger.WithError(err).Warn("load stored queue, keeping in-memory state")
		return
	}
	storedSettings, err := q.store.LoadSettings(ctx)
	if err != nil {
		q.logger.WithError(err).Warn("load stored settings, using defaults")
		storedSettings = nil
	}

	jobs := make([]string, 0, len(stored))
	occurrences := make(map[string]int, len(stored))
	for _, id := range stored {
		if occurrences[id] == 0 {
			jobs = append(jobs, id)
		}
		occurrences[id]++
	}

	settings := make(map[string]domain.DocumentSettings, len(jobs))
	for _, id := range jobs {
		base, ok := storedSettings[id]
		if !ok {
			base = domain.DefaultSettings
		}
		base = base.Normalize()
		base.Quantity *= max(occurrences[id], 1)
		settings[id] = base
	}
	presets := make(map[string]domain.DocumentSettings)
	for id, s := range storedSettings {
		if _, ok := settings[id]; !ok {
			presets[id] = s.Normalize()
		}
	}

	if len(jobs) != len(stored) {
		q.logger.WithFields(logrus.Fields{
			"stored": len(stored),
			"unique": len(jobs),
		}).Info("merged duplicate queue entries")
	}

	q.jobs = jobs
	q.settings = settings
	q.presets = presets
	q.persisted = stored
	q.persistQueue()
	q.persistSettings()
}

// absorbAppends folds entries appended to the store since the last load or
// save into memory, counting a repeat as one more copy. A stored sequence
// that no longer extends the persisted one is left for Reload. It must be
// called with mu held and reports whether anything was absorbed.
func (q *Queue) absorbAppends() bool {
	ctx, cancel := context.WithTimeout(context.Background(), q.persistTimeout)
	defer cancel()

	stored, err := q.store.LoadQueue(ctx)
	if err != nil {
		q.logger.WithError(err).Debug("check stored queue for appends")
		return false
	}
	n := len(q.persisted)
	if len(stored) <= n || !slices.Equal(stored[:n], q.persisted) {
		return false
	}

	for _, id := range stored[n:] {
		s := q.settingsFor(id)
		if slices.Contains(q.jobs, id) {
			s.Quantity++
		} else {
			q.jobs = append(q.jobs, id)
			delete(q.presets, id)
		}
		q.settings[id] = s
	}
	q.logger.WithField("appended", len(stored)-n).Info("absorbed appended queue entries")
	return true
}

func (q *Queue) settingsFor(identifier string) domain.DocumentSettings {
	if s, ok := q.settings[identifier]; ok {
		return s.Normalize()
	}
	if s, ok := q.presets[identifier]; ok {
		return s
	}
	return domain.DefaultSettings
}

func (q *Queue) descriptor(identifier string) domain.Descriptor {
	s := q.settingsFor(identifier)
	return domain.Descriptor{Identifier: identifier, Quantity: s.Quantity, IsA3: s.IsA3}
}

func (q *Queue) descriptors() []domain.Descriptor {
	out := make([]domain.Descriptor, 0, len(q.jobs))
	for _, id := range q.jobs {
		out = append(out, q.descriptor(id))
	}
	return out
}

func (q *Queue) persistQueue() {
	ctx, cancel := context.WithTimeout(context.Background(), q.persistTimeout)
	defer cancel()
	if err := q.store.SaveQueue(ctx, slices.Clone(q.jobs)); err != nil {
		q.logger.WithError(err).WithField("jobs", len(q.jobs)).Warn("save queue")
		return
	}
	q.persisted = slices.Clone(q.jobs)
}

func (q *Queue) persistSettings() {
	ctx, cancel := context.WithTimeout(context.Background(), q.persistTimeout)
	defer cancel()
	all := make(map[string]domain.DocumentSettings, len(q.settings)+len(q.presets))
	for id, s := range q.presets {
		all[id] = s
	}
	for id, s := range q.settings {
		all[id] = s
	}
	if err := q.store.SaveSettings(ctx, domain.NormalizeAll(all)); err != nil {
		q.logger.WithError(err).Warn("save settings")
	}
}

func (q *Queue) publish(kind EventType, identifier string) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(Event{Type: kind, Identifier: identifier, Jobs: q.descriptors()})
}
