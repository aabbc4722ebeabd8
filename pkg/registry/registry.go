// Package registry holds the per-process table of event subscribers, keyed by
// workflow and transaction.
package registry

import (
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dukex/sagabus/pkg/events"
)

// Wildcard is the reserved transaction key meaning "all transactions of this
// workflow".
const Wildcard = "*"

// Registration pairs a subscriber callback with a stable id so it can later be
// removed without retaining a reference to the callback.
type Registration struct {
	ID      string
	Handler events.Handler

	seq uint64
}

// ActivationFunc is invoked when a workflow gains its first registration or
// loses its last one, so the owner can open or close the broker channel.
type ActivationFunc func(workflowID string)

// Registry is process-local, in-memory state. It is never shared across
// instances; cross-instance consistency comes from the broker alone. All
// methods are safe for concurrent use from caller goroutines and the broker's
// inbound delivery goroutine.
type Registry struct {
	// hookMu serializes the count transition with the matching hook call, so
	// an activate for a workflow is always delivered before a later
	// deactivate for the same workflow. It is acquired before mu and never
	// held while subscriber callbacks run.
	hookMu sync.Mutex

	mu           sync.Mutex
	logger       *slog.Logger
	seq          uint64
	workflows    map[string]map[string][]*Registration
	onActivate   ActivationFunc
	onDeactivate ActivationFunc
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		workflows: make(map[string]map[string][]*Registration),
	}
}

// SetActivationHooks wires the channel open/close callbacks. Must be called
// before the first Subscribe.
func (r *Registry) SetActivationHooks(activate, deactivate ActivationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onActivate = activate
	r.onDeactivate = deactivate
}

// Subscribe registers a callback for a workflow, scoped to one transaction or,
// when transactionID is empty, to every transaction of the workflow.
// Re-subscribing with the same id under the same key replaces the prior
// registration instead of duplicating it. Returns the effective registration
// id (generated when the caller supplied none).
func (r *Registry) Subscribe(workflowID, transactionID string, registration Registration) string {
	scope := scopeKey(transactionID)

	if registration.ID == "" {
		registration.ID = uuid.New().String()
	}

	r.hookMu.Lock()
	defer r.hookMu.Unlock()

	r.mu.Lock()

	scopes, ok := r.workflows[workflowID]
	if !ok {
		scopes = make(map[string][]*Registration)
		r.workflows[workflowID] = scopes
	}

	first := r.countLocked(workflowID) == 0

	replaced := false

	for _, existing := range scopes[scope] {
		if existing.ID == registration.ID {
			// Keep the original insertion slot; only the callback changes.
			existing.Handler = registration.Handler
			replaced = true

			break
		}
	}

	if !replaced {
		r.seq++
		registration.seq = r.seq
		scopes[scope] = append(scopes[scope], &registration)
	}

	activate := r.onActivate

	r.mu.Unlock()

	r.logger.Debug("subscriber registered",
		"workflow_id", workflowID,
		"scope", scope,
		"subscriber_id", registration.ID,
		"replaced", replaced)

	if first && !replaced && activate != nil {
		activate(workflowID)
	}

	return registration.ID
}

// Unsubscribe removes the registration with the given id from the given key.
// Other keys of the same workflow are untouched. When the workflow is left with
// no registrations at all, its broker channel is deactivated.
func (r *Registry) Unsubscribe(workflowID, transactionID, subscriberID string) {
	r.remove(workflowID, transactionID, func(reg *Registration) bool {
		return reg.ID == subscriberID
	})
}

// UnsubscribeHandler removes registrations whose callback is the given
// function, matched by identity.
func (r *Registry) UnsubscribeHandler(workflowID, transactionID string, handler events.Handler) {
	target := reflect.ValueOf(handler).Pointer()

	r.remove(workflowID, transactionID, func(reg *Registration) bool {
		return reflect.ValueOf(reg.Handler).Pointer() == target
	})
}

func (r *Registry) remove(workflowID, transactionID string, match func(*Registration) bool) {
	scope := scopeKey(transactionID)

	r.hookMu.Lock()
	defer r.hookMu.Unlock()

	r.mu.Lock()

	scopes, ok := r.workflows[workflowID]
	if !ok {
		r.mu.Unlock()

		return
	}

	kept := scopes[scope][:0]

	for _, reg := range scopes[scope] {
		if !match(reg) {
			kept = append(kept, reg)
		}
	}

	if len(kept) == 0 {
		delete(scopes, scope)
	} else {
		scopes[scope] = kept
	}

	empty := r.countLocked(workflowID) == 0
	if empty {
		delete(r.workflows, workflowID)
	}

	deactivate := r.onDeactivate

	r.mu.Unlock()

	if empty && deactivate != nil {
		deactivate(workflowID)
	}
}

// Lookup returns the registrations to notify for one transaction: those under
// the exact transaction key plus the workflow-wide wildcard ones, in
// registration order.
func (r *Registry) Lookup(workflowID, transactionID string) []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	scopes, ok := r.workflows[workflowID]
	if !ok {
		return nil
	}

	matched := make([]Registration, 0, len(scopes[transactionID])+len(scopes[Wildcard]))

	for _, reg := range scopes[transactionID] {
		matched = append(matched, *reg)
	}

	if transactionID != Wildcard {
		for _, reg := range scopes[Wildcard] {
			matched = append(matched, *reg)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].seq < matched[j].seq
	})

	return matched
}

func (r *Registry) countLocked(workflowID string) int {
	total := 0
	for _, regs := range r.workflows[workflowID] {
		total += len(regs)
	}

	return total
}

func scopeKey(transactionID string) string {
	if transactionID == "" {
		return Wildcard
	}

	return transactionID
}
