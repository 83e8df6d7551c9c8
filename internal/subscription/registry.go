// Package subscription tracks which connections are subscribed to which
// destinations.
package subscription

import (
	"errors"
	"maps"
	"slices"
	"sync"
)

var (
	ErrDuplicateID = errors.New("subscription id already in use")
	ErrUnknownID   = errors.New("unknown subscription id")
)

// Subscriber is one connection subscribed to a destination. SubscriptionID
// is the connection's earliest open subscription id for that destination.
type Subscriber struct {
	ConnID         string
	SubscriptionID string
}

// Registry owns both directions of the subscription mapping. Connections
// are referenced by id only. A single lock makes every mutation and every
// routing snapshot atomic with respect to the others.
type Registry struct {
	mu sync.RWMutex
	// destinations holds every open subscription per destination in
	// registration order. A connection may appear more than once.
	destinations map[string][]Subscriber
	// connections maps connection id to its subscription id -> destination.
	connections map[string]map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		destinations: make(map[string][]Subscriber),
		connections:  make(map[string]map[string]string),
	}
}

func (r *Registry) Subscribe(connID, id, destination string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.connections[connID]
	if !ok {
		subs = make(map[string]string)
		r.connections[connID] = subs
	}
	if _, exists := subs[id]; exists {
		return ErrDuplicateID
	}
	subs[id] = destination
	r.destinations[destination] = append(r.destinations[destination], Subscriber{ConnID: connID, SubscriptionID: id})
	return nil
}

// Unsubscribe closes subscription id of connID and returns its destination.
func (r *Registry) Unsubscribe(connID, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	destination, ok := r.connections[connID][id]
	if !ok {
		return "", ErrUnknownID
	}
	delete(r.connections[connID], id)
	if len(r.connections[connID]) == 0 {
		delete(r.connections, connID)
	}
	r.removeEntries(destination, func(s Subscriber) bool {
		return s.ConnID == connID && s.SubscriptionID == id
	})
	return destination, nil
}

// RemoveConnection drops every subscription of connID and returns the
// destinations it was subscribed to.
func (r *Registry) RemoveConnection(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.connections[connID]
	if !ok {
		return nil
	}
	delete(r.connections, connID)

	var destinations []string
	for _, destination := range subs {
		if slices.Contains(destinations, destination) {
			continue
		}
		destinations = append(destinations, destination)
		r.removeEntries(destination, func(s Subscriber) bool {
			return s.ConnID == connID
		})
	}
	slices.Sort(destinations)
	return destinations
}

func (r *Registry) removeEntries(destination string, match func(Subscriber) bool) {
	entries := slices.DeleteFunc(r.destinations[destination], match)
	if len(entries) == 0 {
		delete(r.destinations, destination)
		return
	}
	r.destinations[destination] = entries
}

// Subscribers returns the destination's subscriber set, each connection
// once, ordered by its earliest open subscription.
func (r *Registry) Subscribers(destination string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subscribers(destination)
}

func (r *Registry) subscribers(destination string) []Subscriber {
	entries := r.destinations[destination]
	result := make([]Subscriber, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.ConnID]; ok {
			continue
		}
		seen[entry.ConnID] = struct{}{}
		result = append(result, entry)
	}
	return result
}

// Route returns the subscriber snapshot for a publish by connID. ok is false
// when connID holds no open subscription to the destination.
func (r *Registry) Route(connID, destination string) (subscribers []Subscriber, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, dest := range r.connections[connID] {
		if dest == destination {
			return r.subscribers(destination), true
		}
	}
	return nil, false
}

// Subscriptions returns a copy of connID's subscription id -> destination map.
func (r *Registry) Subscriptions(connID string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.connections[connID])
}

// Destinations lists the destinations that have at least one subscriber.
func (r *Registry) Destinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.destinations))
}
