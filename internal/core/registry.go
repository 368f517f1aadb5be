package core

import "sync"

// Member is anything the registry can deliver room events to.
// Deliver must not block.
type Member interface {
	Deliver(ev *Event) bool
}

// Registry is the process-local room membership table. It keeps both
// directions (room to members, member to room) under one lock so a member is
// always in exactly zero or one room.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[Member]struct{}
	members map[Member]string
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[Member]struct{}),
		members: make(map[Member]string),
	}
}

// Join moves m into room, leaving its previous room in the same step.
// Returns the previous room, empty if m was not registered.
func (r *Registry) Join(m Member, room string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.members[m]
	if ok {
		r.remove(m, prev)
	}
	r.add(m, room)
	return prev
}

// Leave removes m from its room. Returns the room it left, empty if absent.
func (r *Registry) Leave(m Member) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[m]
	if !ok {
		return ""
	}
	r.remove(m, room)
	return room
}

// Replace puts next in old's room slot. onSwap, if set, runs while the lock
// is held, after the swap, so no room delivery can interleave with it.
// Returns false if old is not registered.
func (r *Registry) Replace(old, next Member, onSwap func()) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.members[old]
	if !ok {
		return "", false
	}
	r.remove(old, room)
	if prev, ok := r.members[next]; ok {
		r.remove(next, prev)
	}
	r.add(next, room)
	if onSwap != nil {
		onSwap()
	}
	return room, true
}

// RoomOf returns the room m is in.
func (r *Registry) RoomOf(m Member) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.members[m]
	return room, ok
}

// BroadcastLocal delivers ev to every member of room on this process,
// skipping except. Returns the number of members that accepted it.
func (r *Registry) BroadcastLocal(room string, ev *Event, except Member) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for m := range r.rooms[room] {
		if m == except {
			continue
		}
		if m.Deliver(ev) {
			delivered++
		}
	}
	return delivered
}

// Count returns the number of local members in room.
func (r *Registry) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns the number of rooms with at least one local member.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) add(m Member, room string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[Member]struct{})
		r.rooms[room] = members
	}
	members[m] = struct{}{}
	r.members[m] = room
}

func (r *Registry) remove(m Member, room string) {
	delete(r.members, m)
	members := r.rooms[room]
	delete(members, m)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}
