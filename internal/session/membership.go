package session

import (
	"sync"

	"github.com/samber/lo"
)

type memberSet map[ConnID]struct{}

// Membership keeps every connection in at most one group. groupOf and members
// are updated together under mu, so a reader never sees a connection in two
// groups or, in the middle of a move, in none.
type Membership struct {
	mu      sync.RWMutex
	groupOf map[ConnID]string
	members map[string]memberSet
}

func NewMembership() *Membership {
	return &Membership{
		groupOf: make(map[ConnID]string),
		members: make(map[string]memberSet),
	}
}

// Join moves id into group, evicting it from its current group first. It
// returns the group the connection left, if any.
func (m *Membership) Join(id ConnID, group string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous, hadPrevious := m.groupOf[id]
	if hadPrevious {
		m.removeLocked(id, previous)
	}

	set, ok := m.members[group]
	if !ok {
		set = make(memberSet)
		m.members[group] = set
	}
	set[id] = struct{}{}
	m.groupOf[id] = group

	return previous, hadPrevious
}

// Leave drops id from its group and returns the group it belonged to.
func (m *Membership) Leave(id ConnID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groupOf[id]
	if !ok {
		return "", false
	}
	m.removeLocked(id, group)
	return group, true
}

// removeLocked clears the mapping and the reverse index entry. Empty groups
// are dropped so the index does not grow with abandoned group names.
func (m *Membership) removeLocked(id ConnID, group string) {
	delete(m.groupOf, id)
	if set, ok := m.members[group]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m.members, group)
		}
	}
}

// MembersOf returns a snapshot of the connections currently in group.
func (m *Membership) MembersOf(group string) []ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.members[group])
}

func (m *Membership) GroupOf(id ConnID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groupOf[id]
	return g, ok
}

// Groups returns the member count of every non-empty group.
func (m *Membership) Groups() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.MapValues(m.members, func(set memberSet, _ string) int {
		return len(set)
	})
}
