// Package groups tracks chat group membership. Membership is independent of
// presence: members stay in their groups across disconnects, and a group
// persists even after its last member leaves.
package groups

import (
	"sort"
	"strings"
	"sync"
)

// Group is a point-in-time view of one group, as used in group-list payloads.
type Group struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// Registry maps group names to member sets. All methods are safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]map[string]struct{}
}

// NewRegistry creates an empty group registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]map[string]struct{})}
}

// Create makes a group containing only initialMember. Creating a name that
// already exists joins initialMember to it instead; repeated creates are how
// further clients end up in the same group. Returns false when the name or
// member is empty after trimming.
func (r *Registry) Create(name, initialMember string) bool {
	name = strings.TrimSpace(name)
	initialMember = strings.TrimSpace(initialMember)
	if name == "" || initialMember == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.byName[name]
	if !exists {
		members = make(map[string]struct{})
		r.byName[name] = members
	}
	members[initialMember] = struct{}{}
	return true
}

// Join adds member to an existing group. Returns false without side effects
// when the group does not exist.
func (r *Registry) Join(name, member string) bool {
	name = strings.TrimSpace(name)
	member = strings.TrimSpace(member)
	if name == "" || member == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.byName[name]
	if !exists {
		return false
	}
	members[member] = struct{}{}
	return true
}

// Leave removes member from the group. A missing group or non-member is a
// no-op. Empty groups are kept around so their names stay claimed.
func (r *Registry) Leave(name, member string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, exists := r.byName[strings.TrimSpace(name)]; exists {
		delete(members, strings.TrimSpace(member))
	}
}

// MembersOf returns the members of the named group, sorted. Unknown groups
// yield an empty slice.
func (r *Registry) MembersOf(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, exists := r.byName[strings.TrimSpace(name)]
	if !exists {
		return nil
	}
	return sortedMembers(members)
}

// Exists reports whether the named group has been created.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

// Snapshot returns every group with its members, sorted by group name, for
// group-list broadcasts.
func (r *Registry) Snapshot() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Group, 0, len(r.byName))
	for name, members := range r.byName {
		list = append(list, Group{Name: name, Members: sortedMembers(members)})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func sortedMembers(members map[string]struct{}) []string {
	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
