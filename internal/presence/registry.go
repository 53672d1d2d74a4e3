// Package presence tracks which connections belong to which broadcast groups
// and which users are currently connected, and mirrors online state into the
// user directory.
package presence

import (
	"sort"
	"sync"
)

type GroupKind string

const (
	// KindUser is a user's personal notification group, keyed by user id.
	KindUser GroupKind = "user"
	// KindConversation is a two-party conversation group.
	KindConversation GroupKind = "conversation"
)

// Group is a named broadcast scope. The kind keeps user ids and
// conversation ids from colliding.
type Group struct {
	Kind GroupKind `json:"kind"`
	ID   string    `json:"id"`
}

func UserGroup(userID string) Group {
	return Group{Kind: KindUser, ID: userID}
}

func ConversationGroup(conversationID string) Group {
	return Group{Kind: KindConversation, ID: conversationID}
}

func (g Group) String() string {
	return string(g.Kind) + ":" + g.ID
}

// Registry is the bidirectional group <-> connection mapping. Both sides are
// updated under the same lock, so readers never see half a mutation.
// Empty groups are removed and recreated lazily on the next join.
type Registry struct {
	mu      sync.RWMutex
	members map[Group]map[string]struct{}
	groups  map[string]map[Group]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		members: make(map[Group]map[string]struct{}),
		groups:  make(map[string]map[Group]struct{}),
	}
}

// Join adds conn to g. It reports false when conn was already a member.
func (r *Registry) Join(conn string, g Group) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[g][conn]; ok {
		return false
	}

	if r.members[g] == nil {
		r.members[g] = make(map[string]struct{})
	}
	r.members[g][conn] = struct{}{}

	if r.groups[conn] == nil {
		r.groups[conn] = make(map[Group]struct{})
	}
	r.groups[conn][g] = struct{}{}
	return true
}

// Leave removes conn from g. It reports false when conn was not a member.
func (r *Registry) Leave(conn string, g Group) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conn, g)
}

func (r *Registry) leaveLocked(conn string, g Group) bool {
	if _, ok := r.members[g][conn]; !ok {
		return false
	}

	delete(r.members[g], conn)
	if len(r.members[g]) == 0 {
		delete(r.members, g)
	}

	delete(r.groups[conn], g)
	if len(r.groups[conn]) == 0 {
		delete(r.groups, conn)
	}
	return true
}

// LeaveAll removes conn from every group and returns the groups it left.
func (r *Registry) LeaveAll(conn string) []Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make([]Group, 0, len(r.groups[conn]))
	for g := range r.groups[conn] {
		left = append(left, g)
	}
	for _, g := range left {
		r.leaveLocked(conn, g)
	}

	sortGroups(left)
	return left
}

// MembersOf returns the connection ids joined to g, sorted.
func (r *Registry) MembersOf(g Group) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]string, 0, len(r.members[g]))
	for conn := range r.members[g] {
		conns = append(conns, conn)
	}
	sort.Strings(conns)
	return conns
}

// GroupsOf returns the groups conn is joined to, sorted.
func (r *Registry) GroupsOf(conn string) []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make([]Group, 0, len(r.groups[conn]))
	for g := range r.groups[conn] {
		groups = append(groups, g)
	}
	sortGroups(groups)
	return groups
}

func (r *Registry) IsMember(conn string, g Group) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[g][conn]
	return ok
}

// Groups returns every non-empty group of the given kind.
func (r *Registry) Groups(kind GroupKind) []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var groups []Group
	for g := range r.members {
		if g.Kind == kind {
			groups = append(groups, g)
		}
	}
	sortGroups(groups)
	return groups
}

func sortGroups(groups []Group) {
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Kind != groups[j].Kind {
			return groups[i].Kind < groups[j].Kind
		}
		return groups[i].ID < groups[j].ID
	})
}
