package session

import "github.com/samber/lo"

type targetKind int

const (
	targetCaller targetKind = iota
	targetOthers
	targetAll
	targetGroup
	targetGroupExcept
	targetClient
)

// Target is a logical delivery destination, resolved relative to the caller.
type Target struct {
	kind    targetKind
	group   string
	exclude ConnID
	client  ConnID
}

func Caller() Target { return Target{kind: targetCaller} }
func Others() Target { return Target{kind: targetOthers} }
func All() Target    { return Target{kind: targetAll} }

func Group(name string) Target {
	return Target{kind: targetGroup, group: name}
}

func GroupExcept(name string, exclude ConnID) Target {
	return Target{kind: targetGroupExcept, group: name, exclude: exclude}
}

func Client(id ConnID) Target {
	return Target{kind: targetClient, client: id}
}

// Router resolves targets against the registry and the group index. Results
// are point-in-time; an empty result is a valid outcome.
type Router struct {
	registry   *Registry
	membership *Membership
}

func NewRouter(registry *Registry, membership *Membership) *Router {
	return &Router{registry: registry, membership: membership}
}

func (r *Router) Resolve(caller ConnID, t Target) []ConnID {
	switch t.kind {
	case targetCaller:
		return []ConnID{caller}
	case targetOthers:
		return lo.Without(r.registry.IDs(), caller)
	case targetAll:
		return r.registry.IDs()
	case targetGroup:
		return r.membership.MembersOf(t.group)
	case targetGroupExcept:
		return lo.Without(r.membership.MembersOf(t.group), t.exclude)
	case targetClient:
		if _, ok := r.registry.Lookup(t.client); ok {
			return []ConnID{t.client}
		}
		return nil
	}
	return nil
}
