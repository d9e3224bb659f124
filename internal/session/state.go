package session

// State owns the registries shared by every connection. One State is created
// at server start and lives for the process lifetime.
type State struct {
	Registry   *Registry
	Membership *Membership
}

func NewState() *State {
	return &State{
		Registry:   NewRegistry(),
		Membership: NewMembership(),
	}
}
