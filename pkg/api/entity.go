package api

import "strings"

// EntityID addresses a durable entity: a keyed object with internal state
// whose operations execute strictly one at a time.
type EntityID struct {
	Type string
	Key  string
}

// NewEntityID builds an EntityID from an entity type and key.
func NewEntityID(entityType, key string) EntityID {
	return EntityID{Type: entityType, Key: key}
}

func (id EntityID) String() string {
	return id.Type + "@" + id.Key
}

// IsZero reports whether the ID is empty.
func (id EntityID) IsZero() bool {
	return id.Type == "" && id.Key == ""
}

// ParseEntityID parses the "type@key" form produced by EntityID.String.
func ParseEntityID(s string) (EntityID, error) {
	typ, key, ok := strings.Cut(s, "@")
	if !ok || typ == "" || key == "" {
		return EntityID{}, NewValidationError("malformed entity id %q, want type@key", s)
	}
	return EntityID{Type: typ, Key: key}, nil
}

// EntityContext is the interface an entity operation uses to read and mutate
// its entity's state and to return a result to a calling orchestration.
type EntityContext interface {
	// ID returns the identity of the entity being operated on.
	ID() EntityID

	// Operation returns the name of the operation being executed.
	Operation() string

	// Input returns the operation input payload.
	Input() any

	// State returns the current state document and whether one exists.
	State() (any, bool)

	// SetState replaces the state document.
	SetState(v any)

	// DeleteState removes the state document. The entity identity may be
	// reused later; a future operation starts from scratch.
	DeleteState()

	// Return sets the result delivered to a two-way caller. It has no
	// effect for one-way signals.
	Return(v any)
}

// EntityOp is a single named operation of an entity.
type EntityOp func(ctx EntityContext) error

// EntityDefinition declares an entity type and its operation table. The
// table is validated at registration time so unknown or nil operations are
// caught before any signal or call is dispatched.
type EntityDefinition struct {
	Name string
	Ops  map[string]EntityOp
}

// Validate checks the definition for structural problems.
func (d EntityDefinition) Validate() error {
	if d.Name == "" {
		return NewValidationError("entity name is required")
	}
	if len(d.Ops) == 0 {
		return NewValidationError("entity %q declares no operations", d.Name)
	}
	for op, fn := range d.Ops {
		if op == "" {
			return NewValidationError("entity %q has an operation with an empty name", d.Name)
		}
		if fn == nil {
			return NewValidationError("entity %q operation %q has a nil handler", d.Name, op)
		}
	}
	return nil
}
