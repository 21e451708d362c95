package model

import (
	"fmt"
	"regexp"
	"sort"
)

// EntityType names a kind of business object that is synchronized.
type EntityType string

// Known entity types of the school-administration client.
const (
	EntityStudent    EntityType = "student"
	EntityGuardian   EntityType = "guardian"
	EntityTeacher    EntityType = "teacher"
	EntityClass      EntityType = "class"
	EntityGrade      EntityType = "grade"
	EntityAttendance EntityType = "attendance"
	EntityPayslip    EntityType = "payslip"
	EntityInvoice    EntityType = "invoice"
)

// defaultCollections maps each known entity type to its collection name.
var defaultCollections = map[EntityType]string{
	EntityStudent:    "students",
	EntityGuardian:   "guardians",
	EntityTeacher:    "teachers",
	EntityClass:      "classes",
	EntityGrade:      "grades",
	EntityAttendance: "attendance_records",
	EntityPayslip:    "payslips",
	EntityInvoice:    "invoices",
}

// KnownEntityTypes returns every built-in entity type in lexical order.
func KnownEntityTypes() []EntityType {
	types := make([]EntityType, 0, len(defaultCollections))
	for t := range defaultCollections {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// reservedCollections cannot be used for entity data.
var reservedCollections = map[string]bool{
	"outbox_events": true,
	"sync_state":    true,
	"client_info":   true,
}

// Collection is a resolved handle to the storage of one entity type.
// Only a Registry creates Collections, so a Collection value always names
// a validated table.
type Collection struct {
	entityType EntityType
	name       string
}

// EntityType returns the entity type stored in the collection.
func (c Collection) EntityType() EntityType { return c.entityType }

// Name returns the validated table name of the collection.
func (c Collection) Name() string { return c.name }

// IsZero reports whether c was not produced by a Registry.
func (c Collection) IsZero() bool { return c.name == "" }

// Registry maps entity types to collections. It is built once at startup
// and is read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	byType map[EntityType]Collection
	order  []EntityType
}

// NewRegistry resolves the given entity types to collections.
// With no arguments every known entity type is registered.
func NewRegistry(types ...EntityType) (*Registry, error) {
	if len(types) == 0 {
		types = KnownEntityTypes()
	}

	r := &Registry{byType: make(map[EntityType]Collection, len(types))}
	for _, t := range types {
		if _, dup := r.byType[t]; dup {
			continue
		}
		name, ok := defaultCollections[t]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
		}
		if !collectionNamePattern.MatchString(name) || reservedCollections[name] {
			return nil, fmt.Errorf("invalid collection name %q for entity type %q", name, t)
		}
		r.byType[t] = Collection{entityType: t, name: name}
		r.order = append(r.order, t)
	}

	return r, nil
}

// MustRegistry is like NewRegistry but panics on error. Used in tests.
func MustRegistry(types ...EntityType) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

// Collection resolves an entity type to its collection.
func (r *Registry) Collection(t EntityType) (Collection, error) {
	c, ok := r.byType[t]
	if !ok {
		return Collection{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	return c, nil
}

// ParseEntityType resolves a user-supplied name against the registry.
func (r *Registry) ParseEntityType(name string) (EntityType, error) {
	t := EntityType(name)
	if _, ok := r.byType[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, name)
	}
	return t, nil
}

// Collections returns all registered collections in registration order.
func (r *Registry) Collections() []Collection {
	out := make([]Collection, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.byType[t])
	}
	return out
}
