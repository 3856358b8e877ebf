// Package schema is the immutable, post-mapping model the session and query
// facility read: entities, attributes, keys, and the reverse-attribute
// resolution and column assignment spec.md §4.1 describes. It has no
// dependency on the session/entity-runtime or provider packages, mirroring
// the source engine's layering (schema generation must complete before any
// session can be opened against it).
package schema

import (
	"errors"
	"fmt"
	"sort"
)

// errConstraint is attribute.go's sentinel for Attribute.Check failures.
// Declared here (not in corm) to avoid an import cycle; the session layer
// wraps Check failures together with its ErrConstraintViolation (which corm
// re-exports), so errors.Is matches either sentinel.
var errConstraint = errors.New("constraint violation")

// ErrConstraint exposes errConstraint for errors.Is comparisons from
// outside the package without creating an import cycle with internal/corm.
var ErrConstraint = errConstraint

// ErrSchema is the package-local sentinel for ER-diagram declaration
// errors; internal/corm re-exports it via errors.Is, not redeclaration.
var ErrSchema = errors.New("schema error")

// Schema is the Database of spec.md §3: the root of every Entity declared
// against it, plus the validation rules and cached discriminator wiring
// produced by Generate.
type Schema struct {
	Name     string
	entities map[string]*Entity
	order    []string // declaration order, for deterministic iteration
	generated bool
}

// New creates an empty, mutable Schema. Entities are declared with Entity
// until Generate freezes the schema; after Generate, the returned *Entity
// values and their Attribute slices must not be mutated (spec.md §5
// "the schema is read-only after generate_mapping").
func New(name string) *Schema {
	return &Schema{Name: name, entities: make(map[string]*Entity)}
}

// SchemaError is one ER-diagram declaration failure (spec.md §7
// "Schema/ER-diagram errors"). Generate collects every violation it finds
// rather than stopping at the first, mirroring Pieczasz-smf's core
// validation pass.
type SchemaError struct {
	Entity  string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Entity == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

// SchemaErrors is a non-empty collection of SchemaError, returned by
// Generate when declarations are inconsistent.
type SchemaErrors []*SchemaError

func (es SchemaErrors) Error() string {
	if len(es) == 1 {
		return es[0].Error()
	}
	msg := fmt.Sprintf("%d schema errors:", len(es))
	for _, e := range es {
		msg += "\n  " + e.Error()
	}
	return msg
}

// Entity declares a new entity. bases, when non-empty, establishes an
// inheritance chain; spec.md §4.1 restricts multi-base diamonds to a single
// root table, enforced in Generate.
func (s *Schema) Entity(name, table string, bases []*Entity, specs []AttributeSpec) (*Entity, error) {
	if s.generated {
		return nil, fmt.Errorf("%w: schema already generated, cannot declare %s", ErrSchema, name)
	}
	if _, dup := s.entities[name]; dup {
		return nil, fmt.Errorf("%w: duplicate entity %s", ErrSchema, name)
	}
	e := &Entity{Name: name, DB: s, Table: table, Bases: bases}
	for _, b := range bases {
		b.Subs = append(b.Subs, e)
	}
	for _, spec := range specs {
		a := &Attribute{
			Name:        spec.Name,
			Entity:      e,
			Kind:        spec.Kind,
			Type:        ValueType{Scalar: spec.Scalar, EntityName: spec.RefName},
			PKOffset:    -1,
			reverseName: spec.Reverse,
		}
		a.IsRequired = spec.Kind == KindRequired || spec.Kind == KindPrimaryKey
		a.IsUnique = spec.Kind == KindUnique || spec.Kind == KindPrimaryKey
		a.IsPK = spec.Kind == KindPrimaryKey
		a.IsCollection = spec.Kind == KindSet
		a.IsRef = spec.RefName != ""
		a.IsBasic = !a.IsRef && !a.IsCollection
		a.IsIndexed = a.IsUnique || a.IsPK
		e.New = append(e.New, a)
		if a.IsPK {
			e.PrimaryKey = append(e.PrimaryKey, a)
		}
	}
	s.entities[name] = e
	s.order = append(s.order, name)
	return e, nil
}

// SetDiscriminatorValue tags e as a concrete subclass identified by value in
// its root's discriminator column (spec.md §9 "Inheritance"). Only valid
// before Generate, and only on an entity that has at least one base — the
// root itself is not tagged, since it is the union the tag distinguishes
// from.
func (s *Schema) SetDiscriminatorValue(e *Entity, value string) error {
	if s.generated {
		return fmt.Errorf("%w: schema already generated", ErrSchema)
	}
	if len(e.Bases) == 0 {
		return fmt.Errorf("%w: %s has no base to discriminate from", ErrSchema, e.Name)
	}
	e.DiscriminatorValue = value
	return nil
}

// SecondaryKey declares a (possibly composite) unique key on e beyond its
// per-attribute Kind==KindUnique declarations.
func (s *Schema) SecondaryKey(e *Entity, keyName string, attrNames ...string) error {
	if s.generated {
		return fmt.Errorf("%w: schema already generated", ErrSchema)
	}
	var attrs []*Attribute
	for _, n := range attrNames {
		a, ok := e.byNameDuringBuild(n)
		if !ok {
			return fmt.Errorf("%w: %s has no attribute %q for secondary key %s", ErrSchema, e.Name, n, keyName)
		}
		attrs = append(attrs, a)
	}
	k := &Key{Name: keyName, Entity: e, Attributes: attrs}
	e.Secondary = append(e.Secondary, k)
	for i, a := range attrs {
		a.CompositeKeys = append(a.CompositeKeys, CompositeKeyMembership{Key: k, Position: i})
	}
	return nil
}

// byNameDuringBuild looks an attribute up in New before Generate has merged
// base attributes into byName.
func (e *Entity) byNameDuringBuild(name string) (*Attribute, bool) {
	for _, a := range e.New {
		if a.Name == name {
			return a, true
		}
	}
	for _, b := range e.Bases {
		if a, ok := b.byNameDuringBuild(name); ok {
			return a, true
		}
	}
	return nil, false
}

// Generate freezes the schema: resolves reverse attributes, assigns
// columns, computes inheritance roots/discriminators, and validates every
// invariant in spec.md §3. It must be called exactly once, after every
// Entity/SecondaryKey call and before any session opens against this schema.
func (s *Schema) Generate() error {
	if s.generated {
		return fmt.Errorf("%w: schema already generated", ErrSchema)
	}
	var errs SchemaErrors

	for _, name := range s.topoOrder() {
		s.entities[name].computeAll()
	}

	s.resolveReverses(&errs)
	s.assignColumns(&errs)
	s.setupInheritance(&errs)
	s.validatePrimaryKeys(&errs)
	s.validateDiscriminators(&errs)

	if len(errs) > 0 {
		return errs
	}
	s.generated = true
	return nil
}

// topoOrder returns entity names with every base preceding its subclasses,
// required so computeAll can assume bases are already merged.
func (s *Schema) topoOrder() []string {
	visited := make(map[string]bool)
	var out []string
	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		e := s.entities[name]
		for _, b := range e.Bases {
			visit(b.Name)
		}
		out = append(out, name)
	}
	names := append([]string(nil), s.order...)
	sort.Strings(names) // deterministic regardless of declaration order ties
	for _, n := range names {
		visit(n)
	}
	return out
}

// resolveReverses implements spec.md §4.1 "Reverse resolution": for every
// relational attribute, find or confirm the paired attribute on the target
// entity.
func (s *Schema) resolveReverses(errs *SchemaErrors) {
	for _, name := range s.order {
		e := s.entities[name]
		for _, a := range e.New {
			if !a.IsRef || a.Reverse != nil {
				continue
			}
			target, ok := s.entities[a.Type.EntityName]
			if !ok {
				*errs = append(*errs, &SchemaError{e.Name, fmt.Sprintf("attribute %s references unknown entity %s", a.Name, a.Type.EntityName)})
				continue
			}
			rev, err := findReverse(a, target)
			if err != nil {
				*errs = append(*errs, &SchemaError{e.Name, err.Error()})
				continue
			}
			if rev == nil {
				// No reverse side declared: this relational attribute is
				// one-directional. Leave Reverse nil; the entity runtime
				// must not attempt fixup on it.
				continue
			}
			a.Reverse = rev
			rev.Reverse = a
		}
	}
}

// findReverse implements the two-phase search spec.md §4.1 describes:
// first an explicit name match, then a unique candidate whose target
// matches and whose reverse is unset.
func findReverse(a *Attribute, target *Entity) (*Attribute, error) {
	if a.reverseName != "" {
		cand, ok := target.byNameDuringBuild(a.reverseName)
		if !ok {
			return nil, fmt.Errorf("attribute %s.%s declares reverse %q which does not exist on %s", a.Entity.Name, a.Name, a.reverseName, target.Name)
		}
		return cand, nil
	}
	var candidates []*Attribute
	for _, cand := range target.New {
		if cand.IsRef && cand.Type.EntityName == a.Entity.Name && cand.Reverse == nil && cand != a {
			candidates = append(candidates, cand)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return candidates[0], nil
	default:
		return nil, fmt.Errorf("ambiguous reverse for %s.%s: multiple unreferenced candidates on %s", a.Entity.Name, a.Name, target.Name)
	}
}

// assignColumns implements spec.md §4.1 "Column assignment": a scalar
// defaults its column to its name; a to-one attribute gets one column per
// target PK column, composed as "name-pkpath"; collections own no column of
// their own (their storage is a link table, assigned once both sides'
// reverses are known).
func (s *Schema) assignColumns(errs *SchemaErrors) {
	for _, name := range s.order {
		e := s.entities[name]
		for _, a := range e.New {
			switch {
			case a.IsBasic:
				if len(a.Columns) == 0 {
					a.Columns = []string{a.Name}
				}
			case a.IsRef && !a.IsCollection:
				target, ok := s.entities[a.Type.EntityName]
				if !ok {
					continue // already reported by resolveReverses
				}
				if len(target.PrimaryKey) == 0 {
					*errs = append(*errs, &SchemaError{e.Name, fmt.Sprintf("attribute %s references %s before its primary key is known", a.Name, target.Name)})
					continue
				}
				for _, pk := range target.PrimaryKey {
					a.Columns = append(a.Columns, fmt.Sprintf("%s-%s", a.Name, pk.Name))
				}
			case a.IsCollection:
				// Link-table naming is resolved lazily by the entity
				// runtime's batch loader (spec.md §4.2 "Collections"),
				// since it depends on both reverse ends being frozen.
			}
		}
	}
}

// setupInheritance implements spec.md §4.1 "Inheritance": multiple bases
// must form a diamond through one root, and a discriminator column is
// auto-created on the root whenever any subclass exists.
func (s *Schema) setupInheritance(errs *SchemaErrors) {
	for _, name := range s.order {
		e := s.entities[name]
		if len(e.Bases) <= 1 {
			continue
		}
		roots := make(map[*Entity]bool)
		for _, b := range e.Bases {
			roots[b.Root()] = true
		}
		if len(roots) > 1 {
			*errs = append(*errs, &SchemaError{e.Name, "multiple inheritance does not form a diamond through a single root"})
		}
	}

	for _, name := range s.order {
		e := s.entities[name]
		if len(e.Bases) > 0 || len(e.Subs) == 0 {
			continue
		}
		if e.Discriminator != nil {
			continue
		}
		disc := &Attribute{
			Name:   "discriminator",
			Entity: e,
			Kind:   KindDiscriminator,
			Type:   ValueType{Scalar: ScalarString},
		}
		disc.IsBasic = true
		disc.Columns = []string{disc.Name}
		e.Discriminator = disc
		e.New = append(e.New, disc)
	}

	// Recompute every entity, bases first, so subclasses inherit the root's
	// new discriminator attribute as well.
	for _, name := range s.topoOrder() {
		s.entities[name].computeAll()
	}
}

func (s *Schema) validatePrimaryKeys(errs *SchemaErrors) {
	for _, name := range s.order {
		e := s.entities[name]
		if e.abstract || len(e.Bases) > 0 {
			continue // inherited PK belongs to the root
		}
		if len(e.PrimaryKey) == 0 {
			*errs = append(*errs, &SchemaError{e.Name, "entity has no primary key"})
		}
		for i, a := range e.PrimaryKey {
			a.PKOffset = i
		}
	}
}

func (s *Schema) validateDiscriminators(errs *SchemaErrors) {
	for _, name := range s.order {
		e := s.entities[name]
		if len(e.Bases) == 0 || e.DiscriminatorValue == "" {
			continue
		}
		root := e.Root()
		for _, sib := range root.Subs {
			if sib != e && sib.DiscriminatorValue == e.DiscriminatorValue {
				*errs = append(*errs, &SchemaError{e.Name, fmt.Sprintf("discriminator value %q collides with sibling %s", e.DiscriminatorValue, sib.Name)})
			}
		}
	}
}

// Entities returns every declared entity in declaration order.
func (s *Schema) Entities() []*Entity {
	out := make([]*Entity, len(s.order))
	for i, n := range s.order {
		out[i] = s.entities[n]
	}
	return out
}

// EntityByName looks an entity up by its declared name.
func (s *Schema) EntityByName(name string) (*Entity, bool) {
	e, ok := s.entities[name]
	return e, ok
}

// Generated reports whether Generate has already run.
func (s *Schema) Generated() bool { return s.generated }
