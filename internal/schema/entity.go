package schema

import (
	"fmt"
	"sort"
)

// Entity is the schema-level declaration of a persistent class: its table
// binding, attribute set, keys, and position in an inheritance chain
// (spec.md §3 "Entity (schema-level)").
type Entity struct {
	Name    string
	DB      *Schema
	Table   string
	Bases   []*Entity
	Subs    []*Entity
	New     []*Attribute // attributes declared directly on this entity
	all     []*Attribute // New plus every base's attributes, computed by Generate
	byName  map[string]*Attribute

	PrimaryKey []*Attribute
	Secondary  []*Key

	Discriminator      *Attribute // nullable; set on the root when any sibling exists
	DiscriminatorValue string     // this entity's own tag, if it is a concrete subclass

	AllBits Bit // union of every attribute's Bit, cached by Generate

	abstract bool
}

// Key names a primary or secondary unique key: an ordered tuple of attributes.
type Key struct {
	Name       string
	Entity     *Entity
	Attributes []*Attribute
	Primary    bool
}

func (k *Key) String() string {
	names := make([]string, len(k.Attributes))
	for i, a := range k.Attributes {
		names[i] = a.Name
	}
	return fmt.Sprintf("%s%v", k.Entity.Name, names)
}

// AttributeSpec is the declaration-time shape passed to Schema.Entity; it is
// converted into a frozen *Attribute during Generate.
type AttributeSpec struct {
	Name    string
	Kind    Kind
	Scalar  ScalarType
	RefName string // target entity name, for to-one / to-many attributes
	Reverse string // explicit reverse attribute name; empty defers to inference
}

// Root walks Bases to the single inheritance root (spec.md §4.1
// "Inheritance: ... only the root declares the primary key").
func (e *Entity) Root() *Entity {
	cur := e
	for len(cur.Bases) > 0 {
		cur = cur.Bases[0]
	}
	return cur
}

// IsSubclassOf reports whether e inherits from ancestor, directly or
// transitively.
func (e *Entity) IsSubclassOf(ancestor *Entity) bool {
	if e == ancestor {
		return true
	}
	for _, b := range e.Bases {
		if b.IsSubclassOf(ancestor) {
			return true
		}
	}
	return false
}

// SubByDiscriminator resolves value (a discriminator column's raw contents)
// to the concrete entity it tags, searching e and its Subs recursively
// (spec.md §9 "row materialization dispatches on the discriminator value to
// the concrete constructor"). Reports false if no entity in e's subtree
// carries that tag, e.g. an unrecognized or legacy value already on disk.
func (e *Entity) SubByDiscriminator(value string) (*Entity, bool) {
	if e.DiscriminatorValue == value {
		return e, true
	}
	for _, sub := range e.Subs {
		if found, ok := sub.SubByDiscriminator(value); ok {
			return found, ok
		}
	}
	return nil, false
}

// Attributes returns every attribute visible on e: its own plus every base's,
// in declaration order with bases first. Valid only after Generate.
func (e *Entity) Attributes() []*Attribute { return e.all }

// Attribute looks up a visible attribute by name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	a, ok := e.byName[name]
	return a, ok
}

// MustAttribute is Attribute but panics on an unknown name; schema code that
// already validated the name (post-Generate) uses this to avoid ubiquitous
// error returns for what is, by then, a programming error.
func (e *Entity) MustAttribute(name string) *Attribute {
	a, ok := e.byName[name]
	if !ok {
		panic(fmt.Sprintf("schema: entity %s has no attribute %q", e.Name, name))
	}
	return a
}

// computeAll merges bases' attribute sets with New, bases first, and
// assigns bit positions. Called once by Schema.Generate in topological
// (base-before-sub) order.
func (e *Entity) computeAll() {
	e.byName = make(map[string]*Attribute)
	var all []*Attribute
	for _, b := range e.Bases {
		for _, a := range b.all {
			if _, dup := e.byName[a.Name]; !dup {
				all = append(all, a)
				e.byName[a.Name] = a
			}
		}
	}
	for _, a := range e.New {
		all = append(all, a)
		e.byName[a.Name] = a
	}
	e.all = all

	var bits Bit
	for i, a := range all {
		if a.Bit == 0 {
			a.Bit = Bit(1) << uint(i%63)
		}
		bits |= a.Bit
	}
	e.AllBits = bits
}

// sortedNew returns New sorted by name, used when schema errors need a
// deterministic order for reproducible messages/tests.
func (e *Entity) sortedNew() []*Attribute {
	out := append([]*Attribute(nil), e.New...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
