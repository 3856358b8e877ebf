package schema

import "fmt"

// Bit is the per-attribute bit used in an instance's read/write masks
// (spec.md §3 "Instance state", §4.1 "bit masks used for dirty tracking").
type Bit uint64

// Kind tags the closed sum of attribute variants spec.md §3 names:
// Optional, Required, Unique, PrimaryKey, Discriminator, Set.
type Kind int

const (
	KindOptional Kind = iota
	KindRequired
	KindUnique
	KindPrimaryKey
	KindDiscriminator
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindOptional:
		return "optional"
	case KindRequired:
		return "required"
	case KindUnique:
		return "unique"
	case KindPrimaryKey:
		return "pk"
	case KindDiscriminator:
		return "discriminator"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

// ValueType identifies what an attribute holds: a scalar Go type or a
// reference to another entity.
type ValueType struct {
	Scalar     ScalarType // valid when EntityName == ""
	EntityName string     // target entity name when this is a relational attribute
}

// ScalarType enumerates the basic column types the engine converts between
// Go values and driver parameters. Column-level dialect rendering is left to
// the Provider (spec.md §1 "out of scope").
type ScalarType int

const (
	ScalarString ScalarType = iota
	ScalarInt
	ScalarFloat
	ScalarBool
	ScalarTime
	ScalarBytes
)

// Attribute is a single declared attribute of an Entity. Fields not relevant
// to a given Kind are left zero; Go has no tagged-union syntax, so Kind plus
// the flags below stand in for the closed sum spec.md describes.
type Attribute struct {
	Name     string
	Entity   *Entity // declaring entity, set by (*Schema).Entity
	Kind     Kind
	Type     ValueType
	Columns  []string // one column for scalars; one per target-PK column for to-one refs
	Bit      Bit
	PKOffset int // position within the entity's composite primary key, or -1

	// Reverse is the paired attribute on Type.EntityName, resolved during
	// (*Schema).Generate. Nil for scalar attributes.
	Reverse *Attribute

	// CompositeKeys lists (Key, position) pairs this attribute participates
	// in beyond its own Kind==KindUnique/KindPrimaryKey declaration, i.e.
	// membership in a secondary composite key declared on the Entity.
	CompositeKeys []CompositeKeyMembership

	IsRequired   bool
	IsUnique     bool
	IsIndexed    bool
	IsPK         bool
	IsCollection bool // Kind == KindSet
	IsRef        bool // Type.EntityName != ""
	IsBasic      bool // scalar, non-collection

	// reverseName is the string name given at declaration time, resolved to
	// Reverse by (*Schema).Generate. Empty means "infer by unique match".
	reverseName string

	// A concrete subclass's discriminator tag is not stored on the
	// attribute; it lives in Entity.DiscriminatorValue.
}

// CompositeKeyMembership records that an attribute is one column of a
// multi-attribute secondary key.
type CompositeKeyMembership struct {
	Key      *Key
	Position int
}

// Check coerces/validates a raw value against this attribute's declared
// type before it is stored in an instance's vals map. It mirrors the
// Entity.__init__ per-field check() spec.md §4.2 "Construction" describes.
func (a *Attribute) Check(v any) (any, error) {
	if v == nil {
		if a.IsRequired {
			return nil, fmt.Errorf("%w: %s.%s is required", errConstraint, a.Entity.Name, a.Name)
		}
		return nil, nil
	}
	if a.IsRef {
		inst, ok := v.(Identity)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s expects an entity reference, got %T", errConstraint, a.Entity.Name, a.Name, v)
		}
		return inst, nil
	}
	if a.IsCollection {
		return v, nil
	}
	coerced, err := coerceScalar(a.Type.Scalar, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %v", errConstraint, a.Entity.Name, a.Name, err)
	}
	return coerced, nil
}

func coerceScalar(want ScalarType, v any) (any, error) {
	switch want {
	case ScalarString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case ScalarInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case int32:
			return int64(n), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
	case ScalarFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("expected float, got %T", v)
		}
	case ScalarBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case ScalarBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected []byte, got %T", v)
		}
		return b, nil
	default:
		return v, nil
	}
}

// Identity is the minimal interface an entity instance must satisfy to be
// assignable to a relational attribute. session.Instance implements
// it; schema stays independent of the runtime package to avoid an import cycle.
type Identity interface {
	EntityName() string
	PKValue() any
}
