// Package schemafile loads an entity-relationship declaration from a TOML
// document into a *schema.Schema, the way Pieczasz-smf's internal/parser/toml
// package decodes a dialect-agnostic table declaration into a core.Database:
// a plain struct shape decoded by BurntSushi/toml, converted field-by-field
// into the engine's own model. Loading stops at the first declaration error
// this package finds; only the checks schema.Generate runs afterwards are
// collected and reported together.
package schemafile

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/cormdev/corm/internal/schema"
)

// document is the top-level TOML shape: a flat list of entities, each
// naming its bases by string so the file can declare an inheritance chain
// without needing forward Go pointers.
type document struct {
	Schema   string       `toml:"schema"`
	Entities []tomlEntity `toml:"entities"`
}

type tomlEntity struct {
	Name               string             `toml:"name"`
	Table              string             `toml:"table"`
	Bases              []string           `toml:"bases"`
	DiscriminatorValue string             `toml:"discriminator_value"`
	Attributes         []tomlAttribute    `toml:"attributes"`
	SecondaryKeys      []tomlSecondaryKey `toml:"secondary_keys"`
}

type tomlAttribute struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	Scalar  string `toml:"scalar"`
	RefName string `toml:"ref"`
	Reverse string `toml:"reverse"`
}

type tomlSecondaryKey struct {
	Name       string   `toml:"name"`
	Attributes []string `toml:"attributes"`
}

// ParseFile opens path and parses it as a TOML schema declaration.
func ParseFile(path string) (*schema.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schemafile: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a TOML schema declaration from r and builds the corresponding
// *schema.Schema, calling Generate before returning it.
func Parse(r io.Reader) (*schema.Schema, error) {
	var doc document
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("schemafile: decode: %w", err)
	}
	return newBuilder(&doc).build()
}

type builder struct {
	doc    *document
	byName map[string]*tomlEntity
	built  map[string]*schema.Entity
	s      *schema.Schema
}

func newBuilder(doc *document) *builder {
	b := &builder{
		doc:    doc,
		byName: make(map[string]*tomlEntity, len(doc.Entities)),
		built:  make(map[string]*schema.Entity, len(doc.Entities)),
	}
	for i := range doc.Entities {
		b.byName[doc.Entities[i].Name] = &doc.Entities[i]
	}
	return b
}

func (b *builder) build() (*schema.Schema, error) {
	name := b.doc.Schema
	if name == "" {
		name = "default"
	}
	b.s = schema.New(name)

	order, err := b.topoOrder()
	if err != nil {
		return nil, err
	}
	for _, ename := range order {
		if err := b.declareEntity(b.byName[ename]); err != nil {
			return nil, fmt.Errorf("schemafile: entity %q: %w", ename, err)
		}
	}
	for _, ename := range order {
		if err := b.declareSecondaryKeys(b.byName[ename]); err != nil {
			return nil, fmt.Errorf("schemafile: entity %q: %w", ename, err)
		}
	}

	if err := b.s.Generate(); err != nil {
		return nil, err
	}
	return b.s, nil
}

// topoOrder sorts entities so every base precedes its subclasses, the way
// Schema.Entity requires (it takes already-built *schema.Entity values for
// bases, not names). Names are sorted before the walk so the ordering is
// deterministic regardless of declaration order in the file.
func (b *builder) topoOrder() ([]string, error) {
	names := make([]string, 0, len(b.doc.Entities))
	for _, e := range b.doc.Entities {
		names = append(names, e.Name)
	}
	sort.Strings(names)

	visited := make(map[string]int) // 0=unvisited, 1=visiting, 2=done
	var order []string
	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("%w: inheritance cycle involving %s", schema.ErrSchema, name)
		}
		te, ok := b.byName[name]
		if !ok {
			return fmt.Errorf("%w: %s has unknown base", schema.ErrSchema, name)
		}
		visited[name] = 1
		for _, base := range te.Bases {
			if err := visit(base); err != nil {
				return err
			}
		}
		visited[name] = 2
		order = append(order, name)
		return nil
	}
	for _, n := range names {
		if err := visit(n); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (b *builder) declareEntity(te *tomlEntity) error {
	bases := make([]*schema.Entity, 0, len(te.Bases))
	for _, bn := range te.Bases {
		base, ok := b.built[bn]
		if !ok {
			return fmt.Errorf("%w: base %s not yet declared", schema.ErrSchema, bn)
		}
		bases = append(bases, base)
	}

	specs := make([]schema.AttributeSpec, 0, len(te.Attributes))
	for _, ta := range te.Attributes {
		kind, err := parseKind(ta.Kind)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", ta.Name, err)
		}
		var scalar schema.ScalarType
		if ta.RefName == "" {
			scalar, err = parseScalar(ta.Scalar)
			if err != nil {
				return fmt.Errorf("attribute %q: %w", ta.Name, err)
			}
		}
		specs = append(specs, schema.AttributeSpec{
			Name:    ta.Name,
			Kind:    kind,
			Scalar:  scalar,
			RefName: ta.RefName,
			Reverse: ta.Reverse,
		})
	}

	e, err := b.s.Entity(te.Name, te.Table, bases, specs)
	if err != nil {
		return err
	}
	if te.DiscriminatorValue != "" {
		if err := b.s.SetDiscriminatorValue(e, te.DiscriminatorValue); err != nil {
			return err
		}
	}
	b.built[te.Name] = e
	return nil
}

func (b *builder) declareSecondaryKeys(te *tomlEntity) error {
	e := b.built[te.Name]
	for _, sk := range te.SecondaryKeys {
		if err := b.s.SecondaryKey(e, sk.Name, sk.Attributes...); err != nil {
			return err
		}
	}
	return nil
}

func parseKind(raw string) (schema.Kind, error) {
	switch raw {
	case "", "optional":
		return schema.KindOptional, nil
	case "required":
		return schema.KindRequired, nil
	case "unique":
		return schema.KindUnique, nil
	case "primary_key":
		return schema.KindPrimaryKey, nil
	case "discriminator":
		return schema.KindDiscriminator, nil
	case "set":
		return schema.KindSet, nil
	default:
		return 0, fmt.Errorf("%w: unknown attribute kind %q", schema.ErrSchema, raw)
	}
}

func parseScalar(raw string) (schema.ScalarType, error) {
	switch raw {
	case "", "string":
		return schema.ScalarString, nil
	case "int":
		return schema.ScalarInt, nil
	case "float":
		return schema.ScalarFloat, nil
	case "bool":
		return schema.ScalarBool, nil
	case "time":
		return schema.ScalarTime, nil
	case "bytes":
		return schema.ScalarBytes, nil
	default:
		return 0, fmt.Errorf("%w: unknown scalar type %q", schema.ErrSchema, raw)
	}
}
