// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be JSON serialized into configuration files.
//
// Gorgonia solvers keep per-parameter state (e.g. Adam's moment
// estimates), so a Solver is a factory: call Create() once for each
// network that is trained.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
)

// Solver wraps Gorgonia Solver configurations so that they can be JSON
// marshalled and unmarshalled.
type Solver struct {
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newSolver: %v", err)
	}

	return &Solver{Type: t, Config: c}, nil
}

// Validate returns an error if the Solver cannot be created
func (s *Solver) Validate() error {
	if s.Config == nil {
		return fmt.Errorf("validate: no solver configuration")
	}
	if !s.Config.ValidType(s.Type) {
		return fmt.Errorf("validate: invalid solver type %v for "+
			"configuration %T", s.Type, s.Config)
	}
	return s.Config.Validate()
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
		})
	if err != nil {
		return err
	}

	s.Type = typeName
	s.Config = config

	return nil
}

// unmarshalConfig uses reflection to unmarshall a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJsonField, valueJsonField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName, ok := m[typeJsonField].(string)
	if !ok {
		return nil, "", fmt.Errorf("unmarshalConfig: missing %v field",
			typeJsonField)
	}
	ty, found := customTypes[typeName]
	if !found {
		return nil, "", fmt.Errorf("unmarshalConfig: unknown solver type %v",
			typeName)
	}
	value := reflect.New(ty)

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	if err = json.Unmarshal(valueBytes, value.Interface()); err != nil {
		return nil, "", err
	}

	return value.Elem().Interface().(Config), Type(typeName), nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool

	Validate() error
}
