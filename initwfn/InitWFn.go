// Package initwfn implements seeded weight initializers that can be
// JSON serialized into configuration files.
//
// Gorgonia's built-in initializers draw from the global math/rand
// source, so two runs with the same configuration end up with
// different networks. The initializers in this package instead draw
// from a source created from an explicit seed.
package initwfn

import (
	"encoding/json"
	"fmt"
	"reflect"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Type describes different types of InitWFn that are available.
// Type is used to implement a basic type system of InitWFn's.
type Type string

// Available InitWFn types
const (
	GlorotU  Type = "GlorotU"
	GlorotN  Type = "GlorotN"
	HeU      Type = "HeU"
	HeN      Type = "HeN"
	Gaussian Type = "Gaussian"
	Zeroes   Type = "Zeroes"
	Ones     Type = "Ones"
	Constant Type = "Constant"
)

// InitWFn wraps a weight initializer configuration so that it can be
// JSON marshalled and unmarshalled.
type InitWFn struct {
	Type
	Config
}

// newInitWFn returns a new InitWFn
func newInitWFn(c Config) (*InitWFn, error) {
	if c == nil {
		return nil, fmt.Errorf("newInitWFn: nil configuration")
	}
	return &InitWFn{Type: c.Type(), Config: c}, nil
}

// InitWFn returns a Gorgonia InitWFn that draws its values from a
// source seeded with seed. Each call returns an independent
// initializer, and initializers created with the same seed produce
// the same sequence of weights.
func (i *InitWFn) InitWFn(seed uint64) G.InitWFn {
	return i.Config.Create(rand.New(rand.NewSource(seed)))
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	return fmt.Sprintf("{%v InitWFn: %v}", i.Type, i.Config)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (i *InitWFn) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(GlorotU):  reflect.TypeOf(GlorotUConfig{}),
			string(GlorotN):  reflect.TypeOf(GlorotNConfig{}),
			string(HeU):      reflect.TypeOf(HeUConfig{}),
			string(HeN):      reflect.TypeOf(HeNConfig{}),
			string(Gaussian): reflect.TypeOf(GaussianConfig{}),
			string(Zeroes):   reflect.TypeOf(ZeroesConfig{}),
			string(Ones):     reflect.TypeOf(OnesConfig{}),
			string(Constant): reflect.TypeOf(ConstantConfig{}),
		})
	if err != nil {
		return err
	}

	i.Type = typeName
	i.Config = config

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
		return nil, "", fmt.Errorf("unmarshalConfig: unknown initializer "+
			"type %v", typeName)
	}
	value := reflect.New(ty)

	if raw, ok := m[valueJsonField]; ok {
		valueBytes, err := json.Marshal(raw)
		if err != nil {
			return nil, "", err
		}
		if err = json.Unmarshal(valueBytes, value.Interface()); err != nil {
			return nil, "", err
		}
	}

	return value.Elem().Interface().(Config), Type(typeName), nil
}

// Config implements a weight initializer configuration and can be used
// to create the described Gorgonia InitWFn's.
type Config interface {
	// Create returns the Gorgonia InitWFn that the Config describes,
	// drawing any random values from rng
	Create(rng *rand.Rand) G.InitWFn

	// Type returns the type of Gorgonia InitWFn that is returned
	Type() Type
}

// fill returns a backing slice of dtype dt with prod(s) elements, each
// drawn from next.
func fill(dt tensor.Dtype, s []int, next func() float64) interface{} {
	size := 1
	for _, dim := range s {
		size *= dim
	}

	switch dt {
	case tensor.Float64:
		out := make([]float64, size)
		for i := range out {
			out[i] = next()
		}
		return out

	case tensor.Float32:
		out := make([]float32, size)
		for i := range out {
			out[i] = float32(next())
		}
		return out

	default:
		panic(fmt.Sprintf("initwfn: dtype %v not supported", dt))
	}
}

// fans returns the fan in and fan out of a weight tensor with shape s.
// Weight matrices are stored as (inputs, outputs).
func fans(s []int) (int, int) {
	switch len(s) {
	case 0:
		return 1, 1
	case 1:
		return 1, s[0]
	}

	receptive := 1
	for _, dim := range s[2:] {
		receptive *= dim
	}
	return s[0] * receptive, s[1] * receptive
}
