package initwfn

import (
	"encoding/json"
	"math"
	"testing"

	"gorgonia.org/tensor"
)

func TestSeededInitializersAreReproducible(t *testing.T) {
	inits := []func(float64) (*InitWFn, error){NewGlorotU, NewGlorotN,
		NewHeU, NewHeN}

	for _, newInit := range inits {
		initFn, err := newInit(1.0)
		if err != nil {
			t.Fatalf("new: %v", err)
		}

		a := initFn.InitWFn(7)(tensor.Float64, 4, 3).([]float64)
		b := initFn.InitWFn(7)(tensor.Float64, 4, 3).([]float64)
		c := initFn.InitWFn(8)(tensor.Float64, 4, 3).([]float64)
		if len(a) != 12 {
			t.Fatalf("%v: want 12 weights have(%v)", initFn.Type, len(a))
		}

		same := true
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%v: same seed gave different weights", initFn.Type)
			}
			same = same && a[i] == c[i]
		}
		if same {
			t.Errorf("%v: different seeds gave the same weights", initFn.Type)
		}
	}
}

func TestGlorotUBounds(t *testing.T) {
	initFn, _ := NewGlorotU(1.0)
	limit := math.Sqrt(6.0 / float64(30+20))
	for _, w := range initFn.InitWFn(1)(tensor.Float64, 30, 20).([]float64) {
		if math.Abs(w) > limit {
			t.Fatalf("weight %v outside [-%v, %v]", w, limit, limit)
		}
	}
}

func TestConstant(t *testing.T) {
	initFn, _ := NewConstant(0.5)
	for _, w := range initFn.InitWFn(0)(tensor.Float64, 2, 2).([]float64) {
		if w != 0.5 {
			t.Fatalf("want(0.5) have(%v)", w)
		}
	}

	zeroes, _ := NewZeroes()
	for _, w := range zeroes.InitWFn(0)(tensor.Float32, 3).([]float32) {
		if w != 0 {
			t.Fatalf("want(0) have(%v)", w)
		}
	}
}

func TestUnmarshalInitWFn(t *testing.T) {
	var initFn InitWFn
	data := []byte(`{"Type": "HeN", "Config": {"Gain": 2}}`)
	if err := json.Unmarshal(data, &initFn); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	config, ok := initFn.Config.(HeNConfig)
	if !ok || config.Gain != 2 || initFn.Type != HeN {
		t.Fatalf("unmarshal: have(%v)", initFn.String())
	}

	data = []byte(`{"Type": "Zeroes"}`)
	if err := json.Unmarshal(data, &initFn); err != nil {
		t.Fatalf("unmarshal without config: %v", err)
	}

	data = []byte(`{"Type": "Orthogonal", "Config": {}}`)
	if err := json.Unmarshal(data, &initFn); err == nil {
		t.Errorf("want error for unknown initializer type")
	}
}
