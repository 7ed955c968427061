package expreplay

import (
	"testing"
)

func fill(t *testing.T, r *Replay, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		state := []float64{float64(i), -float64(i)}
		if err := r.Append(state, float64(i), 0.99, []float64{float64(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestReplayWraparound(t *testing.T) {
	const capacity = 5
	for _, appended := range []int{5, 6, 12, 17} {
		r, err := NewReplay(capacity, 2, 1, 1)
		if err != nil {
			t.Fatalf("newreplay: %v", err)
		}
		fill(t, r, appended)
		if err := r.RefreshVisibleLength(); err != nil {
			t.Fatalf("refresh: %v", err)
		}

		if r.State() != Full {
			t.Errorf("state after %d appends: want(Full) have(%v)", appended,
				r.State())
		}
		if r.Len() != capacity {
			t.Errorf("visible length: want(%v) have(%v)", capacity, r.Len())
		}

		// Effective content is the last capacity entries, oldest first
		for i, index := range r.ordered() {
			want := float64(appended - capacity + i)
			if have := r.stateAt(index)[0]; have != want {
				t.Errorf("%d appends, ordered entry %d: want(%v) have(%v)",
					appended, i, want, have)
			}
		}
	}
}

func TestReplayFillingVisibleLength(t *testing.T) {
	r, err := NewReplay(10, 2, 1, 1)
	if err != nil {
		t.Fatalf("newreplay: %v", err)
	}
	fill(t, r, 4)
	if err := r.RefreshVisibleLength(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if r.State() != Filling || r.Len() != 4 || r.Cursor() != 4 {
		t.Fatalf("want(Filling, 4, 4) have(%v, %v, %v)", r.State(), r.Len(),
			r.Cursor())
	}

	// Appended entries stay invisible until the next refresh
	fill(t, r, 2)
	if r.Len() != 4 {
		t.Errorf("visible length changed before refresh: have(%v)", r.Len())
	}
}

func TestReplaySampleBounds(t *testing.T) {
	r, err := NewReplay(64, 2, 1, 7)
	if err != nil {
		t.Fatalf("newreplay: %v", err)
	}
	fill(t, r, 20)
	if err := r.RefreshVisibleLength(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	for i := 0; i < 50; i++ {
		batch, err := r.Sample(32)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		for j := 0; j < batch.Size; j++ {
			idx := batch.State[j*2]
			if idx > float64(r.Len()-2) {
				t.Fatalf("index %v outside [0, %v]", idx, r.Len()-2)
			}
			if next := batch.NextState[j*2]; next != idx+1 {
				t.Fatalf("successor of %v: want(%v) have(%v)", idx, idx+1,
					next)
			}
			if batch.Reward[j] != idx || batch.Action[j] != idx {
				t.Fatalf("fields not aligned with state %v", idx)
			}
		}
	}
}

func TestReplaySampleFullSkipsCursor(t *testing.T) {
	r, err := NewReplay(8, 2, 1, 3)
	if err != nil {
		t.Fatalf("newreplay: %v", err)
	}
	fill(t, r, 11)
	if err := r.RefreshVisibleLength(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	for i := 0; i < 100; i++ {
		batch, err := r.Sample(16)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		for j := 0; j < batch.Size; j++ {
			if batch.NextState[j*2] != batch.State[j*2]+1 {
				t.Fatalf("pair crosses write cursor: %v -> %v",
					batch.State[j*2], batch.NextState[j*2])
			}
		}
	}
}

func TestReplayPreconditions(t *testing.T) {
	r, err := NewReplay(4, 2, 1, 1)
	if err != nil {
		t.Fatalf("newreplay: %v", err)
	}

	fill(t, r, 1)
	if _, err := r.Sample(1); !IsWrongPhase(err) {
		t.Errorf("sample before refresh: want wrong phase error, have(%v)",
			err)
	}

	if err := r.RefreshVisibleLength(); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := r.RefreshVisibleLength(); !IsWrongPhase(err) {
		t.Errorf("double refresh: want wrong phase error, have(%v)", err)
	}
	if _, err := r.Sample(1); !IsInsufficientSamples(err) {
		t.Errorf("sample one entry: want insufficient samples, have(%v)",
			err)
	}

	err = r.Append([]float64{1, 2, 3}, 0, 0, []float64{0})
	if !IsShapeMismatch(err) {
		t.Errorf("bad state size: want shape mismatch, have(%v)", err)
	}
	err = r.Append([]float64{1, 2}, 0, 0, []float64{0, 1})
	if !IsShapeMismatch(err) {
		t.Errorf("bad action size: want shape mismatch, have(%v)", err)
	}

	if _, err := NewReplay(0, 2, 1, 1); !IsInvalidLayout(err) {
		t.Errorf("zero capacity: want invalid layout, have(%v)", err)
	}
}
