package colormap

import (
	"image/color"
	"math"
	"reflect"
	"testing"
)

func portionSum(c Composition) float64 {
	sum := 0.0
	for _, s := range c {
		sum += s.Portion
	}
	return sum
}

func TestComposeEqualSlices(t *testing.T) {
	t.Parallel()

	colors := GenePalette.Colors()[:3]
	ranges := []Range{{0, 10}, {0, 10}, {0, 10}}

	t.Run("allActive", func(t *testing.T) {
		got := Compose([]float64{9, 5, 4}, ranges, colors, DefaultComposeOptions())
		if len(got) != 3 {
			t.Fatalf("expected 3 slices, got %d", len(got))
		}
		if !reflect.DeepEqual(got.Colors(), colors) {
			t.Fatalf("expected selection order %v, got %v", colors, got.Colors())
		}
		for _, p := range got.Portions() {
			if math.Abs(p-1.0/3) > 1e-9 {
				t.Fatalf("expected equal portions, got %v", got.Portions())
			}
		}
	})

	t.Run("thresholdIsExclusive", func(t *testing.T) {
		// 3 on [0, 10] is exactly 0.3 and does not qualify.
		got := Compose([]float64{3, 8, 0}, ranges, colors, DefaultComposeOptions())
		want := Composition{{Color: colors[1], Portion: 1}}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})

	t.Run("noneActive", func(t *testing.T) {
		got := Compose([]float64{0, 1, 2}, ranges, colors, DefaultComposeOptions())
		if !reflect.DeepEqual(got, Solid(Base)) {
			t.Fatalf("expected solid base, got %v", got)
		}
	})

	t.Run("degenerateRangeNeverActive", func(t *testing.T) {
		got := Compose([]float64{5}, []Range{{5, 5}}, colors[:1], DefaultComposeOptions())
		if !reflect.DeepEqual(got, Solid(Base)) {
			t.Fatalf("expected solid base, got %v", got)
		}
	})
}

func TestComposePortionsSumToOne(t *testing.T) {
	t.Parallel()

	colors := GenePalette.Colors()
	ranges := []Range{{0, 7}, {1, 3}, {0, 1}, {-2, 2}, {0, 100}}
	samples := [][]float64{
		{7, 3, 1, 2, 100},
		{6, 2.5, 0.9, 1.5, 31},
		{0, 0, 0, 0, 0},
		{5, 1, 0.5, 0, 99},
	}
	for _, weighting := range []Weighting{WeightEqual, WeightMagnitude} {
		opts := DefaultComposeOptions()
		opts.Weighting = weighting
		for _, values := range samples {
			got := Compose(values, ranges, colors, opts)
			if math.Abs(portionSum(got)-1) > 1e-6 {
				t.Fatalf("%s: portions of %v sum to %v", weighting, values, portionSum(got))
			}
			if len(got.Colors()) != len(got.Portions()) {
				t.Fatalf("%s: colors/portions length mismatch", weighting)
			}
		}
	}
}

func TestComposeMagnitudeWeighting(t *testing.T) {
	t.Parallel()

	opts := DefaultComposeOptions()
	opts.Weighting = WeightMagnitude
	got := Compose([]float64{1, 0.5}, []Range{{0, 1}, {0, 1}}, GenePalette.Colors()[:2], opts)
	want := []float64{1 / 1.5, 0.5 / 1.5}
	for i, p := range got.Portions() {
		if math.Abs(p-want[i]) > 1e-9 {
			t.Fatalf("expected %v, got %v", want, got.Portions())
		}
	}
}

func TestComposeIgnoresUnalignedTail(t *testing.T) {
	t.Parallel()

	got := Compose([]float64{10, 10}, []Range{{0, 10}}, GenePalette.Colors(), DefaultComposeOptions())
	if len(got) != 1 || got[0].Color != GenePalette[0].Color {
		t.Fatalf("expected one slice for the aligned gene, got %v", got)
	}
}

func TestProportions(t *testing.T) {
	t.Parallel()

	got := Proportions([]float64{0.2, 0, 0.6, math.NaN()}, Categorical, Base)
	want := Composition{
		{Color: Categorical.RGBA(0), Portion: 0.25},
		{Color: Categorical.RGBA(2), Portion: 0.75},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d slices, got %v", len(want), got)
	}
	for i := range want {
		if got[i].Color != want[i].Color || math.Abs(got[i].Portion-want[i].Portion) > 1e-9 {
			t.Fatalf("slice %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if empty := Proportions([]float64{0, 0}, Categorical, Base); !reflect.DeepEqual(empty, Solid(Base)) {
		t.Fatalf("expected solid base for empty proportions, got %v", empty)
	}
}

func TestParseWeighting(t *testing.T) {
	t.Parallel()

	if w, err := ParseWeighting(""); err != nil || w != WeightEqual {
		t.Fatalf("expected default equal weighting, got %q, %v", w, err)
	}
	if w, err := ParseWeighting("magnitude"); err != nil || w != WeightMagnitude {
		t.Fatalf("expected magnitude weighting, got %q, %v", w, err)
	}
	if _, err := ParseWeighting("loudest"); err == nil {
		t.Fatalf("expected error for unknown weighting")
	}
}

func TestSolid(t *testing.T) {
	t.Parallel()

	c := Solid(color.RGBA{1, 2, 3, 255})
	if !c.IsSolid() || c[0].Portion != 1 {
		t.Fatalf("unexpected solid composition %v", c)
	}
}
