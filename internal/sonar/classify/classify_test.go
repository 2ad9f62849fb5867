package classify_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tidewater-data/contact.report/internal/sonar/classify"
	"github.com/tidewater-data/contact.report/internal/testutil"
)

func TestFeaturize(t *testing.T) {
	cases := []struct {
		name     string
		spectrum []float64
		bands    int
		want     []float64
	}{
		{
			name:     "even split",
			spectrum: []float64{1, 3, 5, 7},
			bands:    2,
			want:     []float64{2, 6},
		},
		{
			name: "remainder spreads across leading bands",
			// 10 values over 4 bands: sizes 3,3,2,2.
			spectrum: []float64{1, 1, 1, 2, 2, 2, 3, 3, 4, 4},
			bands:    4,
			want:     []float64{1, 2, 3, 4},
		},
		{
			name:     "negative magnitudes folded",
			spectrum: []float64{-2, 2},
			bands:    1,
			want:     []float64{2},
		},
		{
			name:     "more bands than samples",
			spectrum: []float64{6, 2},
			bands:    4,
			want:     []float64{6, 2, 0, 0},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := classify.Featurize(tc.spectrum, tc.bands)
			testutil.AssertNoError(t, err)
			if diff := cmp.Diff(tc.want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
				t.Errorf("features mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("empty spectrum", func(t *testing.T) {
		if _, err := classify.Featurize(nil, 8); !errors.Is(err, classify.ErrEmptyInput) {
			t.Errorf("err = %v, want ErrEmptyInput", err)
		}
	})

	t.Run("invalid band count", func(t *testing.T) {
		if _, err := classify.Featurize([]float64{1}, 0); err == nil {
			t.Error("expected error for zero bands")
		}
	})
}

func TestMagnitudeSpectrum(t *testing.T) {
	// A pure tone concentrates energy in its own bin.
	const (
		n    = 128
		fs   = 128.0
		freq = 16.0
	)
	spec := classify.MagnitudeSpectrum(testutil.Tone(freq, fs, n))
	if len(spec) != n/2+1 {
		t.Fatalf("len(spec) = %d, want %d", len(spec), n/2+1)
	}
	peak := 0
	for i, v := range spec {
		if v > spec[peak] {
			peak = i
		}
	}
	if peak != 16 {
		t.Errorf("spectral peak at bin %d, want 16", peak)
	}
}

func TestPredictUntrainedReturnsUnknown(t *testing.T) {
	c := classify.NewClassifier(8)
	if c.Trained() {
		t.Fatal("new classifier claims to be trained")
	}

	label, confidence, err := c.Predict([]float64{1, 2, 3})
	testutil.AssertNoError(t, err)
	if label != classify.ClassUnknown {
		t.Errorf("label = %q, want %q", label, classify.ClassUnknown)
	}
	if confidence != 0 {
		t.Errorf("confidence = %v, want 0", confidence)
	}
}

func TestTrainValidation(t *testing.T) {
	c := classify.NewClassifier(2)

	if err := c.Train(nil, nil); !errors.Is(err, classify.ErrEmptyInput) {
		t.Errorf("empty training set: err = %v, want ErrEmptyInput", err)
	}
	err := c.Train([][]float64{{1, 2}}, []string{"a", "b"})
	if !errors.Is(err, classify.ErrDimensionMismatch) {
		t.Errorf("label count mismatch: err = %v, want ErrDimensionMismatch", err)
	}
	err = c.Train([][]float64{{1, 2, 3}}, []string{"a"})
	if !errors.Is(err, classify.ErrDimensionMismatch) {
		t.Errorf("row width mismatch: err = %v, want ErrDimensionMismatch", err)
	}
	if c.Trained() {
		t.Error("failed Train calls must not mark the classifier trained")
	}
}

func TestTrainAndPredictSeparatesClasses(t *testing.T) {
	c := classify.NewClassifier(2)

	// Low-band-heavy rows labelled "vessel", high-band-heavy rows "biologic".
	features := [][]float64{
		{10, 1}, {11, 2}, {9, 1.5},
		{1, 10}, {2, 11}, {1.5, 9},
	}
	labels := []string{"vessel", "vessel", "vessel", "biologic", "biologic", "biologic"}
	testutil.AssertNoError(t, c.Train(features, labels))
	if !c.Trained() {
		t.Fatal("classifier not trained after Train")
	}

	label, confidence, err := c.PredictFeatures([]float64{10, 1.2})
	testutil.AssertNoError(t, err)
	if label != "vessel" {
		t.Errorf("label = %q, want vessel", label)
	}
	if confidence <= 0.5 || confidence > 1 {
		t.Errorf("confidence = %v, want in (0.5, 1]", confidence)
	}

	label, _, err = c.PredictFeatures([]float64{1.2, 10})
	testutil.AssertNoError(t, err)
	if label != "biologic" {
		t.Errorf("label = %q, want biologic", label)
	}
}

func TestRetrainOverwritesModel(t *testing.T) {
	c := classify.NewClassifier(1)

	testutil.AssertNoError(t, c.Train([][]float64{{1}, {1.1}}, []string{"a", "a"}))
	label, _, err := c.PredictFeatures([]float64{1})
	testutil.AssertNoError(t, err)
	if label != "a" {
		t.Fatalf("label = %q, want a", label)
	}

	testutil.AssertNoError(t, c.Train([][]float64{{1}, {1.1}}, []string{"b", "b"}))
	label, _, err = c.PredictFeatures([]float64{1})
	testutil.AssertNoError(t, err)
	if label != "b" {
		t.Errorf("label = %q after retrain, want b", label)
	}
}

func TestPredictFeatureWidthMismatch(t *testing.T) {
	c := classify.NewClassifier(2)
	testutil.AssertNoError(t, c.Train([][]float64{{1, 2}}, []string{"a"}))

	if _, _, err := c.PredictFeatures([]float64{1}); !errors.Is(err, classify.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestPredictConfidenceIsProbability(t *testing.T) {
	c := classify.NewClassifier(1)
	testutil.AssertNoError(t, c.Train([][]float64{{0}, {10}}, []string{"a", "b"}))

	_, confidence, err := c.PredictFeatures([]float64{5})
	testutil.AssertNoError(t, err)
	if confidence < 0.4 || confidence > 0.6 {
		t.Errorf("equidistant point: confidence = %v, want near 0.5", confidence)
	}
	if math.IsNaN(confidence) {
		t.Error("confidence is NaN")
	}
}
