// Package classify derives banded spectral features from contact audio and
// fits a Gaussian naive Bayes model over them. An untrained classifier always
// answers ClassUnknown rather than guessing.
package classify

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// ClassUnknown is the label returned before any training has happened.
const ClassUnknown = "unknown"

var (
	// ErrEmptyInput reports an empty spectrum or empty training set.
	ErrEmptyInput = errors.New("classify: empty input")
	// ErrDimensionMismatch reports training rows of unequal length or a
	// label/feature count mismatch.
	ErrDimensionMismatch = errors.New("classify: dimension mismatch")
)

// varianceFloor keeps per-band variances away from zero so a constant
// training band cannot produce infinite likelihoods.
const varianceFloor = 1e-9

// MagnitudeSpectrum returns the magnitude of the real-input FFT of signal,
// length len(signal)/2 + 1.
func MagnitudeSpectrum(signal []float64) []float64 {
	if len(signal) == 0 {
		return nil
	}
	fft := fourier.NewFFT(len(signal))
	coeffs := fft.Coefficients(nil, signal)
	out := make([]float64, len(coeffs))
	for i, c := range coeffs {
		out[i] = math.Hypot(real(c), imag(c))
	}
	return out
}

// Featurize partitions the magnitude spectrum into bands contiguous groups
// and returns each group's mean magnitude. When the spectrum length is not a
// multiple of bands, the leading len%bands groups take one extra sample, so
// any spectrum length ≥ 1 yields exactly bands values (trailing groups may be
// empty and contribute zero).
func Featurize(spectrum []float64, bands int) ([]float64, error) {
	if len(spectrum) == 0 {
		return nil, ErrEmptyInput
	}
	if bands <= 0 {
		return nil, fmt.Errorf("classify: bands must be positive, got %d", bands)
	}

	out := make([]float64, bands)
	base := len(spectrum) / bands
	extra := len(spectrum) % bands
	idx := 0
	for b := 0; b < bands; b++ {
		size := base
		if b < extra {
			size++
		}
		if size == 0 {
			continue
		}
		var sum float64
		for i := 0; i < size; i++ {
			sum += math.Abs(spectrum[idx])
			idx++
		}
		out[b] = sum / float64(size)
	}
	return out, nil
}

// classModel holds the fitted per-band Gaussian parameters for one class.
type classModel struct {
	label    string
	logPrior float64
	mean     []float64
	variance []float64
}

// Classifier is a Gaussian naive Bayes model over banded spectral features.
// Train replaces any previous fit wholesale. Not safe for concurrent use.
type Classifier struct {
	bands   int
	trained bool
	models  []classModel
}

// NewClassifier builds an untrained classifier using the given number of
// spectral bands; bands ≤ 0 selects the standard 8.
func NewClassifier(bands int) *Classifier {
	if bands <= 0 {
		bands = 8
	}
	return &Classifier{bands: bands}
}

// Bands returns the feature vector length.
func (c *Classifier) Bands() int { return c.bands }

// Trained reports whether Train has completed successfully.
func (c *Classifier) Trained() bool { return c.trained }

// Train fits per-class Gaussian parameters from feature rows and their
// labels. Every row must have exactly Bands() values. A successful call
// overwrites any prior fit; a failed call leaves the previous fit intact.
func (c *Classifier) Train(features [][]float64, labels []string) error {
	if len(features) == 0 {
		return ErrEmptyInput
	}
	if len(features) != len(labels) {
		return fmt.Errorf("%w: %d feature rows, %d labels", ErrDimensionMismatch, len(features), len(labels))
	}
	for i, row := range features {
		if len(row) != c.bands {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrDimensionMismatch, i, len(row), c.bands)
		}
	}

	// Group rows by label, keeping first-seen label order deterministic.
	order := make([]string, 0)
	byLabel := make(map[string][][]float64)
	for i, label := range labels {
		if _, ok := byLabel[label]; !ok {
			order = append(order, label)
		}
		byLabel[label] = append(byLabel[label], features[i])
	}

	total := float64(len(features))
	models := make([]classModel, 0, len(order))
	for _, label := range order {
		rows := byLabel[label]
		m := classModel{
			label:    label,
			logPrior: math.Log(float64(len(rows)) / total),
			mean:     make([]float64, c.bands),
			variance: make([]float64, c.bands),
		}
		col := make([]float64, len(rows))
		for b := 0; b < c.bands; b++ {
			for r, row := range rows {
				col[r] = row[b]
			}
			m.mean[b] = stat.Mean(col, nil)
			v := stat.PopVariance(col, nil)
			if v < varianceFloor {
				v = varianceFloor
			}
			m.variance[b] = v
		}
		models = append(models, m)
	}

	c.models = models
	c.trained = true
	return nil
}

// Predict classifies a magnitude spectrum. Before any training it returns
// ClassUnknown with zero confidence. Confidence is the normalized posterior
// of the winning class.
func (c *Classifier) Predict(spectrum []float64) (string, float64, error) {
	if !c.trained {
		return ClassUnknown, 0, nil
	}
	feat, err := Featurize(spectrum, c.bands)
	if err != nil {
		return "", 0, err
	}
	return c.PredictFeatures(feat)
}

// PredictFeatures classifies an already-featurized vector.
func (c *Classifier) PredictFeatures(feat []float64) (string, float64, error) {
	if !c.trained {
		return ClassUnknown, 0, nil
	}
	if len(feat) != c.bands {
		return "", 0, fmt.Errorf("%w: feature vector has %d values, want %d", ErrDimensionMismatch, len(feat), c.bands)
	}

	logPost := make([]float64, len(c.models))
	for mi, m := range c.models {
		lp := m.logPrior
		for b := 0; b < c.bands; b++ {
			diff := feat[b] - m.mean[b]
			lp += -0.5*math.Log(2*math.Pi*m.variance[b]) - diff*diff/(2*m.variance[b])
		}
		logPost[mi] = lp
	}

	best := 0
	for mi := range logPost {
		if logPost[mi] > logPost[best] {
			best = mi
		}
	}

	// Normalize posteriors in log space for a stable confidence value.
	var total float64
	for _, lp := range logPost {
		total += math.Exp(lp - logPost[best])
	}
	confidence := 1 / total

	return c.models[best].label, confidence, nil
}
