package distance

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/viterin/vek/vek32"
)

// Dot calculates the dot product of two vectors of equal length.
func Dot(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

// Euclidean calculates the Euclidean distance between two vectors of equal length.
func Euclidean(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Distance(a, b)
}

// ManhattanDistance calculates the L1 distance between two vectors of equal length.
func ManhattanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += float32(math.Abs(float64(a[i] - b[i])))
	}
	return sum
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := vek32.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	vek32.MulNumber_Inplace(v, float32(1/math.Sqrt(float64(norm2))))
	return true
}

// Metric identifies how vectors of a store are compared.
type Metric int

const (
	Euclid Metric = iota
	Cosine
	DotProduct
	Manhattan
)

func (m Metric) String() string {
	switch m {
	case Euclid:
		return "euclid"
	case Cosine:
		return "cosine"
	case DotProduct:
		return "dot"
	case Manhattan:
		return "manhattan"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	return m >= Euclid && m <= Manhattan
}

// ParseMetric parses a metric name, case-insensitively.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "euclid", "euclidean", "l2":
		return Euclid, nil
	case "cosine":
		return Cosine, nil
	case "dot":
		return DotProduct, nil
	case "manhattan", "l1":
		return Manhattan, nil
	default:
		return 0, fmt.Errorf("unknown distance %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("unknown distance %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	parsed, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Preprocess returns the form a vector is compared in. For Cosine that is
// a normalized copy; other metrics return v unchanged.
func (m Metric) Preprocess(v []float32) []float32 {
	if m != Cosine {
		return v
	}
	out := slices.Clone(v)
	NormalizeL2InPlace(out)
	return out
}

// Similarity scores a against b; higher is closer.
// Both vectors must already be preprocessed.
func (m Metric) Similarity(a, b []float32) float32 {
	switch m {
	case Euclid:
		return -Euclidean(a, b)
	case Cosine, DotProduct:
		return Dot(a, b)
	case Manhattan:
		return -ManhattanDistance(a, b)
	default:
		panic(fmt.Sprintf("distance: unknown metric %d", int(m)))
	}
}

// Scorer compares stored vectors against a fixed query.
type Scorer func(stored []float32) float32

// Scorer returns a Scorer for query. Stored vectors of a Cosine store are
// normalized on insert, so only the query is preprocessed here.
func (m Metric) Scorer(query []float32) Scorer {
	q := m.Preprocess(query)
	return func(stored []float32) float32 {
		return m.Similarity(q, stored)
	}
}
