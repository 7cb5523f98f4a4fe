// Package distance defines the metric identity of a vector store and the
// scoring functions that go with it.
//
// Storage never scores vectors itself; it only carries the Metric so an
// index builder or a search path can pick the matching Scorer. Scoring uses
// github.com/viterin/vek, which dispatches to AVX2 kernels where available.
//
// # Supported Metrics
//
//   - Euclid: Euclidean distance
//   - Cosine: cosine similarity (vectors are L2-normalized up front)
//   - Dot: inner product
//   - Manhattan: L1 distance
//
// Similarities are "higher is closer" for every metric; distance metrics
// are negated.
//
//	score := distance.Cosine.Scorer(query)
//	s := score(stored)
package distance
