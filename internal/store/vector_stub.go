//go:build !(sqlite_vec && cgo)

package store

// Without the sqlite_vec+cgo build tag, no memory_vectors table is kept.
// Similarity search is the brute-force in-Go cosine scan
// (search_by_similarity, spec §4.2) with or without the tag: O(n) per
// query; no query reads memory_vectors.
func init() {
	vectorExtAvailable = false
}
