//go:build !(sqlite_vec && cgo)

package store

// ensureVectorIndex and upsertVector are no-ops in builds without the ANN
// extension; vectorOn is already false so callers never reach them, but
// they're kept so store.go compiles identically across build tags.
func (s *MemoryStore) ensureVectorIndex() error {
	return nil
}

func (s *MemoryStore) upsertVector(id string, vec []float32) error {
	return nil
}
