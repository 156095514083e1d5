package engine

import "hash/fnv"

// partitionFor maps a partition key to a worker index in [0, workers) using
// jump consistent hashing (Lamping & Veach, 2014). The assignment is
// deterministic, so every event carrying the same key lands on the same
// worker, and resizing the worker pool reassigns only about 1/workers of the
// key space.
//
// workers must be >= 1; passing 0 panics.
func partitionFor(key string, workers int) int {
	if workers <= 0 {
		panic("engine: partitionFor called with workers <= 0")
	}
	h := fnv.New64a()
	// fnv.Write never returns an error.
	_, _ = h.Write([]byte(key))
	k := h.Sum64()

	var b, j int64
	b = -1
	for j < int64(workers) {
		b = j
		k = k*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((k>>33)+1)))
	}
	return int(b)
}
