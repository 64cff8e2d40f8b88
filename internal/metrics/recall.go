package metrics

// RecallAtK is the fraction of the first k expected ids found among the first
// k returned ids, each id counted once. k is clamped to len(expected); the
// result is 0 when there is no ground truth.
func RecallAtK(returned, expected []string, k int) float64 {
	if len(expected) == 0 || k <= 0 {
		return 0
	}
	if k > len(expected) {
		k = len(expected)
	}

	want := make(map[string]struct{}, k)
	for _, id := range expected[:k] {
		want[id] = struct{}{}
	}
	if len(returned) > k {
		returned = returned[:k]
	}

	hits := 0
	for _, id := range returned {
		if _, ok := want[id]; ok {
			hits++
			delete(want, id)
		}
	}
	return float64(hits) / float64(k)
}
