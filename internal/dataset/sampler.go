package dataset

import "math/rand"

// CapPerClass keeps at most limit samples of every class, the first ones in
// scan order, and concatenates them in class order. limit <= 0 keeps all.
func CapPerClass(samples []Sample, numClasses, limit int) []Sample {
	buckets := make(map[int][]int, numClasses)
	for i, s := range samples {
		buckets[s.Class] = append(buckets[s.Class], i)
	}

	var kept []Sample
	for class := 0; class < numClasses; class++ {
		indices := buckets[class]
		if limit > 0 && len(indices) > limit {
			indices = indices[:limit]
		}
		for _, i := range indices {
			kept = append(kept, samples[i])
		}
	}
	return kept
}

// Split partitions working-set positions into train and validation.
type Split struct {
	Train      []int
	Validation []int
}

// RandomSplit shuffles 0..n-1 and assigns the first int(fraction·n)
// positions to training, the rest to validation.
func RandomSplit(n int, fraction float64, rng *rand.Rand) Split {
	perm := rng.Perm(n)
	cut := int(fraction * float64(n))
	if cut > n {
		cut = n
	}
	return Split{Train: perm[:cut], Validation: perm[cut:]}
}
