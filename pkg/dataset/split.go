package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Split draws a deterministic random sample of n examples from the corpus
// and partitions it into train/test subsets by testFraction.
//
// The same (n, seed, testFraction) always produces the same partition.
// The two subsets are disjoint and their sizes sum to n.
func Split(corpus *Dataset, n int, seed int64, testFraction float64) (train, test *Dataset, err error) {
	if corpus.Len() == 0 {
		return nil, nil, ErrEmptyCorpus
	}
	if n <= 0 || n > corpus.Len() {
		return nil, nil, fmt.Errorf("%w: requested %d of %d", ErrSampleTooLarge, n, corpus.Len())
	}
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("%w: got %f", ErrInvalidFraction, testFraction)
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(corpus.Len())

	testSize := int(math.Round(float64(n) * testFraction))
	if testSize == 0 {
		testSize = 1
	}
	if testSize == n {
		testSize = n - 1
	}

	test = &Dataset{Examples: make([]Example, 0, testSize)}
	train = &Dataset{Examples: make([]Example, 0, n-testSize)}

	for i := 0; i < n; i++ {
		ex := corpus.Examples[perm[i]]
		if i < testSize {
			test.Append(ex)
		} else {
			train.Append(ex)
		}
	}

	return train, test, nil
}
