package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-segkit/tensor"
)

// SubsetDataset exposes a selection of samples from an underlying dataset
type SubsetDataset struct {
	originalDataset Dataset
	indices         []int
}

// NewSubsetDataset wraps the first limit samples of original. A limit greater
// than the dataset's length is clamped.
func NewSubsetDataset(original Dataset, limit int) (*SubsetDataset, error) {
	if limit < 0 {
		return nil, fmt.Errorf("limit cannot be negative")
	}
	if limit > original.Len() {
		limit = original.Len()
	}
	indices := make([]int, limit)
	for i := range indices {
		indices[i] = i
	}
	return &SubsetDataset{originalDataset: original, indices: indices}, nil
}

// NewIndexedSubset wraps the samples of original at indices, in order
func NewIndexedSubset(original Dataset, indices []int) (*SubsetDataset, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= original.Len() {
			return nil, fmt.Errorf("index %d out of range [0, %d)", idx, original.Len())
		}
	}
	return &SubsetDataset{originalDataset: original, indices: copyInts(indices)}, nil
}

// RandomSplit partitions ds into a training subset holding round(trainProp*n)
// samples and a validation subset with the rest. When shuffle is false the
// split keeps dataset order.
func RandomSplit(ds Dataset, trainProp float64, shuffle bool, seed int64) (train, val *SubsetDataset, err error) {
	if trainProp < 0 || trainProp > 1 {
		return nil, nil, fmt.Errorf("%w: train proportion %g outside [0, 1]", ErrInvalidArgument, trainProp)
	}
	n := ds.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	nTrain := int(trainProp*float64(n) + 0.5)
	train = &SubsetDataset{originalDataset: ds, indices: order[:nTrain]}
	val = &SubsetDataset{originalDataset: ds, indices: order[nTrain:]}
	return train, val, nil
}

// Len returns the number of samples in the subset
func (sd *SubsetDataset) Len() int {
	return len(sd.indices)
}

// Indices returns the positions in the underlying dataset
func (sd *SubsetDataset) Indices() []int {
	return copyInts(sd.indices)
}

// Get returns the idx-th sample of the subset
func (sd *SubsetDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= len(sd.indices) {
		return nil, nil, fmt.Errorf("index out of bounds for subset: %d (limit: %d)", idx, len(sd.indices))
	}
	return sd.originalDataset.Get(sd.indices[idx])
}
