package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/tsawler/go-segkit/tensor"
)

// Dataset interface defines methods that all datasets must implement
type Dataset interface {
	Len() int                                                           // Total number of samples
	Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) // Returns a single sample
}

// DataLoader provides batching and shuffling over a Dataset
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. rng drives shuffling; when nil a
// generator seeded with 0 is used so epochs are reproducible.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) *DataLoader {
	if batchSize <= 0 {
		batchSize = 1
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}

	datasetLen := dataset.Len()
	indices := make([]int, datasetLen)
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
		indices:   indices,
	}
}

// Batch represents a batch of data and labels
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.batchSize - 1) / dl.batchSize
}

// Reset rewinds the loader for a new epoch, reshuffling when enabled
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	batch, err := dl.loadBatch(batchIndices)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}

	return batch, nil
}

// HasNext returns true if there are more batches in the current epoch
func (dl *DataLoader) HasNext() bool {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()
	return dl.position < len(dl.indices)
}

// loadBatch loads samples and stacks them along a new leading dimension
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	firstData, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %w", indices[0], err)
	}

	dataShape := append([]int{len(indices)}, firstData.Shape...)
	labelShape := append([]int{len(indices)}, firstLabel.Shape...)

	batchData, err := tensor.Zeros(dataShape, firstData.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch data tensor: %w", err)
	}

	batchLabels, err := tensor.Zeros(labelShape, firstLabel.DType)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch labels tensor: %w", err)
	}

	for i, idx := range indices {
		data, label := firstData, firstLabel
		if i > 0 {
			data, label, err = dl.dataset.Get(idx)
			if err != nil {
				return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
			}
		}

		if err := copyInto(batchData, data, i); err != nil {
			return nil, fmt.Errorf("failed to copy data for sample %d: %w", idx, err)
		}
		if err := copyInto(batchLabels, label, i); err != nil {
			return nil, fmt.Errorf("failed to copy label for sample %d: %w", idx, err)
		}
	}

	return &Batch{
		Data:   batchData,
		Labels: batchLabels,
	}, nil
}

// copyInto copies a sample tensor into a specific position in the batch tensor
func copyInto(batchTensor, sampleTensor *tensor.Tensor, batchIndex int) error {
	if batchTensor.DType != sampleTensor.DType {
		return fmt.Errorf("dtype mismatch: batch %s, sample %s", batchTensor.DType, sampleTensor.DType)
	}

	sampleSize := batchTensor.NumElems / batchTensor.Shape[0]
	if sampleTensor.NumElems != sampleSize {
		return fmt.Errorf("sample size mismatch: expected %d, got %d", sampleSize, sampleTensor.NumElems)
	}
	offset := batchIndex * sampleSize

	switch batchTensor.DType {
	case tensor.Float32:
		copy(batchTensor.Data.([]float32)[offset:offset+sampleSize], sampleTensor.Data.([]float32))
	case tensor.Int32:
		copy(batchTensor.Data.([]int32)[offset:offset+sampleSize], sampleTensor.Data.([]int32))
	case tensor.Uint8:
		copy(batchTensor.Data.([]uint8)[offset:offset+sampleSize], sampleTensor.Data.([]uint8))
	default:
		return fmt.Errorf("unsupported dtype for batch copying: %s", batchTensor.DType)
	}

	return nil
}

// SimpleDataset provides a basic implementation of Dataset over in-memory samples
type SimpleDataset struct {
	data   []*tensor.Tensor
	labels []*tensor.Tensor
}

// NewSimpleDataset creates a new SimpleDataset
func NewSimpleDataset(data, labels []*tensor.Tensor) (*SimpleDataset, error) {
	if len(data) != len(labels) {
		return nil, fmt.Errorf("data and labels must have the same length: got %d and %d", len(data), len(labels))
	}

	return &SimpleDataset{
		data:   data,
		labels: labels,
	}, nil
}

// Len returns the number of samples in the dataset
func (ds *SimpleDataset) Len() int {
	return len(ds.data)
}

// Get returns a sample at the given index
func (ds *SimpleDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= len(ds.data) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(ds.data))
	}

	return ds.data[idx], ds.labels[idx], nil
}

// TensorDataset exposes two tensors sample-wise along their first dimension
type TensorDataset struct {
	x, y *tensor.Tensor
}

// NewTensorDataset pairs x[i] with y[i]. Both tensors need at least two
// dimensions and the same leading size.
func NewTensorDataset(x, y *tensor.Tensor) (*TensorDataset, error) {
	if x.Dim() < 2 || y.Dim() < 2 {
		return nil, fmt.Errorf("%w: tensors need a sample dimension plus data, got %v and %v",
			ErrInvalidArgument, x.Shape, y.Shape)
	}
	if x.Shape[0] != y.Shape[0] {
		return nil, fmt.Errorf("%w: sample counts differ: %d and %d", ErrInvalidArgument, x.Shape[0], y.Shape[0])
	}
	return &TensorDataset{x: x, y: y}, nil
}

func (td *TensorDataset) Len() int {
	return td.x.Shape[0]
}

func (td *TensorDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	if idx < 0 || idx >= td.Len() {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, td.Len())
	}
	if data, err = tensor.Select(td.x, 0, idx); err != nil {
		return nil, nil, err
	}
	if label, err = tensor.Select(td.y, 0, idx); err != nil {
		return nil, nil, err
	}
	return data, label, nil
}
