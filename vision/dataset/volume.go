// Package dataset builds 2-D slice datasets from 3-D image and mask volumes
// stored as NumPy arrays.
package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-segkit/npy"
	"github.com/tsawler/go-segkit/tensor"
	"github.com/tsawler/go-segkit/training"
	"github.com/tsawler/go-segkit/vision/transforms"
)

var _ training.Dataset = (*VolumeDataset)(nil)

// SliceFilter drops uninformative slices while the dataset is indexed
type SliceFilter struct {
	FilterEmptyMask  bool
	FilterEmptyInput bool
}

// DefaultSliceFilter drops slices whose mask or input is all zero
func DefaultSliceFilter() SliceFilter {
	return SliceFilter{FilterEmptyMask: true, FilterEmptyInput: true}
}

// Keep reports whether the slice passes the filter
func (f SliceFilter) Keep(s transforms.Sample) (bool, error) {
	if f.FilterEmptyMask && s.GT != nil {
		empty, err := allZero(s.GT)
		if err != nil || empty {
			return false, err
		}
	}
	if f.FilterEmptyInput {
		empty, err := allZero(s.Input)
		if err != nil || empty {
			return false, err
		}
	}
	return true, nil
}

func allZero(t *tensor.Tensor) (bool, error) {
	data, err := t.Float32Data()
	if err != nil {
		return false, err
	}
	for _, v := range data {
		if v != 0 {
			return false, nil
		}
	}
	return true, nil
}

type options struct {
	filter    SliceFilter
	fileIDs   []string
	cacheSize int
	seed      int64
}

// Option configures NewVolumeDataset
type Option func(*options)

// WithSliceFilter replaces the default slice filter
func WithSliceFilter(f SliceFilter) Option {
	return func(o *options) { o.filter = f }
}

// WithFileIDs restricts the dataset to the given volume IDs
func WithFileIDs(ids ...string) Option {
	return func(o *options) { o.fileIDs = ids }
}

// WithCacheSize sets how many volumes are kept in memory (default 4)
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithSeed seeds the generator that drives the transform
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// Volume is one image volume with its mask
type Volume struct {
	ID        string
	ImagePath string
	MaskPath  string
}

type sliceRef struct {
	volume int
	index  int
}

// VolumeDataset yields 2-D slices taken along one axis of every volume
type VolumeDataset struct {
	sliceAxis int
	volumes   []Volume
	slices    []sliceRef
	transform transforms.Transform
	rng       *rand.Rand
	cache     *VolumeCache
}

// NewVolumeDataset indexes the volumes in imgRoot. Every file not starting
// with "." is a volume whose ID is its name up to the first "."; the mask is
// the first file in gtRoot named <ID>*.npy (or .npy.zst). Slices failing the
// slice filter are skipped.
func NewVolumeDataset(imgRoot, gtRoot string, sliceAxis int, opts ...Option) (*VolumeDataset, error) {
	if sliceAxis < 0 || sliceAxis > 2 {
		return nil, fmt.Errorf("slice axis must be 0, 1 or 2, got %d", sliceAxis)
	}
	o := options{filter: DefaultSliceFilter(), cacheSize: 4}
	for _, opt := range opts {
		opt(&o)
	}

	volumes, err := findVolumes(imgRoot, gtRoot, o.fileIDs)
	if err != nil {
		return nil, err
	}

	ds := &VolumeDataset{
		sliceAxis: sliceAxis,
		volumes:   volumes,
		rng:       rand.New(rand.NewSource(o.seed)),
		cache:     NewVolumeCache(o.cacheSize),
	}

	for v := range volumes {
		img, mask, err := ds.load(v)
		if err != nil {
			return nil, err
		}
		for i := 0; i < img.Shape[sliceAxis]; i++ {
			s, err := ds.slice(img, mask, i)
			if err != nil {
				return nil, err
			}
			keep, err := o.filter.Keep(s)
			if err != nil {
				return nil, err
			}
			if keep {
				ds.slices = append(ds.slices, sliceRef{volume: v, index: i})
			}
		}
	}

	if len(ds.slices) == 0 {
		return nil, fmt.Errorf("no slices found in %s", imgRoot)
	}
	return ds, nil
}

// GetDataset builds the dataset with the default augmentation pipeline
func GetDataset(imgRoot, gtRoot string, sliceAxis int, opts ...Option) (*VolumeDataset, error) {
	ds, err := NewVolumeDataset(imgRoot, gtRoot, sliceAxis, opts...)
	if err != nil {
		return nil, err
	}
	ds.SetTransform(transforms.Default())
	return ds, nil
}

func findVolumes(imgRoot, gtRoot string, fileIDs []string) ([]Volume, error) {
	entries, err := os.ReadDir(imgRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	wanted := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = true
	}

	var volumes []Volume
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		id, _, _ := strings.Cut(name, ".")
		if len(wanted) > 0 && !wanted[id] {
			continue
		}

		maskPath, err := findMask(gtRoot, id)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, Volume{
			ID:        id,
			ImagePath: filepath.Join(imgRoot, name),
			MaskPath:  maskPath,
		})
	}

	if len(volumes) == 0 {
		return nil, fmt.Errorf("no volumes found in %s", imgRoot)
	}
	return volumes, nil
}

func findMask(gtRoot, id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(gtRoot, id+"*"))
	if err != nil {
		return "", fmt.Errorf("failed to find mask for %s: %w", id, err)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if strings.HasSuffix(m, ".npy") || strings.HasSuffix(m, ".npy.zst") {
			return m, nil
		}
	}
	return "", fmt.Errorf("no mask for volume %s in %s", id, gtRoot)
}

func (ds *VolumeDataset) load(v int) (img, mask *tensor.Tensor, err error) {
	vol := ds.volumes[v]
	if img, err = ds.cache.GetOrLoad(vol.ImagePath, npy.Load); err != nil {
		return nil, nil, fmt.Errorf("volume %s: %w", vol.ID, err)
	}
	if mask, err = ds.cache.GetOrLoad(vol.MaskPath, npy.Load); err != nil {
		return nil, nil, fmt.Errorf("mask %s: %w", vol.ID, err)
	}
	if img.Dim() != 3 {
		return nil, nil, fmt.Errorf("volume %s: expected 3 dimensions, got %v", vol.ID, img.Shape)
	}
	if len(mask.Shape) != 3 || mask.Shape[0] != img.Shape[0] || mask.Shape[1] != img.Shape[1] || mask.Shape[2] != img.Shape[2] {
		return nil, nil, fmt.Errorf("volume %s: mask shape %v does not match image %v", vol.ID, mask.Shape, img.Shape)
	}
	return img, mask, nil
}

func (ds *VolumeDataset) slice(img, mask *tensor.Tensor, i int) (transforms.Sample, error) {
	input, err := tensor.Select(img, ds.sliceAxis, i)
	if err != nil {
		return transforms.Sample{}, err
	}
	if input.DType != tensor.Float32 {
		if input, err = input.AsType(tensor.Float32); err != nil {
			return transforms.Sample{}, err
		}
	}
	gt, err := tensor.Select(mask, ds.sliceAxis, i)
	if err != nil {
		return transforms.Sample{}, err
	}
	return transforms.Sample{Input: input, GT: gt}, nil
}

// SetTransform sets the augmentation applied by Sample and Get
func (ds *VolumeDataset) SetTransform(t transforms.Transform) {
	ds.transform = t
}

// Len returns the number of slices
func (ds *VolumeDataset) Len() int {
	return len(ds.slices)
}

// Volumes returns the volumes the dataset was built from
func (ds *VolumeDataset) Volumes() []Volume {
	return append([]Volume(nil), ds.volumes...)
}

// Sample returns the transformed slice at index
func (ds *VolumeDataset) Sample(index int) (transforms.Sample, error) {
	if index < 0 || index >= len(ds.slices) {
		return transforms.Sample{}, fmt.Errorf("index %d out of range [0, %d)", index, len(ds.slices))
	}
	ref := ds.slices[index]
	img, mask, err := ds.load(ref.volume)
	if err != nil {
		return transforms.Sample{}, err
	}
	s, err := ds.slice(img, mask, ref.index)
	if err != nil {
		return transforms.Sample{}, err
	}
	if ds.transform == nil {
		return s, nil
	}
	return ds.transform.Apply(s, ds.rng)
}

// Get returns the input slice and its mask
func (ds *VolumeDataset) Get(idx int) (data *tensor.Tensor, label *tensor.Tensor, err error) {
	s, err := ds.Sample(idx)
	if err != nil {
		return nil, nil, err
	}
	return s.Input, s.GT, nil
}

// Split splits the slices into train and validation sets. The train set
// holds int(n*trainRatio) slices.
func (ds *VolumeDataset) Split(trainRatio float64, shuffle bool, seed int64) (*VolumeDataset, *VolumeDataset) {
	n := len(ds.slices)
	trainSize := int(float64(n) * trainRatio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		rand.New(rand.NewSource(seed)).Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	return ds.Subset(indices[:trainSize], seed), ds.Subset(indices[trainSize:], seed+1)
}

// Subset creates a dataset with the specified slices. It shares volumes,
// cache and transform with ds.
func (ds *VolumeDataset) Subset(indices []int, seed int64) *VolumeDataset {
	subset := &VolumeDataset{
		sliceAxis: ds.sliceAxis,
		volumes:   ds.volumes,
		slices:    make([]sliceRef, len(indices)),
		transform: ds.transform,
		rng:       rand.New(rand.NewSource(seed)),
		cache:     ds.cache,
	}
	for i, idx := range indices {
		subset.slices[i] = ds.slices[idx]
	}
	return subset
}

// CacheStats reports volume cache usage
func (ds *VolumeDataset) CacheStats() CacheStats {
	return ds.cache.Stats()
}

// String returns a string representation of the dataset
func (ds *VolumeDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("VolumeDataset: %d slices from %d volumes (axis %d)\n",
		len(ds.slices), len(ds.volumes), ds.sliceAxis))

	counts := make([]int, len(ds.volumes))
	for _, ref := range ds.slices {
		counts[ref.volume]++
	}
	for i, vol := range ds.volumes {
		sb.WriteString(fmt.Sprintf("  %s: %d slices\n", vol.ID, counts[i]))
	}
	return sb.String()
}
