// Package patches cuts fixed-size 2-D patches out of image/mask slices and
// persists them as NumPy arrays.
package patches

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-segkit/npy"
	"github.com/tsawler/go-segkit/tensor"
	"github.com/tsawler/go-segkit/vision/transforms"
)

// Extract2D extracts patchH×patchW patches from a 2-D tensor and returns them
// stacked as [n, patchH, patchW] with img's dtype.
//
// When 0 < maxPatches < all possible patches, maxPatches top-left corners are
// drawn uniformly with replacement from rng: every row offset first, then
// every column offset. Otherwise all patches are returned in raster order.
func Extract2D(img *tensor.Tensor, patchH, patchW, maxPatches int, rng *rand.Rand) (*tensor.Tensor, error) {
	if img.Dim() != 2 {
		return nil, fmt.Errorf("expected a 2-D image, got shape %v", img.Shape)
	}
	h, w := img.Shape[0], img.Shape[1]
	if patchH <= 0 || patchW <= 0 || patchH > h || patchW > w {
		return nil, fmt.Errorf("patch size %dx%d does not fit image %dx%d", patchH, patchW, h, w)
	}

	nRows, nCols := h-patchH+1, w-patchW+1
	var rows, cols []int
	if maxPatches > 0 && maxPatches < nRows*nCols {
		if rng == nil {
			return nil, fmt.Errorf("random patch sampling needs a generator")
		}
		rows = make([]int, maxPatches)
		cols = make([]int, maxPatches)
		for i := range rows {
			rows[i] = rng.Intn(nRows)
		}
		for i := range cols {
			cols[i] = rng.Intn(nCols)
		}
	} else {
		for r := 0; r < nRows; r++ {
			for c := 0; c < nCols; c++ {
				rows = append(rows, r)
				cols = append(cols, c)
			}
		}
	}

	out, err := tensor.Zeros([]int{len(rows), patchH, patchW}, img.DType)
	if err != nil {
		return nil, err
	}
	size := patchH * patchW
	for p := range rows {
		for y := 0; y < patchH; y++ {
			src := (rows[p]+y)*w + cols[p]
			dst := p*size + y*patchW
			switch img.DType {
			case tensor.Float32:
				copy(out.Data.([]float32)[dst:dst+patchW], img.Data.([]float32)[src:src+patchW])
			case tensor.Int32:
				copy(out.Data.([]int32)[dst:dst+patchW], img.Data.([]int32)[src:src+patchW])
			case tensor.Uint8:
				copy(out.Data.([]uint8)[dst:dst+patchW], img.Data.([]uint8)[src:src+patchW])
			default:
				return nil, fmt.Errorf("unsupported dtype for patch extraction: %s", img.DType)
			}
		}
	}
	return out, nil
}

// SampleSource yields image/mask slices. *dataset.VolumeDataset satisfies it.
type SampleSource interface {
	Len() int
	Sample(index int) (transforms.Sample, error)
}

// PatchData extracts maxPatches patches from every sample of ds. Images and
// masks are sampled with the same random state so their patches line up; the
// state is drawn once from seed and reused for every sample.
//
// It returns images [len*maxPatches, patchH, patchW] float32 and masks of the
// same shape as uint8.
func PatchData(ds SampleSource, patchH, patchW, maxPatches int, seed int64) (images, masks *tensor.Tensor, err error) {
	if maxPatches <= 0 {
		return nil, nil, fmt.Errorf("max patches must be positive, got %d", maxPatches)
	}
	n := ds.Len()
	if n == 0 {
		return nil, nil, fmt.Errorf("dataset is empty")
	}

	shape := []int{n * maxPatches, patchH, patchW}
	if images, err = tensor.Zeros(shape, tensor.Float32); err != nil {
		return nil, nil, err
	}
	if masks, err = tensor.Zeros(shape, tensor.Uint8); err != nil {
		return nil, nil, err
	}

	randomValue := rand.New(rand.NewSource(seed)).Int63n(100)
	chunk := maxPatches * patchH * patchW

	for i := 0; i < n; i++ {
		s, err := ds.Sample(i)
		if err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if s.GT == nil {
			return nil, nil, fmt.Errorf("sample %d has no mask", i)
		}

		input, err := squeeze2D(s.Input)
		if err != nil {
			return nil, nil, fmt.Errorf("sample %d input: %w", i, err)
		}
		gt, err := squeeze2D(s.GT)
		if err != nil {
			return nil, nil, fmt.Errorf("sample %d mask: %w", i, err)
		}

		imgPatches, err := Extract2D(input, patchH, patchW, maxPatches, rand.New(rand.NewSource(randomValue)))
		if err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", i, err)
		}
		maskPatches, err := Extract2D(gt, patchH, patchW, maxPatches, rand.New(rand.NewSource(randomValue)))
		if err != nil {
			return nil, nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if imgPatches.Shape[0] != maxPatches {
			return nil, nil, fmt.Errorf("sample %d yields %d patches, need %d", i, imgPatches.Shape[0], maxPatches)
		}

		if imgPatches, err = imgPatches.AsType(tensor.Float32); err != nil {
			return nil, nil, err
		}
		if maskPatches, err = maskPatches.AsType(tensor.Uint8); err != nil {
			return nil, nil, err
		}
		copy(images.Data.([]float32)[i*chunk:(i+1)*chunk], imgPatches.Data.([]float32))
		copy(masks.Data.([]uint8)[i*chunk:(i+1)*chunk], maskPatches.Data.([]uint8))
	}

	return images, masks, nil
}

// squeeze2D accepts [H,W] and [1,H,W]
func squeeze2D(t *tensor.Tensor) (*tensor.Tensor, error) {
	if t.Dim() == 3 && t.Shape[0] == 1 {
		return tensor.Squeeze(t, 0)
	}
	if t.Dim() != 2 {
		return nil, fmt.Errorf("expected a 2-D slice, got shape %v", t.Shape)
	}
	return t, nil
}

// SavePatches writes images as <imagesPath>.npy (float32) and masks as
// <masksPath>.npy (uint8)
func SavePatches(images, masks *tensor.Tensor, imagesPath, masksPath string) error {
	img, err := images.AsType(tensor.Float32)
	if err != nil {
		return err
	}
	msk, err := masks.AsType(tensor.Uint8)
	if err != nil {
		return err
	}
	if err := npy.Save(imagesPath+".npy", img); err != nil {
		return fmt.Errorf("failed to save image patches: %w", err)
	}
	if err := npy.Save(masksPath+".npy", msk); err != nil {
		return fmt.Errorf("failed to save mask patches: %w", err)
	}
	return nil
}

// LoadPatches reads arrays written by SavePatches
func LoadPatches(imagesPath, masksPath string) (images, masks *tensor.Tensor, err error) {
	if images, err = npy.Load(imagesPath + ".npy"); err != nil {
		return nil, nil, fmt.Errorf("failed to load image patches: %w", err)
	}
	if masks, err = npy.Load(masksPath + ".npy"); err != nil {
		return nil, nil, fmt.Errorf("failed to load mask patches: %w", err)
	}
	if images.Dim() != 3 || masks.Dim() != 3 || images.Shape[0] != masks.Shape[0] {
		return nil, nil, fmt.Errorf("patch arrays do not match: %v and %v", images.Shape, masks.Shape)
	}
	return images, masks, nil
}
