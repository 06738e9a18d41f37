package patches

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-segkit/tensor"
	"github.com/tsawler/go-segkit/vision/transforms"
)

func rampImage(t *testing.T, h, w int) *tensor.Tensor {
	t.Helper()
	data := make([]float32, h*w)
	for i := range data {
		data[i] = float32(i)
	}
	img, err := tensor.FromFloat32([]int{h, w}, data)
	require.NoError(t, err)
	return img
}

func TestExtract2DAllPatches(t *testing.T) {
	img := rampImage(t, 3, 3)

	for _, maxPatches := range []int{0, 4, 10} {
		out, err := Extract2D(img, 2, 2, maxPatches, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{4, 2, 2}, out.Shape)
		assert.Equal(t, []float32{
			0, 1, 3, 4,
			1, 2, 4, 5,
			3, 4, 6, 7,
			4, 5, 7, 8,
		}, out.Data)
	}
}

func TestExtract2DRandomPatches(t *testing.T) {
	img := rampImage(t, 10, 10)

	out, err := Extract2D(img, 3, 4, 5, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.Equal(t, []int{5, 3, 4}, out.Shape)

	data := out.Data.([]float32)
	for p := 0; p < 5; p++ {
		corner := data[p*12]
		r, c := int(corner)/10, int(corner)%10
		assert.LessOrEqual(t, r, 7)
		assert.LessOrEqual(t, c, 6)
		for y := 0; y < 3; y++ {
			for x := 0; x < 4; x++ {
				assert.Equal(t, corner+float32(y*10+x), data[p*12+y*4+x], "patch %d is not a window", p)
			}
		}
	}

	again, err := Extract2D(img, 3, 4, 5, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, out.Data, again.Data, "same seed, same patches")
}

func TestExtract2DErrors(t *testing.T) {
	img := rampImage(t, 3, 3)

	_, err := Extract2D(img, 4, 2, 0, nil)
	assert.Error(t, err)

	_, err = Extract2D(img, 2, 2, 2, nil)
	assert.Error(t, err, "sampling without a generator")

	vol, _ := tensor.Zeros([]int{2, 3, 3}, tensor.Float32)
	_, err = Extract2D(vol, 2, 2, 0, nil)
	assert.Error(t, err)
}

type sliceSource []transforms.Sample

func (s sliceSource) Len() int { return len(s) }

func (s sliceSource) Sample(i int) (transforms.Sample, error) { return s[i], nil }

func parityMask(t *testing.T, img *tensor.Tensor) *tensor.Tensor {
	t.Helper()
	src := img.Data.([]float32)
	data := make([]uint8, len(src))
	for i, v := range src {
		data[i] = uint8(int(v) % 2)
	}
	mask, err := tensor.FromUint8(append([]int(nil), img.Shape...), data)
	require.NoError(t, err)
	return mask
}

func TestPatchData(t *testing.T) {
	a, b := rampImage(t, 6, 6), rampImage(t, 6, 6)
	b.Data.([]float32)[0] = 100
	ds := sliceSource{
		{Input: a, GT: parityMask(t, a)},
		{Input: b, GT: parityMask(t, b)},
	}

	images, masks, err := PatchData(ds, 3, 3, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 3, 3}, images.Shape)
	assert.Equal(t, []int{6, 3, 3}, masks.Shape)
	assert.Equal(t, tensor.Float32, images.DType)
	assert.Equal(t, tensor.Uint8, masks.DType)

	img := images.Data.([]float32)
	msk := masks.Data.([]uint8)
	for i := range img {
		assert.Equal(t, uint8(int(img[i])%2), msk[i], "mask patch %d is misaligned", i/9)
	}

	// the random state is shared by every sample
	for i := 1; i < 27; i++ {
		if img[i] != 100 && img[27+i] != 100 {
			assert.Equal(t, img[i], img[27+i])
		}
	}
}

func TestPatchDataErrors(t *testing.T) {
	a := rampImage(t, 6, 6)
	ds := sliceSource{{Input: a, GT: parityMask(t, a)}}

	_, _, err := PatchData(ds, 3, 3, 0, 1)
	assert.Error(t, err)

	_, _, err = PatchData(ds, 3, 3, 20, 1)
	assert.ErrorContains(t, err, "yields 16 patches")

	_, _, err = PatchData(sliceSource{{Input: a}}, 3, 3, 2, 1)
	assert.ErrorContains(t, err, "no mask")

	_, _, err = PatchData(sliceSource{}, 3, 3, 2, 1)
	assert.Error(t, err)
}

func TestSaveLoadPatches(t *testing.T) {
	dir := t.TempDir()
	a := rampImage(t, 5, 5)
	images, masks, err := PatchData(sliceSource{{Input: a, GT: parityMask(t, a)}}, 2, 2, 4, 3)
	require.NoError(t, err)

	imagesPath := filepath.Join(dir, "images")
	masksPath := filepath.Join(dir, "masks")
	require.NoError(t, SavePatches(images, masks, imagesPath, masksPath))
	assert.FileExists(t, imagesPath+".npy")

	gotImages, gotMasks, err := LoadPatches(imagesPath, masksPath)
	require.NoError(t, err)
	assert.Equal(t, images.Shape, gotImages.Shape)
	assert.Equal(t, images.Data, gotImages.Data)
	assert.Equal(t, tensor.Uint8, gotMasks.DType)
	assert.Equal(t, masks.Data, gotMasks.Data)

	_, _, err = LoadPatches(filepath.Join(dir, "missing"), masksPath)
	assert.Error(t, err)
}
