// Package transforms implements the augmentations applied to 2-D image/mask
// slices. Geometric transforms move the input and the mask with the same
// warp; the input is resampled bilinearly and the mask with nearest neighbour.
package transforms

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-segkit/tensor"
)

// Sample is one input slice with its ground-truth mask. GT may be nil.
type Sample struct {
	Input *tensor.Tensor
	GT    *tensor.Tensor
}

// Transform augments a sample. Randomness comes from rng only.
type Transform interface {
	Apply(s Sample, rng *rand.Rand) (Sample, error)
}

// Compose applies transforms in order
type Compose []Transform

func (c Compose) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	var err error
	for i, t := range c {
		if s, err = t.Apply(s, rng); err != nil {
			return Sample{}, fmt.Errorf("transform %d (%T): %w", i, t, err)
		}
	}
	return s, nil
}

// Default returns the augmentation pipeline used for training slices
func Default() Compose {
	return Compose{
		ElasticTransform{AlphaRange: [2]float64{28, 30}, SigmaRange: [2]float64{3.5, 4.0}, P: 0.3},
		RandomAffine{Degrees: 4.6, Scale: [2]float64{0.98, 1.02}, Translate: [2]float64{0.03, 0.03}},
		ChannelShift{Range: [2]float64{-0.10, 0.10}},
		NormalizeInstance{},
	}
}

func uniform(rng *rand.Rand, r [2]float64) float64 {
	return r[0] + rng.Float64()*(r[1]-r[0])
}

// plane returns the pixels of a [H,W] or [1,H,W] tensor as float32
func plane(t *tensor.Tensor) (data []float32, h, w int, err error) {
	switch {
	case t.Dim() == 2:
		h, w = t.Shape[0], t.Shape[1]
	case t.Dim() == 3 && t.Shape[0] == 1:
		h, w = t.Shape[1], t.Shape[2]
	default:
		return nil, 0, 0, fmt.Errorf("expected a 2-D slice, got shape %v", t.Shape)
	}
	data, err = t.Float32Data()
	return data, h, w, err
}

// mapping gives, for an output pixel, the source coordinates to sample
type mapping func(y, x int) (sy, sx float64)

// warp resamples t through m, keeping its shape and dtype. Pixels mapped
// outside the image are 0.
func warp(t *tensor.Tensor, m mapping, nearest bool) (*tensor.Tensor, error) {
	src, h, w, err := plane(t)
	if err != nil {
		return nil, err
	}

	dst := make([]float32, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sy, sx := m(y, x)
			if nearest {
				dst[y*w+x] = sampleNearest(src, h, w, sy, sx)
			} else {
				dst[y*w+x] = sampleBilinear(src, h, w, sy, sx)
			}
		}
	}

	out, err := tensor.FromFloat32(append([]int(nil), t.Shape...), dst)
	if err != nil {
		return nil, err
	}
	if t.DType != tensor.Float32 {
		return out.AsType(t.DType)
	}
	return out, nil
}

func sampleNearest(src []float32, h, w int, sy, sx float64) float32 {
	iy, ix := int(math.Round(sy)), int(math.Round(sx))
	if iy < 0 || iy >= h || ix < 0 || ix >= w {
		return 0
	}
	return src[iy*w+ix]
}

func sampleBilinear(src []float32, h, w int, sy, sx float64) float32 {
	y0, x0 := int(math.Floor(sy)), int(math.Floor(sx))
	fy, fx := sy-float64(y0), sx-float64(x0)

	at := func(y, x int) float64 {
		if y < 0 || y >= h || x < 0 || x >= w {
			return 0
		}
		return float64(src[y*w+x])
	}
	v := at(y0, x0)*(1-fy)*(1-fx) +
		at(y0, x0+1)*(1-fy)*fx +
		at(y0+1, x0)*fy*(1-fx) +
		at(y0+1, x0+1)*fy*fx
	return float32(v)
}

// warpSample applies m to the input (bilinear) and the mask (nearest)
func warpSample(s Sample, m mapping) (Sample, error) {
	input, err := warp(s.Input, m, false)
	if err != nil {
		return Sample{}, fmt.Errorf("input: %w", err)
	}
	out := Sample{Input: input}
	if s.GT != nil {
		if out.GT, err = warp(s.GT, m, true); err != nil {
			return Sample{}, fmt.Errorf("mask: %w", err)
		}
	}
	return out, nil
}

// RandomAffine rotates by up to ±Degrees, scales by a factor in Scale and
// translates by up to Translate times the image size, about the image centre.
type RandomAffine struct {
	Degrees   float64
	Scale     [2]float64
	Translate [2]float64 // fraction of height, width
}

func (ra RandomAffine) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	_, h, w, err := plane(s.Input)
	if err != nil {
		return Sample{}, err
	}

	angle := (rng.Float64()*2 - 1) * ra.Degrees * math.Pi / 180
	scale := 1.0
	if ra.Scale != [2]float64{} {
		scale = uniform(rng, ra.Scale)
	}
	maxTy, maxTx := ra.Translate[0]*float64(h), ra.Translate[1]*float64(w)
	ty := math.Round((rng.Float64()*2 - 1) * maxTy)
	tx := math.Round((rng.Float64()*2 - 1) * maxTx)

	cy, cx := float64(h-1)/2, float64(w-1)/2
	cos, sin := math.Cos(angle), math.Sin(angle)

	// inverse of: translate ∘ rotate ∘ scale about the centre
	return warpSample(s, func(y, x int) (float64, float64) {
		dy, dx := float64(y)-cy-ty, float64(x)-cx-tx
		sy := (cos*dy - sin*dx) / scale
		sx := (sin*dy + cos*dx) / scale
		return sy + cy, sx + cx
	})
}

// ElasticTransform displaces every pixel by a Gaussian-smoothed random field
// scaled by alpha. It is applied with probability P.
type ElasticTransform struct {
	AlphaRange [2]float64
	SigmaRange [2]float64
	P          float64
}

func (et ElasticTransform) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	if rng.Float64() >= et.P {
		return s, nil
	}
	_, h, w, err := plane(s.Input)
	if err != nil {
		return Sample{}, err
	}

	alpha := uniform(rng, et.AlphaRange)
	sigma := uniform(rng, et.SigmaRange)

	field := func() []float64 {
		f := make([]float64, h*w)
		for i := range f {
			f[i] = rng.Float64()*2 - 1
		}
		f = gaussianFilter(f, h, w, sigma)
		for i := range f {
			f[i] *= alpha
		}
		return f
	}
	dy, dx := field(), field()

	return warpSample(s, func(y, x int) (float64, float64) {
		i := y*w + x
		return float64(y) + dy[i], float64(x) + dx[i]
	})
}

// gaussianFilter smooths a row-major h×w field with a separable kernel
// truncated at 4 sigma, reflecting at the borders
func gaussianFilter(f []float64, h, w int, sigma float64) []float64 {
	if sigma <= 0 {
		return f
	}
	radius := int(4*sigma + 0.5)
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	reflect := func(i, n int) int {
		for i < 0 || i >= n {
			if i < 0 {
				i = -i - 1
			}
			if i >= n {
				i = 2*n - i - 1
			}
		}
		return i
	}

	tmp := make([]float64, len(f))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v float64
			for k, kv := range kernel {
				v += kv * f[y*w+reflect(x+k-radius, w)]
			}
			tmp[y*w+x] = v
		}
	}
	out := make([]float64, len(f))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v float64
			for k, kv := range kernel {
				v += kv * tmp[reflect(y+k-radius, h)*w+x]
			}
			out[y*w+x] = v
		}
	}
	return out
}

// ChannelShift adds a random offset drawn from Range to every input pixel
type ChannelShift struct {
	Range [2]float64
}

func (cs ChannelShift) Apply(s Sample, rng *rand.Rand) (Sample, error) {
	shift := uniform(rng, cs.Range)
	data, err := s.Input.Float32Data()
	if err != nil {
		return Sample{}, err
	}
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = v + float32(shift)
	}
	input, err := tensor.FromFloat32(append([]int(nil), s.Input.Shape...), out)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Input: input, GT: s.GT}, nil
}

// NormalizeInstance standardises the input with its own mean and sample
// standard deviation. A constant input is only centred.
type NormalizeInstance struct{}

func (NormalizeInstance) Apply(s Sample, _ *rand.Rand) (Sample, error) {
	data, err := s.Input.Float64Data()
	if err != nil {
		return Sample{}, err
	}
	mean, std := stat.MeanStdDev(data, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}

	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32((v - mean) / std)
	}
	input, err := tensor.FromFloat32(append([]int(nil), s.Input.Shape...), out)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Input: input, GT: s.GT}, nil
}
