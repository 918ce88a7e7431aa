// Package retina extracts multi-resolution glimpse patches from image
// batches and tracks which pixels the glimpse policy has visited.
package retina

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/vecf32"
)

// Retina is a multi-scale patch extractor. For NumPatches square patches of
// increasing size (PatchSize, PatchSize*Scale, ...), it crops around a
// normalized location, average-pools every patch down to PatchSize and
// concatenates them along the channel axis.
//
// The padded working copy of the image is padded by ceil(largest/2) on all
// sides, so no crop ever indexes out of bounds, even at locations clamped
// to exactly ±1 where the denormalized center sits on the image edge.
type Retina struct {
	PatchSize  int     // base patch edge, in pixels
	NumPatches int     // number of scales
	Scale      float32 // size multiplier between successive patches
}

// Sizes returns the edge length of each patch, smallest first.
func (r Retina) Sizes() []int {
	sizes := make([]int, r.NumPatches)
	size := r.PatchSize
	for i := range sizes {
		sizes[i] = size
		size = int(r.Scale * float32(size))
	}
	return sizes
}

// FeatureSize is the length of the flattened glimpse feature for an image
// with c channels. It is independent of the image size.
func (r Retina) FeatureSize(c int) int {
	return r.NumPatches * r.PatchSize * r.PatchSize * c
}

// Extract crops NumPatches patches centered at loc from every image in x,
// pools them to the base resolution and flattens them into a (B, k*g*g*c)
// feature tensor. It also builds the single-step visited mask (B, H*W),
// values clamped to [0,1]. If running is non-nil, the step mask is
// accumulated into a copy of it and the updated accumulation is returned
// instead; running itself is unchanged.
//
// x must be (B, C, H, W) float32 and loc (B, 2) in [-1, 1], x before y.
func (r Retina) Extract(x, loc, running *tensor.Dense) (phi, mask *tensor.Dense, err error) {
	if x.Dims() != 4 {
		return nil, nil, errors.Errorf("retina: expected a (B, C, H, W) image batch, got shape %v", x.Shape())
	}
	b, c, h, w := x.Shape()[0], x.Shape()[1], x.Shape()[2], x.Shape()[3]
	if loc.Dims() != 2 || loc.Shape()[0] != b || loc.Shape()[1] != 2 {
		return nil, nil, errors.Errorf("retina: location shape %v does not match batch size %d", loc.Shape(), b)
	}

	sizes := r.Sizes()
	largest := sizes[len(sizes)-1]
	pad := (largest + 1) / 2
	for _, size := range sizes {
		if size%r.PatchSize != 0 {
			return nil, nil, errors.Errorf("retina: patch size %d is not poolable to base size %d", size, r.PatchSize)
		}
	}

	xs := x.Data().([]float32)
	ls := loc.Data().([]float32)

	ph, pw := h+2*pad, w+2*pad
	padded := make([]float32, b*c*ph*pw)
	for bi := 0; bi < b; bi++ {
		for ci := 0; ci < c; ci++ {
			src := xs[(bi*c+ci)*h*w:]
			dst := padded[(bi*c+ci)*ph*pw:]
			for row := 0; row < h; row++ {
				copy(dst[(row+pad)*pw+pad:(row+pad)*pw+pad+w], src[row*w:(row+1)*w])
			}
		}
	}

	g := r.PatchSize
	feat := make([]float32, b*r.FeatureSize(c))
	stepMask := make([]float32, b*h*w)
	featStride := r.FeatureSize(c)

	for bi := 0; bi < b; bi++ {
		// truncating denormalization, identical on both axes
		cx := int(0.5 * (ls[bi*2] + 1.0) * float32(h))
		cy := int(0.5 * (ls[bi*2+1] + 1.0) * float32(h))

		for pi, size := range sizes {
			top := cy + pad - size/2
			left := cx + pad - size/2
			pool := size / g

			for ci := 0; ci < c; ci++ {
				img := padded[(bi*c+ci)*ph*pw:]
				out := feat[bi*featStride+(pi*c+ci)*g*g:]
				for gy := 0; gy < g; gy++ {
					for gx := 0; gx < g; gx++ {
						var sum float32
						for py := 0; py < pool; py++ {
							row := (top + gy*pool + py) * pw
							for px := 0; px < pool; px++ {
								sum += img[row+left+gx*pool+px]
							}
						}
						out[gy*g+gx] = sum / float32(pool*pool)
					}
				}
			}

			// occupancy in original image coordinates
			m := stepMask[bi*h*w:]
			for row := maxInt(cy-size/2, 0); row < minInt(cy+size-size/2, h); row++ {
				for col := maxInt(cx-size/2, 0); col < minInt(cx+size-size/2, w); col++ {
					m[row*w+col] = 1
				}
			}
		}
	}

	maskBacking := stepMask
	if running != nil {
		if running.Shape().TotalSize() != b*h*w {
			return nil, nil, errors.Errorf("retina: running mask shape %v does not match (B=%d, H*W=%d)", running.Shape(), b, h*w)
		}
		maskBacking = make([]float32, b*h*w)
		copy(maskBacking, running.Data().([]float32))
		vecf32.Add(maskBacking, stepMask)
		clamp01(maskBacking)
	}

	phi = tensor.New(tensor.WithShape(b, featStride), tensor.WithBacking(feat))
	mask = tensor.New(tensor.WithShape(b, h*w), tensor.WithBacking(maskBacking))
	return phi, mask, nil
}

func clamp01(a []float32) {
	for i, v := range a {
		if v < 0 {
			a[i] = 0
		} else if v > 1 {
			a[i] = 1
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
