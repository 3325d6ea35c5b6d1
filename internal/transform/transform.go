package transform

import (
	"image"
	"math"
)

// Transform mutates or replaces a grayscale frame. Implementations may
// return the input image when they operate in place.
type Transform interface {
	Apply(*image.Gray) *image.Gray
}

// Chain applies a fixed sequence of transforms in order.
type Chain []Transform

func (c Chain) Apply(img *image.Gray) *image.Gray {
	for _, t := range c {
		img = t.Apply(img)
	}
	return img
}

// BoxBlur smooths the frame with a square mean filter of the given radius.
// Thermal sensor noise is speckled, so even radius 1 or 2 settles the
// background model considerably.
type BoxBlur struct {
	Radius int
}

func (b BoxBlur) Apply(img *image.Gray) *image.Gray {
	if b.Radius <= 0 {
		return img
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewGray(bounds)

	// Horizontal pass into a scratch buffer, then vertical pass.
	scratch := make([]uint16, w*h)
	window := 2*b.Radius + 1
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			var sum int
			for dx := -b.Radius; dx <= b.Radius; dx++ {
				sx := clamp(x+dx, 0, w-1)
				sum += int(img.Pix[row+sx])
			}
			scratch[y*w+x] = uint16(sum / window)
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum int
			for dy := -b.Radius; dy <= b.Radius; dy++ {
				sy := clamp(y+dy, 0, h-1)
				sum += int(scratch[sy*w+x])
			}
			out.Pix[y*out.Stride+x] = uint8(sum / window)
		}
	}
	return out
}

// Gamma applies gamma correction through a precomputed lookup table.
type Gamma struct {
	lut [256]uint8
}

// NewGamma builds the lookup table once; gamma 1.0 is the identity.
func NewGamma(gamma float64) *Gamma {
	if gamma <= 0 {
		gamma = 1
	}
	g := &Gamma{}
	inv := 1.0 / gamma
	for i := 0; i < 256; i++ {
		v := math.Pow(float64(i)/255.0, inv) * 255.0
		g.lut[i] = uint8(math.Round(math.Min(v, 255)))
	}
	return g
}

func (g *Gamma) Apply(img *image.Gray) *image.Gray {
	for i, p := range img.Pix {
		img.Pix[i] = g.lut[p]
	}
	return img
}

// Normalize stretches pixel intensities to span the full 0..255 range.
type Normalize struct{}

func (Normalize) Apply(img *image.Gray) *image.Gray {
	lo, hi := uint8(255), uint8(0)
	for _, p := range img.Pix {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi <= lo {
		return img
	}
	scale := 255.0 / float64(hi-lo)
	for i, p := range img.Pix {
		img.Pix[i] = uint8(math.Round(float64(p-lo) * scale))
	}
	return img
}

// Resize scales the frame to a percentage of its original size using
// nearest-neighbour sampling, which is plenty for blob detection.
type Resize struct {
	Percent int
}

func (r Resize) Apply(img *image.Gray) *image.Gray {
	if r.Percent <= 0 || r.Percent == 100 {
		return img
	}
	bounds := img.Bounds()
	w := bounds.Dx() * r.Percent / 100
	h := bounds.Dy() * r.Percent / 100
	if w < 1 || h < 1 {
		return img
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := y * bounds.Dy() / h
		for x := 0; x < w; x++ {
			sx := x * bounds.Dx() / w
			out.Pix[y*out.Stride+x] = img.Pix[sy*img.Stride+sx]
		}
	}
	return out
}

// Threshold binarizes the frame: pixels at or above Level become 255,
// everything below becomes 0.
type Threshold struct {
	Level uint8
}

func (t Threshold) Apply(img *image.Gray) *image.Gray {
	for i, p := range img.Pix {
		if p >= t.Level {
			img.Pix[i] = 255
		} else {
			img.Pix[i] = 0
		}
	}
	return img
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
