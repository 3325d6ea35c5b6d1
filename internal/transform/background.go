package transform

import "image"

// BackgroundSubtractor maintains a running-average background model and
// emits a binary foreground mask per frame. Warm animals against a cold
// scene separate cleanly with a plain absolute-difference threshold.
type BackgroundSubtractor struct {
	model        []float64
	width        int
	height       int
	learningRate float64
	threshold    uint8
}

// NewBackgroundSubtractor configures the model. learningRate is the weight
// of each new frame in the running average; threshold is the minimum
// absolute difference for a pixel to count as foreground.
func NewBackgroundSubtractor(learningRate float64, threshold uint8) *BackgroundSubtractor {
	if learningRate <= 0 || learningRate > 1 {
		learningRate = 0.05
	}
	return &BackgroundSubtractor{learningRate: learningRate, threshold: threshold}
}

// Reset drops the model so the next frame seeds a fresh background. Called
// across recording gaps, where the scene may have shifted entirely.
func (b *BackgroundSubtractor) Reset() {
	b.model = nil
}

// Apply returns the foreground mask for img and folds img into the model.
// The first frame after construction or Reset seeds the model and yields
// an empty mask.
func (b *BackgroundSubtractor) Apply(img *image.Gray) *image.Gray {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mask := image.NewGray(bounds)

	if b.model == nil || b.width != w || b.height != h {
		b.model = make([]float64, w*h)
		b.width, b.height = w, h
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				b.model[y*w+x] = float64(img.Pix[y*img.Stride+x])
			}
		}
		return mask
	}

	lr := b.learningRate
	thr := float64(b.threshold)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			pix := float64(img.Pix[y*img.Stride+x])
			diff := pix - b.model[i]
			if diff < 0 {
				diff = -diff
			}
			if diff >= thr {
				mask.Pix[y*mask.Stride+x] = 255
			}
			b.model[i] += lr * (pix - b.model[i])
		}
	}
	return mask
}
