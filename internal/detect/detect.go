package detect

import "image"

// Blob is one connected foreground region found in a mask.
type Blob struct {
	Bounds        image.Rectangle
	CentroidX     float64
	CentroidY     float64
	Area          int
	MeanIntensity float64
}

// Width returns the bounding box width in pixels.
func (b Blob) Width() int { return b.Bounds.Dx() }

// Height returns the bounding box height in pixels.
func (b Blob) Height() int { return b.Bounds.Dy() }

// Detector extracts blobs from binary foreground masks.
type Detector struct {
	MinArea int
}

// New returns a detector that drops regions smaller than minArea pixels.
func New(minArea int) *Detector {
	if minArea <= 0 {
		minArea = 50
	}
	return &Detector{MinArea: minArea}
}

// Detect labels 4-connected foreground regions of mask and returns those at
// or above MinArea. intensity, when non-nil, supplies the source frame so
// each blob carries its mean pixel intensity; it must match mask's bounds.
func (d *Detector) Detect(mask *image.Gray, intensity *image.Gray) []Blob {
	bounds := mask.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	labels := make([]int32, w*h)
	var blobs []Blob

	// Iterative flood fill with an explicit stack keeps large regions from
	// blowing the goroutine stack.
	stack := make([]int, 0, 256)
	next := int32(1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if labels[i] != 0 || mask.Pix[y*mask.Stride+x] == 0 {
				continue
			}

			label := next
			next++
			labels[i] = label
			stack = append(stack[:0], i)

			minX, minY, maxX, maxY := x, y, x, y
			area := 0
			var sumX, sumY int64
			var sumI int64

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				px, py := p%w, p/w

				area++
				sumX += int64(px)
				sumY += int64(py)
				if intensity != nil {
					sumI += int64(intensity.Pix[py*intensity.Stride+px])
				}
				if px < minX {
					minX = px
				}
				if px > maxX {
					maxX = px
				}
				if py < minY {
					minY = py
				}
				if py > maxY {
					maxY = py
				}

				if px > 0 {
					stack = push(stack, labels, mask, p-1, px-1, py, label)
				}
				if px < w-1 {
					stack = push(stack, labels, mask, p+1, px+1, py, label)
				}
				if py > 0 {
					stack = push(stack, labels, mask, p-w, px, py-1, label)
				}
				if py < h-1 {
					stack = push(stack, labels, mask, p+w, px, py+1, label)
				}
			}

			if area < d.MinArea {
				continue
			}
			blob := Blob{
				Bounds:    image.Rect(minX, minY, maxX+1, maxY+1),
				CentroidX: float64(sumX) / float64(area),
				CentroidY: float64(sumY) / float64(area),
				Area:      area,
			}
			if intensity != nil {
				blob.MeanIntensity = float64(sumI) / float64(area)
			}
			blobs = append(blobs, blob)
		}
	}
	return blobs
}

func push(stack []int, labels []int32, mask *image.Gray, i, x, y int, label int32) []int {
	if labels[i] != 0 || mask.Pix[y*mask.Stride+x] == 0 {
		return stack
	}
	labels[i] = label
	return append(stack, i)
}
