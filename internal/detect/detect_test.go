package detect

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func maskWithRect(w, h int, r image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Pix[y*img.Stride+x] = 255
		}
	}
	return img
}

func TestDetectSingleBlob(t *testing.T) {
	mask := maskWithRect(40, 30, image.Rect(10, 5, 20, 15))

	d := New(50)
	blobs := d.Detect(mask, nil)
	require.Len(t, blobs, 1)

	b := blobs[0]
	assert.Equal(t, image.Rect(10, 5, 20, 15), b.Bounds)
	assert.Equal(t, 100, b.Area)
	assert.InDelta(t, 14.5, b.CentroidX, 1e-9)
	assert.InDelta(t, 9.5, b.CentroidY, 1e-9)
}

func TestDetectMinAreaFilter(t *testing.T) {
	// 5x5 = 25 pixels, below the default 50 threshold.
	mask := maskWithRect(40, 30, image.Rect(0, 0, 5, 5))
	assert.Empty(t, New(50).Detect(mask, nil))
	assert.Len(t, New(10).Detect(mask, nil), 1)
}

func TestDetectSeparateBlobs(t *testing.T) {
	mask := maskWithRect(60, 30, image.Rect(0, 0, 10, 10))
	for y := 15; y < 25; y++ {
		for x := 40; x < 50; x++ {
			mask.Pix[y*mask.Stride+x] = 255
		}
	}

	blobs := New(50).Detect(mask, nil)
	require.Len(t, blobs, 2)
	assert.NotEqual(t, blobs[0].Bounds, blobs[1].Bounds)
}

func TestDetectDiagonalNotConnected(t *testing.T) {
	// Two 8x8 squares touching only at one corner stay separate regions
	// under 4-connectivity.
	mask := maskWithRect(30, 30, image.Rect(0, 0, 8, 8))
	for y := 8; y < 16; y++ {
		for x := 8; x < 16; x++ {
			mask.Pix[y*mask.Stride+x] = 255
		}
	}

	blobs := New(50).Detect(mask, nil)
	assert.Len(t, blobs, 2)
}

func TestDetectMeanIntensity(t *testing.T) {
	mask := maskWithRect(20, 20, image.Rect(2, 2, 12, 12))
	frame := image.NewGray(image.Rect(0, 0, 20, 20))
	for y := 2; y < 12; y++ {
		for x := 2; x < 12; x++ {
			frame.Pix[y*frame.Stride+x] = 180
		}
	}

	blobs := New(50).Detect(mask, frame)
	require.Len(t, blobs, 1)
	assert.InDelta(t, 180.0, blobs[0].MeanIntensity, 1e-9)
}

func TestDetectEmptyMask(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 10, 10))
	assert.Empty(t, New(50).Detect(mask, nil))
}
