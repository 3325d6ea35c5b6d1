package transform

import (
	"image"
	"testing"
)

func gray(w, h int, fill uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = fill
	}
	return img
}

func TestThreshold(t *testing.T) {
	img := gray(4, 1, 0)
	img.Pix[1] = 24
	img.Pix[2] = 25
	img.Pix[3] = 200

	out := Threshold{Level: 25}.Apply(img)
	want := []uint8{0, 0, 255, 255}
	for i, v := range want {
		if out.Pix[i] != v {
			t.Errorf("pixel %d: got %d want %d", i, out.Pix[i], v)
		}
	}
}

func TestNormalizeStretchesRange(t *testing.T) {
	img := gray(3, 1, 0)
	img.Pix[0] = 50
	img.Pix[1] = 100
	img.Pix[2] = 150

	out := Normalize{}.Apply(img)
	if out.Pix[0] != 0 {
		t.Errorf("min pixel: got %d want 0", out.Pix[0])
	}
	if out.Pix[2] != 255 {
		t.Errorf("max pixel: got %d want 255", out.Pix[2])
	}
	if out.Pix[1] <= out.Pix[0] || out.Pix[1] >= out.Pix[2] {
		t.Errorf("mid pixel %d not between extremes", out.Pix[1])
	}
}

func TestNormalizeMaxReachesFullScale(t *testing.T) {
	// Ranges whose scale factor is not exactly representable must still
	// map the brightest pixel to 255, not 254.
	for _, span := range [][2]uint8{{10, 200}, {0, 190}, {3, 252}} {
		img := gray(2, 1, span[0])
		img.Pix[1] = span[1]
		out := Normalize{}.Apply(img)
		if out.Pix[1] != 255 {
			t.Errorf("range %d..%d: max pixel got %d want 255", span[0], span[1], out.Pix[1])
		}
		if out.Pix[0] != 0 {
			t.Errorf("range %d..%d: min pixel got %d want 0", span[0], span[1], out.Pix[0])
		}
	}
}

func TestNormalizeFlatImageUnchanged(t *testing.T) {
	img := gray(4, 4, 77)
	out := Normalize{}.Apply(img)
	for i, p := range out.Pix {
		if p != 77 {
			t.Fatalf("pixel %d changed to %d", i, p)
		}
	}
}

func TestGammaIdentity(t *testing.T) {
	g := NewGamma(1.0)
	img := gray(1, 1, 0)
	for v := 0; v < 256; v++ {
		img.Pix[0] = uint8(v)
		out := g.Apply(img)
		if out.Pix[0] != uint8(v) {
			t.Fatalf("gamma 1.0 changed %d to %d", v, out.Pix[0])
		}
	}
}

func TestGammaBrightens(t *testing.T) {
	g := NewGamma(2.0)
	img := gray(1, 1, 64)
	out := g.Apply(img)
	if out.Pix[0] <= 64 {
		t.Errorf("gamma 2.0 should brighten midtones, got %d", out.Pix[0])
	}
}

func TestResize(t *testing.T) {
	img := gray(10, 8, 42)
	out := Resize{Percent: 50}.Apply(img)
	if out.Bounds().Dx() != 5 || out.Bounds().Dy() != 4 {
		t.Fatalf("got %v want 5x4", out.Bounds())
	}
	for i, p := range out.Pix {
		if p != 42 {
			t.Fatalf("pixel %d changed to %d", i, p)
		}
	}

	// 100 percent and zero are no-ops returning the original.
	if got := (Resize{Percent: 100}).Apply(img); got != img {
		t.Error("percent 100 should return input unchanged")
	}
	if got := (Resize{}).Apply(img); got != img {
		t.Error("zero percent should return input unchanged")
	}
}

func TestBoxBlurSmoothsSpike(t *testing.T) {
	img := gray(5, 5, 0)
	img.Pix[2*img.Stride+2] = 255

	out := BoxBlur{Radius: 1}.Apply(img)
	center := out.Pix[2*out.Stride+2]
	if center >= 255 {
		t.Errorf("spike not smoothed: %d", center)
	}
	if out.Pix[1*out.Stride+2] == 0 {
		t.Error("blur did not spread energy to neighbours")
	}
}

func TestChainOrder(t *testing.T) {
	img := gray(2, 2, 10)
	img.Pix[0] = 200

	c := Chain{Normalize{}, Threshold{Level: 128}}
	out := c.Apply(img)
	if out.Pix[0] != 255 {
		t.Errorf("bright pixel: got %d want 255", out.Pix[0])
	}
	if out.Pix[1] != 0 {
		t.Errorf("dark pixel: got %d want 0", out.Pix[1])
	}
}

func TestBackgroundSubtractor(t *testing.T) {
	bg := NewBackgroundSubtractor(0.05, 25)

	base := gray(8, 8, 20)
	mask := bg.Apply(base)
	for i, p := range mask.Pix {
		if p != 0 {
			t.Fatalf("seed frame produced foreground at %d", i)
		}
	}

	// Static scene stays background.
	mask = bg.Apply(gray(8, 8, 20))
	for i, p := range mask.Pix {
		if p != 0 {
			t.Fatalf("static scene produced foreground at %d", i)
		}
	}

	// A warm blob appears.
	warm := gray(8, 8, 20)
	warm.Pix[3*warm.Stride+3] = 200
	warm.Pix[3*warm.Stride+4] = 200
	mask = bg.Apply(warm)
	if mask.Pix[3*mask.Stride+3] != 255 || mask.Pix[3*mask.Stride+4] != 255 {
		t.Error("warm blob not detected as foreground")
	}
	if mask.Pix[0] != 0 {
		t.Error("unchanged pixel flagged as foreground")
	}
}

func TestBackgroundSubtractorReset(t *testing.T) {
	bg := NewBackgroundSubtractor(0.05, 25)
	bg.Apply(gray(8, 8, 20))

	bg.Reset()
	// After reset, a completely different scene seeds quietly.
	mask := bg.Apply(gray(8, 8, 240))
	for i, p := range mask.Pix {
		if p != 0 {
			t.Fatalf("post-reset seed frame produced foreground at %d", i)
		}
	}
}
