package video

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"camtrap/internal/config"
)

func TestLoaderSurfacesDecodeFailure(t *testing.T) {
	// Zero dimensions make the frame reader refuse the clip before ffmpeg
	// is ever launched, so the failure path is hermetic.
	items := []Item{{
		VideoID: 1,
		Path:    "/nonexistent/clip.mkv",
		Meta:    Metadata{StartTime: time.Now(), Width: 0, Height: 0},
	}}
	loader := NewLoader(config.Default().Ingest, items, nil)

	frames := loader.Start(context.Background())
	for range frames {
		t.Fatal("no frames expected from a failed decode")
	}

	err := loader.Err()
	require.Error(t, err)
	require.Contains(t, err.Error(), "clip.mkv")
}

func TestLoaderCleanEndHasNoError(t *testing.T) {
	loader := NewLoader(config.Default().Ingest, nil, nil)
	frames := loader.Start(context.Background())
	for range frames {
	}
	require.NoError(t, loader.Err())
}
