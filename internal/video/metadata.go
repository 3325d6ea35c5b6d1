package video

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"camtrap/internal/fsutil"
)

// Metadata holds the essential facts about a video clip. Zero values mean
// "unknown"; Merge fills unknowns from a lower-priority source.
type Metadata struct {
	StartTime time.Time
	StopTime  time.Time
	FPS       float64
	Width     int
	Height    int
	Status    string
}

// Merge returns m with any unset fields filled in from other.
func (m Metadata) Merge(other Metadata) Metadata {
	if m.StartTime.IsZero() {
		m.StartTime = other.StartTime
	}
	if m.StopTime.IsZero() {
		m.StopTime = other.StopTime
	}
	if m.FPS == 0 {
		m.FPS = other.FPS
	}
	if m.Width == 0 {
		m.Width = other.Width
	}
	if m.Height == 0 {
		m.Height = other.Height
	}
	if m.Status == "" {
		m.Status = other.Status
	}
	return m
}

// Duration derives clip length from start/stop when both are known.
func (m Metadata) Duration() time.Duration {
	if m.StartTime.IsZero() || m.StopTime.IsZero() {
		return 0
	}
	return m.StopTime.Sub(m.StartTime)
}

// ParseFilenameTime extracts the recording start time encoded in a video
// filename. Camera firmware writes names like 20231104_211500.mkv; older
// units use two-digit years and some use a 12-hour clock.
func ParseFilenameTime(path, sep string, clock24h bool) (time.Time, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(stem, sep)
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("filename %q has no %q-separated date and time", stem, sep)
	}
	datePart, timePart := parts[0], parts[1]

	dateLayout := "20060102"
	if len(datePart) == 6 {
		dateLayout = "060102"
	}
	timeLayout := "150405"
	if !clock24h {
		timeLayout = "030405"
	}

	t, err := time.Parse(dateLayout+" "+timeLayout, datePart+" "+timePart)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp from %q: %w", stem, err)
	}
	return t, nil
}

// sidecarDoc matches the camera's per-clip XML sidecar. Element names vary
// between firmware versions, so every known spelling is scanned.
type sidecarDoc struct {
	Elements []sidecarElement `xml:",any"`
}

type sidecarElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

var sidecarAliases = map[string]string{
	"start_time":        "starttime",
	"stop_time":         "stoptime",
	"end_time":          "stoptime",
	"endtime":           "stoptime",
	"frames_per_second": "fps",
}

// FromSidecar loads metadata from the XML sidecar next to videoPath.
// A missing sidecar is not an error and yields empty metadata.
func FromSidecar(videoPath string) (Metadata, error) {
	var meta Metadata

	path := fsutil.SidecarPath(videoPath)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}

	var doc sidecarDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return meta, fmt.Errorf("parse sidecar %s: %w", path, err)
	}

	for _, el := range doc.Elements {
		tag := strings.ToLower(el.XMLName.Local)
		if canonical, ok := sidecarAliases[tag]; ok {
			tag = canonical
		}
		value := strings.TrimSpace(el.Value)
		switch tag {
		case "starttime":
			if t, err := parseSidecarTime(value); err == nil {
				meta.StartTime = t
			}
		case "stoptime":
			if t, err := parseSidecarTime(value); err == nil {
				meta.StopTime = t
			}
		case "fps":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				meta.FPS = f
			}
		case "width":
			if n, err := strconv.Atoi(value); err == nil {
				meta.Width = n
			}
		case "height":
			if n, err := strconv.Atoi(value); err == nil {
				meta.Height = n
			}
		case "status":
			meta.Status = value
		}
	}
	return meta, nil
}

func parseSidecarTime(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// probeOutput mirrors the subset of ffprobe's JSON we consume.
type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Tags     struct {
			CreationTime string `json:"creation_time"`
		} `json:"tags"`
	} `json:"format"`
}

// Probe extracts metadata from the container itself using ffprobe.
func Probe(ctx context.Context, path string) (Metadata, error) {
	var meta Metadata

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	output, err := cmd.Output()
	if err != nil {
		return meta, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return meta, fmt.Errorf("decode ffprobe output for %s: %w", path, err)
	}

	for _, stream := range probed.Streams {
		if stream.CodecType != "" && stream.CodecType != "video" {
			continue
		}
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.FPS = parseFrameRate(stream.AvgFrameRate)
		break
	}

	duration, _ := strconv.ParseFloat(probed.Format.Duration, 64)
	if ct := probed.Format.Tags.CreationTime; ct != "" {
		if t, err := time.Parse(time.RFC3339Nano, ct); err == nil {
			meta.StartTime = t
			if duration > 0 {
				meta.StopTime = t.Add(time.Duration(duration * float64(time.Second)))
			}
		}
	}
	return meta, nil
}

func parseFrameRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// LoadMetadata gathers metadata for one clip from every available source
// and merges them field-wise. priority selects which source wins when both
// provide a value ("sidecar" or "ffprobe"); the filename timestamp fills a
// still-missing start time last.
func LoadMetadata(ctx context.Context, path, priority, sep string, clock24h bool) (Metadata, error) {
	sidecar, err := FromSidecar(path)
	if err != nil {
		return Metadata{}, err
	}
	probed, probeErr := Probe(ctx, path)

	var meta Metadata
	switch priority {
	case "ffprobe", "ffmpeg":
		meta = probed.Merge(sidecar)
	default:
		meta = sidecar.Merge(probed)
	}

	if meta.StartTime.IsZero() {
		if t, err := ParseFilenameTime(path, sep, clock24h); err == nil {
			meta.StartTime = t
		}
	}
	if meta.StartTime.IsZero() && probeErr != nil {
		return meta, fmt.Errorf("no usable metadata for %s: %w", path, probeErr)
	}
	return meta, nil
}
