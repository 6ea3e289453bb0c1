package analyzer

import (
	"context"
	"os/exec"
	"strings"

	"github.com/spf13/cast"

	"github.com/mediavault/libcatalog/internal/ffmpeg"
	"github.com/mediavault/libcatalog/internal/mrl"
)

// FFprobeExtractor is the concrete Extractor the host application wires
// in by default: it shells out to ffprobe, the same external tool the
// teacher's scanner package probes with, and reshapes its stream/format
// JSON into a ProbeResult. Probe runs ffprobe on every local mrl it is
// given; it does not check the file type or extension first.
type FFprobeExtractor struct {
	probe *ffmpeg.FFprobe
}

func NewFFprobeExtractor(ffprobePath string) *FFprobeExtractor {
	return &FFprobeExtractor{probe: ffmpeg.NewFFprobe(ffprobePath)}
}

func (e *FFprobeExtractor) Probe(ctx context.Context, mrlStr string) (ProbeResult, error) {
	path, err := localFilePath(mrlStr)
	if err != nil {
		return ProbeResult{}, err
	}

	res, err := e.runProbe(ctx, path)
	if err != nil {
		return ProbeResult{}, err
	}

	out := ProbeResult{
		Title:       res.Format.Tags["title"],
		Album:       res.Format.Tags["album"],
		AlbumArtist: firstNonEmpty(res.Format.Tags["album_artist"], res.Format.Tags["albumartist"]),
		Artist:      res.Format.Tags["artist"],
		Genre:       res.Format.Tags["genre"],
		Date:        res.Format.Tags["date"],
		TrackNumber: leadingInt(res.Format.Tags["track"]),
		DiscNumber:  leadingInt(res.Format.Tags["disc"]),
	}

	for _, s := range res.Streams {
		switch s.CodecType {
		case "audio":
			out.Tracks = append(out.Tracks, TrackDescriptor{
				Kind:       TrackKindAudio,
				Codec:      s.CodecName,
				Language:   s.Tags["language"],
				Description: s.Tags["title"],
				Bitrate:    atoiOr(s.BitRate, 0),
				SampleRate: atoiOr(s.SampleRate, 0),
				Channels:   s.Channels,
			})
		case "video":
			out.Tracks = append(out.Tracks, TrackDescriptor{
				Kind:     TrackKindVideo,
				Codec:    s.CodecName,
				Language: s.Tags["language"],
				Bitrate:  atoiOr(s.BitRate, 0),
				Width:    s.Width,
				Height:   s.Height,
			})
		case "subtitle":
			out.Tracks = append(out.Tracks, TrackDescriptor{
				Kind:        TrackKindSubtitle,
				Codec:       s.CodecName,
				Language:    s.Tags["language"],
				Description: s.Tags["title"],
			})
		}
	}
	return out, nil
}

// runProbe races e.probe.Probe against ctx so a hung ffprobe process
// cannot block the extraction service past its deadline (§5: probes are
// bounded by an explicit wall-clock timeout); ffmpeg.FFprobe.Probe
// itself has no context awareness, so the subprocess may keep running
// in the background after a timeout, but the caller is unblocked.
func (e *FFprobeExtractor) runProbe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	type result struct {
		res *ffmpeg.ProbeResult
		err error
	}
	ch := make(chan result, 1)
	go func() {
		res, err := e.probe.Probe(path)
		ch <- result{res, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.res, r.err
	}
}

func localFilePath(mrlStr string) (string, error) {
	scheme, _, _, path, err := mrl.Decode(mrlStr)
	if err != nil {
		return "", err
	}
	if scheme != "file" {
		return "", exec.ErrNotFound
	}
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return path, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func leadingInt(s string) int {
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return atoiOr(s, 0)
}

// atoiOr coerces a loosely-typed ffprobe tag value (track number, disc
// number, bitrate) into an int via spf13/cast, the same coercion the
// teacher's scan-time metadata handling leans on rather than a bespoke
// strconv+error-check for every numeric tag.
func atoiOr(s string, fallback int) int {
	n, err := cast.ToIntE(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return n
}
