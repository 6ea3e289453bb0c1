package thumbnailer

// FFmpegGenerator is the default Generator: it shells out to ffmpeg to
// seek into the source and extract one frame, grounded on the
// teacher's internal/preview/preview.go GenerateThumbnail — same
// process-group-kill-on-timeout protection against a wedged ffmpeg
// process, same single -vframes 1 extraction, generalised to the
// fractional Position the thumbnailer task carries instead of a fixed
// 10% offset and to an explicit width/height scale filter.

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mediavault/libcatalog/internal/mrl"
)

const ffmpegTimeout = 2 * time.Minute

type FFmpegGenerator struct {
	ffmpegPath  string
	ffprobePath string
}

func NewFFmpegGenerator(ffmpegPath, ffprobePath string) *FFmpegGenerator {
	return &FFmpegGenerator{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

func (g *FFmpegGenerator) Generate(sourceMRL, destPath string, width, height int, position float64) error {
	scheme, _, _, path, err := mrl.Decode(sourceMRL)
	if err != nil {
		return err
	}
	if scheme != "file" {
		return fmt.Errorf("thumbnailer: unsupported scheme %q", scheme)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	durationSec := g.probeDuration(path)
	seekTo := int(float64(durationSec) * position)
	if seekTo < 1 {
		seekTo = 1
	}

	args := []string{"-ss", fmt.Sprintf("%d", seekTo), "-i", path, "-vframes", "1"}
	if width > 0 && height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", width, height))
	}
	args = append(args, "-q:v", "2", "-y", destPath)

	cmd := exec.Command(g.ffmpegPath, args...)
	if _, err := runFFmpegWithTimeout(cmd, ffmpegTimeout); err != nil {
		return fmt.Errorf("thumbnail generation: %w", err)
	}
	return nil
}

// probeDuration reads the source's duration via ffprobe so Position (a
// 0..1 fraction) maps to a concrete seek offset; a probe failure just
// means "seek to the first second" rather than failing the whole task.
func (g *FFmpegGenerator) probeDuration(path string) int {
	cmd := exec.Command(g.ffprobePath, "-v", "quiet", "-print_format", "json", "-show_format", path)
	out, err := cmd.Output()
	if err != nil {
		return 0
	}
	return parseDurationSeconds(out)
}

func parseDurationSeconds(ffprobeJSON []byte) int {
	var out struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(ffprobeJSON, &out); err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return int(d)
}

// runFFmpegWithTimeout starts cmd in its own process group and kills the
// whole group if it overruns timeout, avoiding the case where
// CommandContext's signal leaves the process wedged on pipe drain.
func runFFmpegWithTimeout(cmd *exec.Cmd, timeout time.Duration) ([]byte, error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return buf.Bytes(), err
	case <-time.After(timeout):
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			_ = cmd.Process.Kill()
		}
		<-done
		return buf.Bytes(), fmt.Errorf("timed out after %v", timeout)
	}
}
