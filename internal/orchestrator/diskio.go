package orchestrator

// Filesystem-side half of the cache and thumbnail stores: copying a
// source file into the cache folder, writing a generated thumbnail's
// destination path, and removing either kind of file again. Grounded
// on Init's existing MkdirAll-the-subfolder convention and the
// teacher's scan_music.go extractEmbeddedCoverArt (mkdir-then-write,
// stat-then-discard-on-failure).

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/mrl"
	"github.com/mediavault/libcatalog/internal/models"
)

var driveLetterPath = regexp.MustCompile(`^/[A-Za-z]:/`)

// localPath is the left inverse of mrl.EncodeLocal for file:// mrls:
// it strips the leading "/" EncodeLocal adds in front of a Windows
// drive letter, and otherwise returns the decoded path unchanged.
func localPath(mrlStr string) (string, error) {
	scheme, _, _, path, err := mrl.Decode(mrlStr)
	if err != nil {
		return "", err
	}
	if scheme != "file" {
		return "", fmt.Errorf("not a local mrl: %s", mrlStr)
	}
	if driveLetterPath.MatchString(path) {
		path = path[1:]
	}
	return filepath.FromSlash(path), nil
}

func writeCacheOnDisk(cacheRoot string, mediaID uuid.UUID, sourceMRL string) (string, int64, error) {
	srcPath, err := localPath(sourceMRL)
	if err != nil {
		return "", 0, fmt.Errorf("cache source: %w", err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	destPath := filepath.Join(cacheRoot, mediaID.String())
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", 0, err
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return "", 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(destPath)
		return "", 0, err
	}
	return mrl.EncodeLocal(destPath), n, nil
}

func removeCacheOnDisk(cacheMRL string) error {
	path, err := localPath(cacheMRL)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func listCacheDir(cacheRoot string) ([]string, error) {
	entries, err := os.ReadDir(cacheRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, mrl.EncodeLocal(filepath.Join(cacheRoot, e.Name())))
	}
	return out, nil
}

func thumbnailDestPath(thumbnailRoot string, mediaID uuid.UUID, sizeType models.ThumbnailSizeType) string {
	suffix := "thumbnail"
	switch sizeType {
	case models.ThumbnailSizeBanner:
		suffix = "banner"
	case models.ThumbnailSizeSmall:
		suffix = "small"
	}
	return filepath.Join(thumbnailRoot, fmt.Sprintf("%s_%s.jpg", mediaID.String(), suffix))
}

func removeThumbnailFile(thumbnailRoot, filename string) error {
	err := os.Remove(filepath.Join(thumbnailRoot, filename))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
