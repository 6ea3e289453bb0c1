// Package fsdiscoverer implements the FS Discoverer (§4.5): a
// depth-first crawl of a root folder that diffs filesystem state against
// the persistent store, emitting Task rows for new/modified files and
// deleting folders/files that vanished. Grounded on the diff-against-DB
// shape of the teacher's internal/scanner/scanner.go, generalised from a
// one-shot importer into an incremental, interruptible crawl.
package fsdiscoverer

import (
	"context"
	"log"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/fs"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/models"
)

// NoMediaMarker is the filename that causes a folder (and its
// descendants) to be removed from the store and excluded from crawling.
const NoMediaMarker = ".nomedia"

// DB is the subset of store access the FSD needs, kept narrow so tests
// can substitute an in-memory fake instead of a live Postgres.
type DB interface {
	SubFolders(parentID uuid.UUID) ([]*models.Folder, error)
	SubFiles(parentID uuid.UUID) ([]*models.File, error)
	CreateFolder(parentID *uuid.UUID, deviceID uuid.UUID, mrl string, isRoot bool) (*models.Folder, error)
	DeleteFolderRecursive(id uuid.UUID) error
	DeleteFile(id uuid.UUID) error
	DeleteMediaIfOrphaned(mediaID uuid.UUID) error
	UpdateFileSize(id uuid.UUID, size int64) error
	ScheduleCreation(parentFolderID uuid.UUID, parentFolderMRL, mrl string, fileType models.FileType) error
	ScheduleLink(mrl string, linkedFileID uuid.UUID) error
	ScheduleRefresh(fileID uuid.UUID) error
}

// InterruptProbe is satisfied by the discoverer.Worker; the FSD consults
// it between folders/files (§4.5, §5 cooperative interruption).
type InterruptProbe interface {
	ShouldInterrupt() bool
}

type Crawler struct {
	registry *fs.Registry
	db       DB
}

func New(registry *fs.Registry, db DB) *Crawler {
	return &Crawler{registry: registry, db: db}
}

// frame is one entry of the explicit DFS stack (§4.5 step 3).
type frame struct {
	dir          fs.Directory
	dbFolder     *models.Folder
	parentFolder *models.Folder
}

// CrawlRoot resolves the root's device, and — if present — walks it
// depth-first, diffing every folder against the store.
func (c *Crawler) CrawlRoot(ctx context.Context, rootMRL string, rootFolder *models.Folder, probe InterruptProbe) error {
	_, _, _, ok := c.registry.ResolveDevice(rootMRL)
	if !ok {
		return mlerrors.ErrUnknownScheme
	}

	dir, err := c.registry.Directory(rootMRL)
	if err != nil {
		return err
	}

	stack := []frame{{dir: dir, dbFolder: rootFolder, parentFolder: nil}}
	for len(stack) > 0 {
		if probe != nil && probe.ShouldInterrupt() {
			return nil
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := c.visitFolder(ctx, top)
		if err != nil {
			log.Printf("[fsdiscoverer] error visiting %s: %v", top.dir.MRL(), err)
			continue
		}
		stack = append(stack, children...)
	}
	return nil
}

// visitFolder applies the per-folder rules of §4.5 and returns the
// subfolder frames to continue the DFS with.
func (c *Crawler) visitFolder(ctx context.Context, f frame) ([]frame, error) {
	entries, err := f.dir.Entries()
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if !e.IsDir && e.Name == NoMediaMarker {
			if f.dbFolder != nil {
				if err := c.db.DeleteFolderRecursive(f.dbFolder.ID); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}
	}

	var dbSubfolders []*models.Folder
	if f.dbFolder != nil {
		dbSubfolders, err = c.db.SubFolders(f.dbFolder.ID)
		if err != nil {
			return nil, err
		}
	}

	fsDirs := make(map[string]fs.Entry)
	for _, e := range entries {
		if e.IsDir {
			fsDirs[decodeLeaf(e.Name)] = e
		}
	}
	dbDirsByName := make(map[string]*models.Folder)
	for _, folder := range dbSubfolders {
		dbDirsByName[leafOf(folder.MRL)] = folder
	}

	var next []frame

	// FS-only subfolders: newly seen, recurse with a null dbFolder.
	for name, e := range fsDirs {
		if _, exists := dbDirsByName[name]; exists {
			continue
		}
		childMRL := joinMRL(f.dir.MRL(), e.Name)
		childDir, err := c.registry.Directory(childMRL)
		if err != nil {
			log.Printf("[fsdiscoverer] cannot open %s: %v", childMRL, err)
			continue
		}
		next = append(next, frame{dir: childDir, dbFolder: nil, parentFolder: f.dbFolder})
	}

	// DB-only subfolders: deleted subtrees, removed from DB.
	for name, folder := range dbDirsByName {
		if _, exists := fsDirs[name]; !exists {
			if err := c.db.DeleteFolderRecursive(folder.ID); err != nil {
				return nil, err
			}
		}
	}

	// Matching subfolders: recurse.
	for name, folder := range dbDirsByName {
		if e, exists := fsDirs[name]; exists {
			childMRL := joinMRL(f.dir.MRL(), e.Name)
			childDir, err := c.registry.Directory(childMRL)
			if err != nil {
				log.Printf("[fsdiscoverer] cannot open %s: %v", childMRL, err)
				continue
			}
			next = append(next, frame{dir: childDir, dbFolder: folder, parentFolder: f.dbFolder})
		}
	}

	if err := c.diffFiles(f, entries); err != nil {
		return nil, err
	}

	return next, nil
}

// diffFiles implements the file-diffing rules of §4.5.
func (c *Crawler) diffFiles(f frame, entries []fs.Entry) error {
	if f.dbFolder == nil {
		// A brand-new folder: every file entry is FS-only.
		for _, e := range entries {
			if e.IsDir {
				continue
			}
			if err := c.scheduleNewFile(f, e); err != nil {
				return err
			}
		}
		return nil
	}

	dbFiles, err := c.db.SubFiles(f.dbFolder.ID)
	if err != nil {
		return err
	}
	dbByName := make(map[string]*models.File, len(dbFiles))
	for _, file := range dbFiles {
		dbByName[leafOf(file.MRL)] = file
	}

	fsByName := make(map[string]fs.Entry)
	for _, e := range entries {
		if !e.IsDir {
			fsByName[e.Name] = e
		}
	}

	for name, e := range fsByName {
		if _, exists := dbByName[name]; !exists {
			if err := c.scheduleNewFile(f, e); err != nil {
				return err
			}
		}
	}

	for name, file := range dbByName {
		e, exists := fsByName[name]
		if !exists {
			if err := c.db.DeleteFile(file.ID); err != nil {
				return err
			}
			if file.Type == models.FileTypeMain && file.MediaID != nil {
				if err := c.db.DeleteMediaIfOrphaned(*file.MediaID); err != nil {
					return err
				}
			}
			continue
		}
		if !e.ModTime.Equal(file.LastModified) {
			if err := c.db.ScheduleRefresh(file.ID); err != nil {
				return err
			}
		} else if e.Size != file.Size && overflowed32(file.Size) {
			if err := c.db.UpdateFileSize(file.ID, e.Size); err != nil {
				return err
			}
		}
	}
	return nil
}

func overflowed32(prev int64) bool { return prev > (1<<31 - 1) }

func (c *Crawler) scheduleNewFile(f frame, e fs.Entry) error {
	fileType := classifyFileType(e.Name)
	parentMRL := ""
	parentID := uuid.Nil
	if f.dbFolder != nil {
		parentMRL = f.dbFolder.MRL
		parentID = f.dbFolder.ID
	}
	childMRL := joinMRL(f.dir.MRL(), e.Name)
	err := c.db.ScheduleCreation(parentID, parentMRL, childMRL, fileType)
	if err != nil && !isAlreadyScheduled(err) {
		return err
	}
	return nil
}

func isAlreadyScheduled(err error) bool {
	return mlerrors.IsConstraint(err, mlerrors.ConstraintUnique)
}

var mediaExts = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".m4v": true,
	".wmv": true, ".flv": true, ".webm": true, ".ts": true, ".m2ts": true,
	".mpg": true, ".mpeg": true,
	".mp3": true, ".flac": true, ".aac": true, ".ogg": true, ".wav": true,
	".m4a": true, ".m4b": true, ".opus": true,
}

var playlistExts = map[string]bool{".m3u": true, ".m3u8": true, ".pls": true, ".xspf": true}
var subtitleExts = map[string]bool{".srt": true, ".sub": true, ".ass": true, ".vtt": true}
var subscriptionExts = map[string]bool{".opml": true, ".rss": true}

// classifyFileType chooses the File type from the filename extension
// and linked-file hint (§4.5: "file type is chosen from the filename
// extension and linked-file hint (subtitle, soundtrack)").
func classifyFileType(name string) models.FileType {
	ext := strings.ToLower(path.Ext(name))
	switch {
	case playlistExts[ext]:
		return models.FileTypePlaylist
	case subscriptionExts[ext]:
		return models.FileTypeSubscription
	case subtitleExts[ext]:
		return models.FileTypeSubtitle
	case mediaExts[ext]:
		return models.FileTypeMain
	default:
		return models.FileTypeUnknown
	}
}

func leafOf(mrl string) string {
	if i := strings.LastIndex(mrl, "/"); i >= 0 {
		return decodeLeaf(mrl[i+1:])
	}
	return decodeLeaf(mrl)
}

func decodeLeaf(name string) string {
	// Only "%20" is decoded, not full percent-decoding: joinMRL encodes
	// nothing but spaces, so this turns a leaf it built back into the
	// plain name an FS entry carries before the two are compared.
	out := strings.ReplaceAll(name, "%20", " ")
	return out
}

func joinMRL(dirMRL, leaf string) string {
	if strings.HasSuffix(dirMRL, "/") {
		return dirMRL + strings.ReplaceAll(leaf, " ", "%20")
	}
	return dirMRL + "/" + strings.ReplaceAll(leaf, " ", "%20")
}
