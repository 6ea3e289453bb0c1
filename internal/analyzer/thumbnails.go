package analyzer

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/models"
)

// ThumbnailStore is the subset of persistence the thumbnail assignment
// step needs. Grounded on the teacher's internal/preview worker shape,
// generalised from a single-media cache into the shared, refcounted
// assignment of §4.7.3.
type ThumbnailStore interface {
	MediaThumbnail(mediaID uuid.UUID) (*models.ThumbnailLink, error)
	CoverFilesInFolder(folderID uuid.UUID) ([]string, error)
	ThumbnailByHash(hash string) (*models.Thumbnail, error)
	CreateThumbnail(mrlStr string, origin models.ThumbnailOrigin, hash string, size int64) (*models.Thumbnail, error)
	LinkThumbnail(thumbnailID uuid.UUID, ownerKind models.ThumbnailOwnerKind, ownerID uuid.UUID, sizeType models.ThumbnailSizeType) error
	IncrementShared(thumbnailID uuid.UUID) error
	TracksMissingThumbnail(albumOrArtistID uuid.UUID, ownerKind models.ThumbnailOwnerKind) ([]uuid.UUID, error)
}

// EmbeddedThumbnail is the first embedded-image candidate an extractor
// may attach to an Item (§4.7.3: "the first entry").
type EmbeddedThumbnail struct {
	Data []byte
	MRL  string
}

// ThumbnailAssigner implements §4.7.3 end to end.
type ThumbnailAssigner struct {
	store ThumbnailStore
}

func NewThumbnailAssigner(store ThumbnailStore) *ThumbnailAssigner {
	return &ThumbnailAssigner{store: store}
}

// AssignMediaThumbnail ensures mediaID has a thumbnail, preferring (in
// order) an existing one, the item's embedded thumbnail, then a cover
// file from folderID. It never overrides a user-provided thumbnail.
func (a *ThumbnailAssigner) AssignMediaThumbnail(mediaID, folderID uuid.UUID, embedded []EmbeddedThumbnail) error {
	existing, err := a.store.MediaThumbnail(mediaID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if len(embedded) > 0 {
		return a.assignFromBytes(mediaID, models.ThumbnailOwnerMedia, embedded[0].Data, models.ThumbnailOriginMedia)
	}

	covers, err := a.store.CoverFilesInFolder(folderID)
	if err != nil {
		return err
	}
	if len(covers) > 0 {
		return a.assignFromMRL(mediaID, models.ThumbnailOwnerMedia, covers[0], models.ThumbnailOriginCoverFile)
	}
	return nil
}

// AssignSharedThumbnail is called when an album or artist receives a
// thumbnail for the first time: every other track belonging to it that
// is still missing a thumbnail receives a shared reference to the same
// one, incrementing its refcount per reuse (§4.7.3).
func (a *ThumbnailAssigner) AssignSharedThumbnail(ownerKind models.ThumbnailOwnerKind, ownerID, thumbnailID uuid.UUID) error {
	missing, err := a.store.TracksMissingThumbnail(ownerID, ownerKind)
	if err != nil {
		return err
	}
	for _, mediaID := range missing {
		if err := a.store.LinkThumbnail(thumbnailID, models.ThumbnailOwnerMedia, mediaID, models.ThumbnailSizeThumbnail); err != nil {
			return err
		}
		if err := a.store.IncrementShared(thumbnailID); err != nil {
			return err
		}
	}
	return nil
}

func (a *ThumbnailAssigner) assignFromBytes(ownerID uuid.UUID, ownerKind models.ThumbnailOwnerKind, data []byte, origin models.ThumbnailOrigin) error {
	hash := hashBytes(data)
	return a.assign(ownerID, ownerKind, "", origin, hash, int64(len(data)))
}

func (a *ThumbnailAssigner) assignFromMRL(ownerID uuid.UUID, ownerKind models.ThumbnailOwnerKind, mrlStr string, origin models.ThumbnailOrigin) error {
	hash := hashString(mrlStr)
	return a.assign(ownerID, ownerKind, mrlStr, origin, hash, 0)
}

// assign finds-or-creates the Thumbnail row for hash, shares it when it
// already exists (incrementing refcount), links it to the owner.
func (a *ThumbnailAssigner) assign(ownerID uuid.UUID, ownerKind models.ThumbnailOwnerKind, mrlStr string, origin models.ThumbnailOrigin, hash string, size int64) error {
	thumb, err := a.store.ThumbnailByHash(hash)
	if err != nil {
		return err
	}
	if thumb == nil {
		thumb, err = a.store.CreateThumbnail(mrlStr, origin, hash, size)
		if err != nil {
			return err
		}
	} else {
		if err := a.store.IncrementShared(thumb.ID); err != nil {
			return err
		}
	}
	return a.store.LinkThumbnail(thumb.ID, ownerKind, ownerID, models.ThumbnailSizeThumbnail)
}

func hashBytes(data []byte) string {
	return uintToHex(xxhash.Sum64(data))
}

func hashString(s string) string {
	return uintToHex(xxhash.Sum64String(s))
}

func uintToHex(v uint64) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hex[v&0xf]
		v >>= 4
	}
	return string(buf)
}
