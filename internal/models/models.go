// Package models holds the normalised data model the catalogue persists.
// Identifiers are UUIDs rather than the abstract integer keys the spec
// describes in the abstract — the store assigns them on insert and every
// relationship below is expressed as a foreign UUID, never an in-memory
// pointer, so that chasing a relation is always a store query.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Reserved artist/show ids. Both rows always exist once the store has run
// its initial schema creation; callers may compare against these directly.
var (
	UnknownArtistID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	VariousArtistsID  = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	UnknownShowID     = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

// ──────────────────── Device ────────────────────

type Device struct {
	ID            uuid.UUID `db:"id"`
	UUID          string    `db:"uuid"`
	Scheme        string    `db:"scheme"`
	Removable     bool      `db:"removable"`
	Network       bool      `db:"network"`
	Present       bool      `db:"present"`
	LastSeen      time.Time `db:"last_seen"`
	Mountpoints   []Mountpoint `db:"-"`
}

// Mountpoint is a cached (mrl, lastSeen) pair for a device; a device may
// have been seen mounted at several paths over its lifetime (e.g. a USB
// stick plugged into different ports), and the longest-prefix match
// against a candidate mrl disambiguates nested mounts.
type Mountpoint struct {
	DeviceID uuid.UUID `db:"device_id"`
	MRL      string    `db:"mrl"`
	LastSeen time.Time `db:"last_seen"`
	// Seq records registration order; it is the deterministic tiebreak
	// for ambiguous longest-prefix matches (§9 Open Questions).
	Seq int64 `db:"seq"`
}

// ──────────────────── Folder ────────────────────

type Folder struct {
	ID             uuid.UUID  `db:"id"`
	MRL            string     `db:"mrl"` // relative when the device is removable
	DeviceID       uuid.UUID  `db:"device_id"`
	ParentID       *uuid.UUID `db:"parent_id"`
	LastModified   time.Time  `db:"last_modified"`
	Present        bool       `db:"present"`
	Banned         bool       `db:"banned"`
	IsRoot         bool       `db:"is_root"`
}

// ──────────────────── File ────────────────────

type FileType int

const (
	FileTypeUnknown FileType = iota
	FileTypeMain
	FileTypePlaylist
	FileTypeSubscription
	FileTypeSubtitle
	FileTypeSoundtrack
	FileTypeCache
	FileTypePart
	FileTypeDisc
)

type File struct {
	ID           uuid.UUID  `db:"id"`
	MediaID      *uuid.UUID `db:"media_id"`
	PlaylistID   *uuid.UUID `db:"playlist_id"`
	SubscriptionID *uuid.UUID `db:"subscription_id"`
	FolderID     uuid.UUID  `db:"folder_id"`
	MRL          string     `db:"mrl"` // leaf name only when Removable
	Type         FileType   `db:"type"`
	LastModified time.Time  `db:"last_modified"`
	Size         int64      `db:"size"`
	Removable    bool       `db:"removable"`
	External     bool       `db:"external"`
	Network      bool       `db:"network"`

	Cached     bool       `db:"cached"`
	CachedAt   *time.Time `db:"cached_at"`
	CacheMRL   string     `db:"cache_mrl"`
}

// ──────────────────── Media ────────────────────

type MediaType int

const (
	MediaTypeUnknown MediaType = iota
	MediaTypeAudio
	MediaTypeVideo
)

type MediaSubType int

const (
	MediaSubTypeUnknown MediaSubType = iota
	MediaSubTypeMovie
	MediaSubTypeAlbumTrack
	MediaSubTypeShowEpisode
)

type Media struct {
	ID          uuid.UUID    `db:"id"`
	Type        MediaType    `db:"type"`
	SubType     MediaSubType `db:"sub_type"`
	Title       string       `db:"title"`
	Filename    string       `db:"filename"`
	Duration    int64        `db:"duration_ms"`
	PlayCount   int          `db:"play_count"`
	ReleaseDate *time.Time   `db:"release_date"`
	External    bool         `db:"external"`
	GroupID     *uuid.UUID   `db:"group_id"`

	AlbumID      *uuid.UUID `db:"album_id"`
	ShowEpisodeID *uuid.UUID `db:"show_episode_id"`
}

// ──────────────────── Tracks ────────────────────

type AudioTrack struct {
	ID         uuid.UUID  `db:"id"`
	MediaID    uuid.UUID  `db:"media_id"`
	Codec      string     `db:"codec"`
	Bitrate    int        `db:"bitrate"`
	SampleRate int        `db:"sample_rate"`
	Channels   int        `db:"channels"`
	Language   string     `db:"language"`
	Description string    `db:"description"`
	AttachedFileID *uuid.UUID `db:"attached_file_id"`
}

type VideoTrack struct {
	ID          uuid.UUID `db:"id"`
	MediaID     uuid.UUID `db:"media_id"`
	Codec       string    `db:"codec"`
	Bitrate     int       `db:"bitrate"`
	Width       int       `db:"width"`
	Height      int       `db:"height"`
	FPSNum      int       `db:"fps_num"`
	FPSDen      int       `db:"fps_den"`
	SAR         float64   `db:"sar"`
	Language    string    `db:"language"`
	Description string    `db:"description"`
}

type SubtitleTrack struct {
	ID             uuid.UUID  `db:"id"`
	MediaID        uuid.UUID  `db:"media_id"`
	Codec          string     `db:"codec"`
	Encoding       string     `db:"encoding"`
	Language       string     `db:"language"`
	Description    string     `db:"description"`
	AttachedFileID *uuid.UUID `db:"attached_file_id"`
}

// ──────────────────── Album / Artist / Genre ────────────────────

type Album struct {
	ID           uuid.UUID  `db:"id"`
	Title        string     `db:"title"`
	ReleaseYear  int        `db:"release_year"`
	NbTracks     int        `db:"nb_tracks"`
	NbDiscs      int        `db:"nb_discs"`
	Duration     int64      `db:"duration_ms"`
	ThumbnailID  *uuid.UUID `db:"thumbnail_id"`
	AlbumArtistID uuid.UUID `db:"album_artist_id"`
}

// AlbumTrack links a Media (an audio track) into an Album at a given
// disc/track position (§4.7 step 6).
type AlbumTrack struct {
	ID          uuid.UUID `db:"id"`
	AlbumID     uuid.UUID `db:"album_id"`
	MediaID     uuid.UUID `db:"media_id"`
	ArtistID    uuid.UUID `db:"artist_id"`
	TrackNumber int       `db:"track_number"`
	DiscNumber  int       `db:"disc_number"`
}

type Artist struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Bio       string    `db:"bio"`
	NbAlbums  int       `db:"nb_albums"`
	NbTracks  int       `db:"nb_tracks"`
	IsPresent bool      `db:"is_present"`
}

type Genre struct {
	ID   uuid.UUID `db:"id"`
	Name string    `db:"name"` // case-insensitive unique
}

// ──────────────────── Show / Episode ────────────────────

type Show struct {
	ID          uuid.UUID  `db:"id"`
	Title       string     `db:"title"`
	TVDBID      *int64     `db:"tvdb_id"`
	ReleaseDate *time.Time `db:"release_date"`
	Summary     string     `db:"summary"`
}

type ShowEpisode struct {
	ID            uuid.UUID `db:"id"`
	ShowID        uuid.UUID `db:"show_id"`
	SeasonNumber  int       `db:"season_number"`
	EpisodeNumber int       `db:"episode_number"`
	EpisodeTitle  string    `db:"episode_title"`
}

// ──────────────────── Playlist / Subscription ────────────────────

type Playlist struct {
	ID           uuid.UUID  `db:"id"`
	Name         string     `db:"name"`
	CreationDate time.Time  `db:"creation_date"`
	NbItems      int        `db:"nb_items"`
	FileID       *uuid.UUID `db:"file_id"`
}

type PlaylistItem struct {
	PlaylistID uuid.UUID `db:"playlist_id"`
	MediaID    uuid.UUID `db:"media_id"`
	Position   int       `db:"position"`
}

type SubscriptionService int

const (
	SubscriptionServiceUnknown SubscriptionService = iota
	SubscriptionServicePodcast
	SubscriptionServiceVideoFeed
)

type Subscription struct {
	ID             uuid.UUID           `db:"id"`
	ServiceType    SubscriptionService `db:"service_type"`
	Name           string              `db:"name"`
	Artwork        string              `db:"artwork"`
	MaxCachedMedia int                 `db:"max_cached_media"`
	FileID         *uuid.UUID          `db:"file_id"`
	NewMediaFlag   bool                `db:"new_media_flag"`
}

// ──────────────────── Thumbnail ────────────────────

type ThumbnailOrigin int

const (
	ThumbnailOriginUserProvided ThumbnailOrigin = iota
	ThumbnailOriginMedia
	ThumbnailOriginCoverFile
	ThumbnailOriginAlbumArtist
	ThumbnailOriginArtist
)

type ThumbnailSizeType int

const (
	ThumbnailSizeThumbnail ThumbnailSizeType = iota
	ThumbnailSizeBanner
	ThumbnailSizeSmall
)

type ThumbnailStatus int

const (
	ThumbnailStatusAvailable ThumbnailStatus = iota
	ThumbnailStatusMissing
	ThumbnailStatusFailure
	ThumbnailStatusCrash
)

type Thumbnail struct {
	ID       uuid.UUID         `db:"id"`
	MRL      string            `db:"mrl"`
	Origin   ThumbnailOrigin   `db:"origin"`
	SizeType ThumbnailSizeType `db:"size_type"`
	Shared   int               `db:"shared"`
	Hash     string            `db:"hash"`
	FileSize int64             `db:"file_size"`
	Status   ThumbnailStatus   `db:"status"`
	Owned    bool              `db:"owned"`
}

// ThumbnailOwnerKind is the small closed set of entities a thumbnail may
// be linked to via the linking table.
type ThumbnailOwnerKind int

const (
	ThumbnailOwnerMedia ThumbnailOwnerKind = iota
	ThumbnailOwnerAlbum
	ThumbnailOwnerArtist
)

type ThumbnailLink struct {
	ThumbnailID uuid.UUID          `db:"thumbnail_id"`
	OwnerKind   ThumbnailOwnerKind `db:"owner_kind"`
	OwnerID     uuid.UUID          `db:"owner_id"`
	SizeType    ThumbnailSizeType  `db:"size_type"`
}

// ThumbnailCleanup records a filename on disk whose deletion must be
// retried; deletion can fail (e.g. transient permission error) without
// losing track of what still needs removing.
type ThumbnailCleanup struct {
	ID       uuid.UUID `db:"id"`
	Filename string    `db:"filename"`
}

// ──────────────────── Task ────────────────────

type TaskType int

const (
	TaskTypeCreation TaskType = iota
	TaskTypeRefresh
	TaskTypeLink
	TaskTypeRestore
)

// TaskStep is a bit of the task progress bitmap, one per parser service.
type TaskStep uint8

const (
	StepMetadataExtraction TaskStep = 1 << iota
	StepMetadataAnalysis
	StepLinking
)

// AllSteps is the set of steps required for a task to be considered done
// by virtue of every bit having turned on (as opposed to being marked
// Completed explicitly by a service that short-circuits the chain).
const AllSteps = StepMetadataExtraction | StepMetadataAnalysis | StepLinking

type LinkToType int

const (
	LinkToTypeNone LinkToType = iota
	LinkToTypePlaylist
	LinkToTypeSubscription
	LinkToTypeMedia
)

type Task struct {
	ID         uuid.UUID  `db:"id"`
	Type       TaskType   `db:"type"`
	Step       TaskStep   `db:"step"`
	MRL        string     `db:"mrl"`
	FileID     *uuid.UUID `db:"file_id"`
	MediaID    *uuid.UUID `db:"media_id"`
	ParentFolderID  *uuid.UUID `db:"parent_folder_id"`
	ParentFolderMRL string     `db:"parent_folder_mrl"`

	LinkToType LinkToType `db:"link_to_type"`
	LinkToID   *uuid.UUID `db:"link_to_id"`
	LinkExtra  string     `db:"link_extra"`

	RetryCount int  `db:"retry_count"`
	Completed  bool `db:"completed"`
}

// Done reports whether every required step has completed or the task was
// explicitly marked completed by a short-circuiting service.
func (t *Task) Done() bool {
	return t.Completed || t.Step&AllSteps == AllSteps
}
