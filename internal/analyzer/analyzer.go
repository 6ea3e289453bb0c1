// Package analyzer implements the Metadata Analyzer (MA, §4.7): the
// parser service chain that turns extracted tag data into File, Media,
// track and relationship rows. Grounded on the teacher's
// internal/scanner/scan_music.go and scan_video.go dispatch (per-subtype
// scan functions sharing a store handle), generalised into the ordered
// refresh / playlist / subscription / creation / tracks / audio-link /
// video-link flow §4.7 describes.
package analyzer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/models"
	"github.com/mediavault/libcatalog/internal/parser"
)

// TrackKind distinguishes the track rows one Item can carry.
type TrackKind int

const (
	TrackKindAudio TrackKind = iota
	TrackKindVideo
	TrackKindSubtitle
)

// TrackDescriptor is one track as reported by the metadata extraction
// step that runs ahead of the analyzer in the parser chain.
type TrackDescriptor struct {
	Kind           TrackKind
	Codec          string
	Language       string
	Description    string
	Bitrate        int
	SampleRate     int
	Channels       int
	Width          int
	Height         int
	FPSNum         int
	FPSDen         int
	SAR            float64
	Encoding       string
	AttachedFileID *uuid.UUID
}

// SubItem is one entry of a playlist or subscription feed: either a
// local filesystem MRL (possibly a directory, walked further by the
// caller) or an external item carrying its own descriptive metadata.
type SubItem struct {
	MRL         string
	IsDirectory bool
	External    bool
	Title       string
	Description string
	ReleaseDate *time.Time
}

// ExtractedMeta is the tag data a prior extraction service attaches to
// an Item under the "meta" key (§4.7: "consumes an Item — the output of
// the metadata extractor").
type ExtractedMeta struct {
	Title       string
	Album       string
	AlbumArtist string
	Artist      string
	Genre       string
	Date        string
	TrackNumber int
	DiscNumber  int
	DiscTotal   int

	Tracks   []TrackDescriptor
	Embedded []EmbeddedThumbnail
	SubItems []SubItem
}

const metaKey = "meta"

// MetaFrom extracts the ExtractedMeta an upstream extraction service
// attached to item, if any.
func MetaFrom(item *parser.Item) (*ExtractedMeta, bool) {
	v, ok := item.Extra[metaKey]
	if !ok {
		return nil, false
	}
	m, ok := v.(*ExtractedMeta)
	return m, ok
}

// PutMeta attaches meta to item under the key the analyzer reads from.
func PutMeta(item *parser.Item, meta *ExtractedMeta) {
	item.Extra[metaKey] = meta
}

// DB is the persistence surface both analyzer services need, beyond the
// narrower AlbumStore and ThumbnailStore already defined.
type DB interface {
	FileByID(id uuid.UUID) (*models.File, error)
	MediaByID(id uuid.UUID) (*models.Media, error)
	MediaByExternalMRL(mrlStr string) (*models.Media, error)
	CreateFile(f *models.File) (*models.File, error)
	UpdateFileLastModified(fileID uuid.UUID, t time.Time) error
	CreateMedia(m *models.Media) (*models.Media, error)
	PromoteExternalMedia(mediaID uuid.UUID) error
	ReplaceTracks(mediaID uuid.UUID, audio []models.AudioTrack, video []models.VideoTrack, sub []models.SubtitleTrack) error
	FindOrCreateGenre(name string) (uuid.UUID, error)
	CreateAlbumTrack(at *models.AlbumTrack) error
	FindOrCreateShow(title string) (*models.Show, error)
	FindOrCreateEpisode(showID uuid.UUID, season, episode int, title string) (*models.ShowEpisode, error)
	EnsureMediaGroup(mediaID uuid.UUID) error
	EnsurePlaylist(fileID uuid.UUID, name string) (*models.Playlist, error)
	EnsureSubscription(fileID uuid.UUID, name string) (*models.Subscription, error)
	CreateExternalMedia(title, description string, releaseDate *time.Time) (*models.Media, error)
	ScheduleLink(linkType models.LinkToType, linkID uuid.UUID, mrlStr string, parentFolderID uuid.UUID) error
}

// Analyzer holds the state shared by both parser services: the store,
// the album matcher and the thumbnail assigner. Only the album matcher
// carries a per-run cache; Flush clears it.
type Analyzer struct {
	db       DB
	albums   *AlbumMatcher
	thumbs   *ThumbnailAssigner
}

func New(db DB, albumStore AlbumStore, thumbStore ThumbnailStore) *Analyzer {
	return &Analyzer{
		db:     db,
		albums: NewAlbumMatcher(albumStore),
		thumbs: NewThumbnailAssigner(thumbStore),
	}
}

// Flush clears the album matcher's single-entry cache (§4.7: "the cache
// is invalidated on flush").
func (a *Analyzer) Flush() {
	a.albums.Flush()
}

// AnalysisService implements steps 1-5 of §4.7: refresh, playlist,
// subscription, file+media creation and track creation. It targets
// models.StepMetadataAnalysis.
type AnalysisService struct {
	a *Analyzer
}

func NewAnalysisService(a *Analyzer) *AnalysisService { return &AnalysisService{a: a} }

func (s *AnalysisService) Name() string                      { return "metadata-analysis" }
func (s *AnalysisService) Priority() int                     { return 200 }
func (s *AnalysisService) TargetedStep() models.TaskStep      { return models.StepMetadataAnalysis }
func (s *AnalysisService) Flush()                             { s.a.Flush() }

func (s *AnalysisService) Run(ctx context.Context, item *parser.Item) parser.Status {
	task := item.Task
	meta, ok := MetaFrom(item)
	if !ok {
		return parser.Fatal
	}

	if task.Type == models.TaskTypeRefresh {
		return s.runRefresh(task, meta)
	}

	switch task.LinkToType {
	case models.LinkToTypePlaylist:
		return s.runPlaylist(task, meta)
	case models.LinkToTypeSubscription:
		return s.runSubscription(task, meta)
	}

	if task.FileID == nil {
		if err := s.createFileAndMedia(task, meta); err != nil {
			return statusFor(err)
		}
	}

	if err := s.createTracks(task, meta); err != nil {
		return statusFor(err)
	}
	return parser.Success
}

// runRefresh implements step 1: reload the file/media, recompute
// tracks, and only touch last-modified once every other update has
// succeeded.
func (s *AnalysisService) runRefresh(task *models.Task, meta *ExtractedMeta) parser.Status {
	if task.FileID == nil {
		return parser.Discarded
	}
	file, err := s.a.db.FileByID(*task.FileID)
	if err != nil {
		return statusFor(err)
	}
	if file.MediaID == nil {
		return parser.Discarded
	}
	if _, err := s.a.db.MediaByID(*file.MediaID); err != nil {
		return statusFor(err)
	}
	if err := s.createTracks(task, meta); err != nil {
		return statusFor(err)
	}
	if err := s.a.db.UpdateFileLastModified(file.ID, time.Now()); err != nil {
		return statusFor(err)
	}
	return parser.Success
}

// runPlaylist implements step 2: ensure the Playlist row, then schedule
// a Link task per sub-item.
func (s *AnalysisService) runPlaylist(task *models.Task, meta *ExtractedMeta) parser.Status {
	if task.FileID == nil {
		return parser.Discarded
	}
	playlist, err := s.a.db.EnsurePlaylist(*task.FileID, meta.Title)
	if err != nil {
		return statusFor(err)
	}
	for _, sub := range meta.SubItems {
		folderID := uuid.Nil
		if task.ParentFolderID != nil {
			folderID = *task.ParentFolderID
		}
		if err := s.a.db.ScheduleLink(models.LinkToTypePlaylist, playlist.ID, sub.MRL, folderID); err != nil {
			if mlerrors.IsConstraint(err, mlerrors.ConstraintUnique) {
				continue
			}
			return statusFor(err)
		}
	}
	return parser.Completed
}

// runSubscription implements step 3: ensure the Subscription row, then
// schedule a Link task per feed entry.
func (s *AnalysisService) runSubscription(task *models.Task, meta *ExtractedMeta) parser.Status {
	if task.FileID == nil {
		return parser.Discarded
	}
	sub, err := s.a.db.EnsureSubscription(*task.FileID, meta.Title)
	if err != nil {
		return statusFor(err)
	}
	for _, entry := range meta.SubItems {
		folderID := uuid.Nil
		if task.ParentFolderID != nil {
			folderID = *task.ParentFolderID
		}
		if entry.External {
			media, err := s.a.db.CreateExternalMedia(entry.Title, entry.Description, entry.ReleaseDate)
			if err != nil {
				return statusFor(err)
			}
			if err := s.a.db.ScheduleLink(models.LinkToTypeSubscription, media.ID, entry.MRL, folderID); err != nil && !mlerrors.IsConstraint(err, mlerrors.ConstraintUnique) {
				return statusFor(err)
			}
			continue
		}
		if err := s.a.db.ScheduleLink(models.LinkToTypeSubscription, sub.ID, entry.MRL, folderID); err != nil && !mlerrors.IsConstraint(err, mlerrors.ConstraintUnique) {
			return statusFor(err)
		}
	}
	return parser.Completed
}

// createFileAndMedia implements step 4: synthesise a File from the fs
// entity the task carries and pick the Media type from the track list,
// promoting a pre-existing external media in place when the mrl matches
// one (preserving its id).
func (s *AnalysisService) createFileAndMedia(task *models.Task, meta *ExtractedMeta) error {
	mediaType := mediaTypeFromTracks(meta.Tracks)
	if mediaType == models.MediaTypeUnknown {
		mediaType = mediaTypeFromExtension(task.MRL)
	}

	existing, err := s.a.db.MediaByExternalMRL(task.MRL)
	if err != nil {
		return err
	}

	var mediaID uuid.UUID
	if existing != nil {
		if err := s.a.db.PromoteExternalMedia(existing.ID); err != nil {
			return err
		}
		mediaID = existing.ID
	} else {
		created, err := s.a.db.CreateMedia(&models.Media{
			ID:       uuid.New(),
			Type:     mediaType,
			Title:    meta.Title,
			Filename: task.MRL,
		})
		if err != nil {
			return err
		}
		mediaID = created.ID
	}

	folderID := uuid.Nil
	if task.ParentFolderID != nil {
		folderID = *task.ParentFolderID
	}
	file, err := s.a.db.CreateFile(&models.File{
		ID:       uuid.New(),
		MediaID:  &mediaID,
		FolderID: folderID,
		MRL:      task.MRL,
		Type:     models.FileTypeMain,
	})
	if err != nil {
		return err
	}
	task.FileID = &file.ID
	task.MediaID = &mediaID
	return nil
}

// createTracks implements step 5: create audio/video/subtitle rows from
// the item's track list. A foreign-key violation against the media id
// means the media was deleted concurrently, which must surface as
// Discarded rather than a retried error.
func (s *AnalysisService) createTracks(task *models.Task, meta *ExtractedMeta) error {
	if task.MediaID == nil {
		return nil
	}
	var audio []models.AudioTrack
	var video []models.VideoTrack
	var sub []models.SubtitleTrack
	for _, td := range meta.Tracks {
		switch td.Kind {
		case TrackKindAudio:
			audio = append(audio, models.AudioTrack{
				ID: uuid.New(), MediaID: *task.MediaID, Codec: td.Codec,
				Bitrate: td.Bitrate, SampleRate: td.SampleRate, Channels: td.Channels,
				Language: td.Language, Description: td.Description, AttachedFileID: td.AttachedFileID,
			})
		case TrackKindVideo:
			video = append(video, models.VideoTrack{
				ID: uuid.New(), MediaID: *task.MediaID, Codec: td.Codec, Bitrate: td.Bitrate,
				Width: td.Width, Height: td.Height, FPSNum: td.FPSNum, FPSDen: td.FPSDen,
				SAR: td.SAR, Language: td.Language, Description: td.Description,
			})
		case TrackKindSubtitle:
			sub = append(sub, models.SubtitleTrack{
				ID: uuid.New(), MediaID: *task.MediaID, Codec: td.Codec, Encoding: td.Encoding,
				Language: td.Language, Description: td.Description, AttachedFileID: td.AttachedFileID,
			})
		}
	}
	return s.a.db.ReplaceTracks(*task.MediaID, audio, video, sub)
}

func mediaTypeFromTracks(tracks []TrackDescriptor) models.MediaType {
	hasAudio := false
	for _, t := range tracks {
		if t.Kind == TrackKindVideo {
			return models.MediaTypeVideo
		}
		if t.Kind == TrackKindAudio {
			hasAudio = true
		}
	}
	if hasAudio {
		return models.MediaTypeAudio
	}
	return models.MediaTypeUnknown
}

var videoExts = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true, ".wmv": true, ".webm": true,
}

func mediaTypeFromExtension(mrlStr string) models.MediaType {
	for ext := range videoExts {
		if len(mrlStr) >= len(ext) && mrlStr[len(mrlStr)-len(ext):] == ext {
			return models.MediaTypeVideo
		}
	}
	return models.MediaTypeAudio
}

func statusFor(err error) parser.Status {
	if err == nil {
		return parser.Success
	}
	if mlerrors.IsConstraint(err, mlerrors.ConstraintForeignKey) {
		return parser.Discarded
	}
	if mlerrors.IsConstraint(err, mlerrors.ConstraintUnique) {
		return parser.Discarded
	}
	return parser.Fatal
}

// LinkingService implements steps 6-7 of §4.7: audio and video linking.
// It targets models.StepLinking and runs after AnalysisService.
type LinkingService struct {
	a *Analyzer
}

func NewLinkingService(a *Analyzer) *LinkingService { return &LinkingService{a: a} }

func (s *LinkingService) Name() string                 { return "linking" }
func (s *LinkingService) Priority() int                { return 100 }
func (s *LinkingService) TargetedStep() models.TaskStep { return models.StepLinking }
func (s *LinkingService) Flush()                       { s.a.Flush() }

func (s *LinkingService) Run(ctx context.Context, item *parser.Item) parser.Status {
	task := item.Task
	meta, ok := MetaFrom(item)
	if !ok || task.MediaID == nil {
		return parser.Fatal
	}

	media, err := s.a.db.MediaByID(*task.MediaID)
	if err != nil {
		return statusFor(err)
	}

	switch media.Type {
	case models.MediaTypeAudio:
		return s.linkAudio(task, media, meta)
	case models.MediaTypeVideo:
		return s.linkVideo(task, media, meta)
	default:
		return parser.Completed
	}
}

// linkAudio implements step 6: genre, artists, album, album track and
// thumbnail assignment.
func (s *LinkingService) linkAudio(task *models.Task, media *models.Media, meta *ExtractedMeta) parser.Status {
	if meta.Genre != "" {
		if _, err := s.a.db.FindOrCreateGenre(meta.Genre); err != nil {
			return statusFor(err)
		}
	}

	folderID := uuid.Nil
	if task.ParentFolderID != nil {
		folderID = *task.ParentFolderID
	}

	album, err := s.a.albums.FindOrCreateAlbum(AlbumQuery{
		AlbumName:   meta.Album,
		AlbumArtist: meta.AlbumArtist,
		TrackArtist: meta.Artist,
		DiscNumber:  meta.DiscNumber,
		DiscTotal:   meta.DiscTotal,
		Date:        meta.Date,
		FolderID:    folderID,
	})
	if err != nil {
		return statusFor(err)
	}

	trackArtist := meta.Artist
	if trackArtist == "" {
		trackArtist = meta.AlbumArtist
	}
	var artistID uuid.UUID = models.UnknownArtistID
	if trackArtist != "" {
		id, err := s.a.albums.store.FindOrCreateArtist(trackArtist)
		if err != nil {
			return statusFor(err)
		}
		artistID = id
	}

	if err := s.a.db.CreateAlbumTrack(&models.AlbumTrack{
		ID: uuid.New(), AlbumID: album.ID, MediaID: media.ID, ArtistID: artistID,
		TrackNumber: meta.TrackNumber, DiscNumber: discOrOne(meta.DiscNumber),
	}); err != nil {
		return statusFor(err)
	}

	if err := s.a.thumbs.AssignMediaThumbnail(media.ID, folderID, meta.Embedded); err != nil {
		return statusFor(err)
	}
	return parser.Completed
}

// linkVideo implements step 7: sanitise the filename, run the title
// analyzer, and attach a show/episode when it matches, else leave the
// media a plain video. Either way, a media group is ensured.
func (s *LinkingService) linkVideo(task *models.Task, media *models.Media, meta *ExtractedMeta) parser.Status {
	result := AnalyzeTitle(task.MRL)

	folderID := uuid.Nil
	if task.ParentFolderID != nil {
		folderID = *task.ParentFolderID
	}

	if result.Matched {
		show, err := s.a.db.FindOrCreateShow(result.ShowName)
		if err != nil {
			return statusFor(err)
		}
		episode, err := s.a.db.FindOrCreateEpisode(show.ID, result.Season, result.Episode, result.EpisodeTitle)
		if err != nil {
			return statusFor(err)
		}
		media.SubType = models.MediaSubTypeShowEpisode
		media.ShowEpisodeID = &episode.ID
		media.Title = result.EpisodeTitle
		if media.Title == "" {
			media.Title = result.SanitizedTitle
		}
	} else {
		media.SubType = models.MediaSubTypeMovie
		media.Title = result.SanitizedTitle
	}

	if err := s.a.thumbs.AssignMediaThumbnail(media.ID, folderID, meta.Embedded); err != nil {
		return statusFor(err)
	}
	if err := s.a.db.EnsureMediaGroup(media.ID); err != nil {
		return statusFor(err)
	}
	return parser.Completed
}

func discOrOne(disc int) int {
	if disc <= 0 {
		return 1
	}
	return disc
}
