package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/models"
	"github.com/mediavault/libcatalog/internal/parser"
)

type fakeAnalyzerDB struct {
	files         map[uuid.UUID]*models.File
	media         map[uuid.UUID]*models.Media
	externalByMRL map[string]*models.Media
	genres        map[string]uuid.UUID
	shows         map[string]*models.Show
	episodes      map[uuid.UUID][]*models.ShowEpisode
	albumTracks   []*models.AlbumTrack
	mediaGroups   map[uuid.UUID]bool
	scheduled     []string
	forceFKErr    bool
}

func newFakeAnalyzerDB() *fakeAnalyzerDB {
	return &fakeAnalyzerDB{
		files:         make(map[uuid.UUID]*models.File),
		media:         make(map[uuid.UUID]*models.Media),
		externalByMRL: make(map[string]*models.Media),
		genres:        make(map[string]uuid.UUID),
		shows:         make(map[string]*models.Show),
		episodes:      make(map[uuid.UUID][]*models.ShowEpisode),
		mediaGroups:   make(map[uuid.UUID]bool),
	}
}

func (d *fakeAnalyzerDB) FileByID(id uuid.UUID) (*models.File, error) {
	f, ok := d.files[id]
	if !ok {
		return nil, mlerrors.NewNotFoundError("file", "files")
	}
	return f, nil
}
func (d *fakeAnalyzerDB) MediaByID(id uuid.UUID) (*models.Media, error) {
	m, ok := d.media[id]
	if !ok {
		return nil, mlerrors.NewNotFoundError("media", "media")
	}
	return m, nil
}
func (d *fakeAnalyzerDB) MediaByExternalMRL(mrlStr string) (*models.Media, error) {
	return d.externalByMRL[mrlStr], nil
}
func (d *fakeAnalyzerDB) CreateFile(f *models.File) (*models.File, error) {
	d.files[f.ID] = f
	return f, nil
}
func (d *fakeAnalyzerDB) UpdateFileLastModified(fileID uuid.UUID, t time.Time) error {
	if f, ok := d.files[fileID]; ok {
		f.LastModified = t
	}
	return nil
}
func (d *fakeAnalyzerDB) CreateMedia(m *models.Media) (*models.Media, error) {
	d.media[m.ID] = m
	return m, nil
}
func (d *fakeAnalyzerDB) PromoteExternalMedia(mediaID uuid.UUID) error {
	if m, ok := d.media[mediaID]; ok {
		m.External = false
	}
	return nil
}
func (d *fakeAnalyzerDB) ReplaceTracks(mediaID uuid.UUID, audio []models.AudioTrack, video []models.VideoTrack, sub []models.SubtitleTrack) error {
	if d.forceFKErr {
		return mlerrors.NewConstraintError(mlerrors.ConstraintForeignKey, "audio_tracks", nil)
	}
	if _, ok := d.media[mediaID]; !ok {
		return mlerrors.NewConstraintError(mlerrors.ConstraintForeignKey, "audio_tracks", nil)
	}
	return nil
}
func (d *fakeAnalyzerDB) FindOrCreateGenre(name string) (uuid.UUID, error) {
	if id, ok := d.genres[name]; ok {
		return id, nil
	}
	id := uuid.New()
	d.genres[name] = id
	return id, nil
}
func (d *fakeAnalyzerDB) CreateAlbumTrack(at *models.AlbumTrack) error {
	d.albumTracks = append(d.albumTracks, at)
	return nil
}
func (d *fakeAnalyzerDB) FindOrCreateShow(title string) (*models.Show, error) {
	if s, ok := d.shows[title]; ok {
		return s, nil
	}
	s := &models.Show{ID: uuid.New(), Title: title}
	d.shows[title] = s
	return s, nil
}
func (d *fakeAnalyzerDB) FindOrCreateEpisode(showID uuid.UUID, season, episode int, title string) (*models.ShowEpisode, error) {
	for _, e := range d.episodes[showID] {
		if e.SeasonNumber == season && e.EpisodeNumber == episode {
			return e, nil
		}
	}
	e := &models.ShowEpisode{ID: uuid.New(), ShowID: showID, SeasonNumber: season, EpisodeNumber: episode, EpisodeTitle: title}
	d.episodes[showID] = append(d.episodes[showID], e)
	return e, nil
}
func (d *fakeAnalyzerDB) EnsureMediaGroup(mediaID uuid.UUID) error {
	d.mediaGroups[mediaID] = true
	return nil
}
func (d *fakeAnalyzerDB) EnsurePlaylist(fileID uuid.UUID, name string) (*models.Playlist, error) {
	return &models.Playlist{ID: uuid.New(), Name: name, FileID: &fileID}, nil
}
func (d *fakeAnalyzerDB) EnsureSubscription(fileID uuid.UUID, name string) (*models.Subscription, error) {
	return &models.Subscription{ID: uuid.New(), Name: name, FileID: &fileID}, nil
}
func (d *fakeAnalyzerDB) CreateExternalMedia(title, description string, releaseDate *time.Time) (*models.Media, error) {
	m := &models.Media{ID: uuid.New(), Title: title, External: true}
	d.media[m.ID] = m
	return m, nil
}
func (d *fakeAnalyzerDB) ScheduleLink(linkType models.LinkToType, linkID uuid.UUID, mrlStr string, parentFolderID uuid.UUID) error {
	d.scheduled = append(d.scheduled, mrlStr)
	return nil
}

type fakeThumbnailStore struct {
	byMedia map[uuid.UUID]*models.ThumbnailLink
	byHash  map[string]*models.Thumbnail
}

func newFakeThumbnailStore() *fakeThumbnailStore {
	return &fakeThumbnailStore{byMedia: make(map[uuid.UUID]*models.ThumbnailLink), byHash: make(map[string]*models.Thumbnail)}
}
func (s *fakeThumbnailStore) MediaThumbnail(mediaID uuid.UUID) (*models.ThumbnailLink, error) {
	return s.byMedia[mediaID], nil
}
func (s *fakeThumbnailStore) CoverFilesInFolder(folderID uuid.UUID) ([]string, error) { return nil, nil }
func (s *fakeThumbnailStore) ThumbnailByHash(hash string) (*models.Thumbnail, error) {
	return s.byHash[hash], nil
}
func (s *fakeThumbnailStore) CreateThumbnail(mrlStr string, origin models.ThumbnailOrigin, hash string, size int64) (*models.Thumbnail, error) {
	t := &models.Thumbnail{ID: uuid.New(), MRL: mrlStr, Origin: origin, Hash: hash, FileSize: size}
	s.byHash[hash] = t
	return t, nil
}
func (s *fakeThumbnailStore) LinkThumbnail(thumbnailID uuid.UUID, ownerKind models.ThumbnailOwnerKind, ownerID uuid.UUID, sizeType models.ThumbnailSizeType) error {
	s.byMedia[ownerID] = &models.ThumbnailLink{ThumbnailID: thumbnailID, OwnerKind: ownerKind, OwnerID: ownerID, SizeType: sizeType}
	return nil
}
func (s *fakeThumbnailStore) IncrementShared(thumbnailID uuid.UUID) error { return nil }
func (s *fakeThumbnailStore) TracksMissingThumbnail(albumOrArtistID uuid.UUID, ownerKind models.ThumbnailOwnerKind) ([]uuid.UUID, error) {
	return nil, nil
}

func newTestAnalyzer() (*Analyzer, *fakeAnalyzerDB, *fakeAlbumStore, *fakeThumbnailStore) {
	db := newFakeAnalyzerDB()
	albumStore := newFakeAlbumStore()
	thumbStore := newFakeThumbnailStore()
	return New(db, albumStore, thumbStore), db, albumStore, thumbStore
}

func TestAnalysisServiceCreatesFileMediaAndTracks(t *testing.T) {
	a, db, _, _ := newTestAnalyzer()
	svc := NewAnalysisService(a)
	folder := uuid.New()

	task := &models.Task{ID: uuid.New(), Type: models.TaskTypeCreation, MRL: "song.flac", ParentFolderID: &folder}
	item := parser.NewItem(task)
	PutMeta(item, &ExtractedMeta{
		Title: "Battery", Tracks: []TrackDescriptor{{Kind: TrackKindAudio, Codec: "flac"}},
	})

	status := svc.Run(context.Background(), item)
	if status != parser.Success {
		t.Fatalf("expected Success, got %v", status)
	}
	if task.FileID == nil || task.MediaID == nil {
		t.Fatalf("expected file and media ids to be set on the task")
	}
	if _, ok := db.files[*task.FileID]; !ok {
		t.Fatalf("expected file to be persisted")
	}
	media := db.media[*task.MediaID]
	if media == nil || media.Type != models.MediaTypeAudio {
		t.Fatalf("expected audio media, got %+v", media)
	}
}

func TestAnalysisServicePromotesExternalMediaPreservingID(t *testing.T) {
	a, db, _, _ := newTestAnalyzer()
	svc := NewAnalysisService(a)

	existing := &models.Media{ID: uuid.New(), Title: "Podcast Ep", External: true}
	db.media[existing.ID] = existing
	db.externalByMRL["feed://episode1"] = existing

	task := &models.Task{ID: uuid.New(), Type: models.TaskTypeCreation, MRL: "feed://episode1"}
	item := parser.NewItem(task)
	PutMeta(item, &ExtractedMeta{Title: "Episode 1", Tracks: []TrackDescriptor{{Kind: TrackKindAudio}}})

	status := svc.Run(context.Background(), item)
	if status != parser.Success {
		t.Fatalf("expected Success, got %v", status)
	}
	if *task.MediaID != existing.ID {
		t.Fatalf("expected the existing external media id to be preserved, got a new one")
	}
	if db.media[existing.ID].External {
		t.Fatalf("expected the media to be promoted to internal")
	}
}

func TestAnalysisServiceTracksForeignKeyErrorDiscards(t *testing.T) {
	a, db, _, _ := newTestAnalyzer()
	db.forceFKErr = true
	svc := NewAnalysisService(a)

	mediaID := uuid.New()
	db.media[mediaID] = &models.Media{ID: mediaID, Type: models.MediaTypeAudio}
	task := &models.Task{ID: uuid.New(), Type: models.TaskTypeCreation, MRL: "x.flac", FileID: ptr(uuid.New()), MediaID: &mediaID}
	item := parser.NewItem(task)
	PutMeta(item, &ExtractedMeta{Tracks: []TrackDescriptor{{Kind: TrackKindAudio}}})

	status := svc.Run(context.Background(), item)
	if status != parser.Discarded {
		t.Fatalf("expected Discarded on a concurrent-delete foreign-key error, got %v", status)
	}
}

func TestAnalysisServicePlaylistSchedulesLinkPerSubItem(t *testing.T) {
	a, db, _, _ := newTestAnalyzer()
	svc := NewAnalysisService(a)

	fileID := uuid.New()
	db.files[fileID] = &models.File{ID: fileID}
	task := &models.Task{ID: uuid.New(), Type: models.TaskTypeCreation, LinkToType: models.LinkToTypePlaylist, FileID: &fileID}
	item := parser.NewItem(task)
	PutMeta(item, &ExtractedMeta{Title: "My Mix", SubItems: []SubItem{{MRL: "a.mp3"}, {MRL: "b.mp3"}}})

	status := svc.Run(context.Background(), item)
	if status != parser.Completed {
		t.Fatalf("expected Completed, got %v", status)
	}
	if len(db.scheduled) != 2 {
		t.Fatalf("expected two scheduled link tasks, got %v", db.scheduled)
	}
}

func TestLinkingServiceAudioFindsOrCreatesAlbum(t *testing.T) {
	a, db, albumStore, _ := newTestAnalyzer()
	svc := NewLinkingService(a)

	mediaID := uuid.New()
	folder := uuid.New()
	db.media[mediaID] = &models.Media{ID: mediaID, Type: models.MediaTypeAudio}
	task := &models.Task{ID: uuid.New(), MediaID: &mediaID, ParentFolderID: &folder}
	item := parser.NewItem(task)
	PutMeta(item, &ExtractedMeta{Album: "Master of Puppets", AlbumArtist: "Metallica", Artist: "Metallica", Date: "1986"})

	status := svc.Run(context.Background(), item)
	if status != parser.Completed {
		t.Fatalf("expected Completed, got %v", status)
	}
	if len(albumStore.created) != 1 {
		t.Fatalf("expected one album to be created, got %v", albumStore.created)
	}
	if len(db.albumTracks) != 1 || db.albumTracks[0].MediaID != mediaID {
		t.Fatalf("expected one album track linking the media, got %v", db.albumTracks)
	}
}

func TestLinkingServiceVideoMatchesEpisodePattern(t *testing.T) {
	a, db, _, _ := newTestAnalyzer()
	svc := NewLinkingService(a)

	mediaID := uuid.New()
	db.media[mediaID] = &models.Media{ID: mediaID, Type: models.MediaTypeVideo}
	task := &models.Task{ID: uuid.New(), MRL: "The.Expanse.S03E05.1080p.WEB-DL.x264-GROUP.mkv", MediaID: &mediaID}
	item := parser.NewItem(task)
	PutMeta(item, &ExtractedMeta{})

	status := svc.Run(context.Background(), item)
	if status != parser.Completed {
		t.Fatalf("expected Completed, got %v", status)
	}
	media := db.media[mediaID]
	if media.SubType != models.MediaSubTypeShowEpisode || media.ShowEpisodeID == nil {
		t.Fatalf("expected the media to be linked to a show episode, got %+v", media)
	}
	if !db.mediaGroups[mediaID] {
		t.Fatalf("expected a media group to be ensured")
	}
}

func TestLinkingServiceVideoPlainMovieWhenNoEpisodeMatch(t *testing.T) {
	a, db, _, _ := newTestAnalyzer()
	svc := NewLinkingService(a)

	mediaID := uuid.New()
	db.media[mediaID] = &models.Media{ID: mediaID, Type: models.MediaTypeVideo}
	task := &models.Task{ID: uuid.New(), MRL: "Interstellar.2014.1080p.BluRay.x264-GROUP.mkv", MediaID: &mediaID}
	item := parser.NewItem(task)
	PutMeta(item, &ExtractedMeta{})

	status := svc.Run(context.Background(), item)
	if status != parser.Completed {
		t.Fatalf("expected Completed, got %v", status)
	}
	media := db.media[mediaID]
	if media.SubType != models.MediaSubTypeMovie {
		t.Fatalf("expected a plain movie subtype, got %+v", media)
	}
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }
