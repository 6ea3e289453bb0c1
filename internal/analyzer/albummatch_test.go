package analyzer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/models"
)

type fakeAlbumStore struct {
	albums       map[string][]*models.Album
	tracksByAlbum map[uuid.UUID][]*models.AlbumTrack
	trackFolder  map[uuid.UUID]uuid.UUID
	artistNames  map[uuid.UUID]string
	created      []string
	artistSets   map[uuid.UUID]uuid.UUID
}

func newFakeAlbumStore() *fakeAlbumStore {
	return &fakeAlbumStore{
		albums:        make(map[string][]*models.Album),
		tracksByAlbum: make(map[uuid.UUID][]*models.AlbumTrack),
		trackFolder:   make(map[uuid.UUID]uuid.UUID),
		artistNames:   make(map[uuid.UUID]string),
		artistSets:    make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *fakeAlbumStore) AlbumsByTitle(title string) ([]*models.Album, error) {
	return s.albums[title], nil
}
func (s *fakeAlbumStore) AlbumTracks(albumID uuid.UUID) ([]*models.AlbumTrack, error) {
	return s.tracksByAlbum[albumID], nil
}
func (s *fakeAlbumStore) TrackFolderID(trackID uuid.UUID) (uuid.UUID, error) {
	return s.trackFolder[trackID], nil
}
func (s *fakeAlbumStore) ArtistName(artistID uuid.UUID) (string, error) {
	return s.artistNames[artistID], nil
}
func (s *fakeAlbumStore) CreateAlbum(title string, albumArtistID uuid.UUID, year *int) (*models.Album, error) {
	a := &models.Album{ID: uuid.New(), Title: title, AlbumArtistID: albumArtistID}
	if year != nil {
		a.ReleaseYear = *year
	}
	s.albums[title] = append(s.albums[title], a)
	s.created = append(s.created, title)
	return a, nil
}
func (s *fakeAlbumStore) SetAlbumArtist(albumID, albumArtistID uuid.UUID) error {
	s.artistSets[albumID] = albumArtistID
	return nil
}
func (s *fakeAlbumStore) FindOrCreateArtist(name string) (uuid.UUID, error) {
	for id, n := range s.artistNames {
		if n == name {
			return id, nil
		}
	}
	id := uuid.New()
	s.artistNames[id] = name
	return id, nil
}

func TestFindOrCreateAlbumCreatesWhenNoCandidate(t *testing.T) {
	store := newFakeAlbumStore()
	m := NewAlbumMatcher(store)

	album, err := m.FindOrCreateAlbum(AlbumQuery{AlbumName: "Black Album", AlbumArtist: "Metallica", Date: "1991"})
	if err != nil {
		t.Fatalf("FindOrCreateAlbum: %v", err)
	}
	if album.Title != "Black Album" || album.ReleaseYear != 1991 {
		t.Fatalf("unexpected album: %+v", album)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected exactly one album created, got %v", store.created)
	}
}

func TestFindOrCreateAlbumReusesSingleEntryCache(t *testing.T) {
	store := newFakeAlbumStore()
	m := NewAlbumMatcher(store)
	folder := uuid.New()

	first, err := m.FindOrCreateAlbum(AlbumQuery{AlbumName: "Ride the Lightning", AlbumArtist: "Metallica", FolderID: folder})
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := m.FindOrCreateAlbum(AlbumQuery{AlbumName: "Ride the Lightning", AlbumArtist: "Metallica", FolderID: folder})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the single-entry cache to reuse the same album, got %v then %v", first.ID, second.ID)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected only one album ever created via the cache hit, got %v", store.created)
	}
}

func TestFindOrCreateAlbumFlushInvalidatesCache(t *testing.T) {
	store := newFakeAlbumStore()
	m := NewAlbumMatcher(store)
	folder := uuid.New()

	first, _ := m.FindOrCreateAlbum(AlbumQuery{AlbumName: "Load", AlbumArtist: "Metallica", FolderID: folder})
	m.Flush()
	// After the flush the cache no longer answers; AlbumsByTitle returns
	// the first album, which has no track in this folder and no matching
	// year, so a fresh album is created rather than the flushed one reused.
	second, _ := m.FindOrCreateAlbum(AlbumQuery{AlbumName: "Load", AlbumArtist: "Metallica", FolderID: folder})
	_ = first
	if len(store.created) != 2 {
		t.Fatalf("expected flush to force a fresh lookup/create, got %d created (%v)", len(store.created), store.created)
	}
	_ = second
}

func TestFindOrCreateAlbumMultiDiscMatchesAcrossFolders(t *testing.T) {
	store := newFakeAlbumStore()
	existing := &models.Album{ID: uuid.New(), Title: "Use Your Illusion", AlbumArtistID: uuid.Nil}
	store.albums["Use Your Illusion"] = []*models.Album{existing}
	m := NewAlbumMatcher(store)

	got, err := m.FindOrCreateAlbum(AlbumQuery{
		AlbumName: "Use Your Illusion", DiscTotal: 2, DiscNumber: 2, FolderID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("FindOrCreateAlbum: %v", err)
	}
	if got.ID != existing.ID {
		t.Fatalf("expected multi-disc album to match existing candidate from a sibling folder, got a new one")
	}
}

func TestFindOrCreateAlbumSingleDiscRequiresSameFolder(t *testing.T) {
	store := newFakeAlbumStore()
	other := &models.Album{ID: uuid.New(), Title: "Greatest Hits", AlbumArtistID: uuid.Nil}
	store.albums["Greatest Hits"] = []*models.Album{other}
	m := NewAlbumMatcher(store)

	got, err := m.FindOrCreateAlbum(AlbumQuery{AlbumName: "Greatest Hits", FolderID: uuid.New()})
	if err != nil {
		t.Fatalf("FindOrCreateAlbum: %v", err)
	}
	if got.ID == other.ID {
		t.Fatalf("expected a single-disc candidate with no track in the same folder to be rejected, got a reuse")
	}
	if len(store.created) != 1 {
		t.Fatalf("expected a new album to be created, got %v", store.created)
	}
}
