package analyzer

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/mediavault/libcatalog/internal/models"
)

// AlbumQuery is the grouped input to FindOrCreateAlbum (§4.7.1).
type AlbumQuery struct {
	AlbumName   string
	AlbumArtist string // "" when unknown
	TrackArtist string
	DiscNumber  int
	DiscTotal   int
	Date        string // release year embedded, e.g. "2004-03-01" or "2004"
	FolderID    uuid.UUID
}

// AlbumStore is the subset of persistence the album matcher needs.
// Grounded on the teacher's cachedFindOrCreateAlbum in
// internal/scanner/scan_music.go, generalised from a single
// (artist,title) key into the full §4.7.1 candidate-filtering algorithm.
type AlbumStore interface {
	AlbumsByTitle(title string) ([]*models.Album, error)
	AlbumTracks(albumID uuid.UUID) ([]*models.AlbumTrack, error)
	TrackFolderID(trackID uuid.UUID) (uuid.UUID, error)
	ArtistName(artistID uuid.UUID) (string, error)
	CreateAlbum(title string, albumArtistID uuid.UUID, year *int) (*models.Album, error)
	SetAlbumArtist(albumID uuid.UUID, albumArtistID uuid.UUID) error
	FindOrCreateArtist(name string) (uuid.UUID, error)
}

// albumCacheEntry is the single-entry "last album" accelerator §4.7
// describes for bulk imports: consecutive tracks of the same album in
// the same folder skip the full candidate search.
type albumCacheEntry struct {
	albumName string
	folderID  uuid.UUID
	album     *models.Album
}

// AlbumMatcher implements §4.7.1's candidate search and the single-entry
// cache that short-circuits it for runs of tracks from the same album.
type AlbumMatcher struct {
	store AlbumStore

	mu    sync.Mutex
	cache *albumCacheEntry
}

func NewAlbumMatcher(store AlbumStore) *AlbumMatcher {
	return &AlbumMatcher{store: store}
}

// Flush invalidates the single-entry cache (§4.7: "the cache is
// invalidated on flush").
func (m *AlbumMatcher) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = nil
}

// FindOrCreateAlbum runs the §4.7.1 algorithm end to end.
func (m *AlbumMatcher) FindOrCreateAlbum(q AlbumQuery) (*models.Album, error) {
	// Step 1: short-circuit via the single-entry cache.
	m.mu.Lock()
	if m.cache != nil && m.cache.albumName == q.AlbumName && m.cache.folderID == q.FolderID {
		album := m.cache.album
		m.mu.Unlock()
		return album, nil
	}
	m.mu.Unlock()

	// Step 2: candidates sharing the title.
	candidates, err := m.store.AlbumsByTitle(q.AlbumName)
	if err != nil {
		return nil, err
	}

	// Step 3: filter out candidates whose album artist differs from the
	// provided one, when one is known.
	if q.AlbumArtist != "" {
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if c.AlbumArtistID == uuid.Nil {
				filtered = append(filtered, c)
				continue
			}
			name, err := m.store.ArtistName(c.AlbumArtistID)
			if err != nil || name == q.AlbumArtist {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	var chosen *models.Album
	switch {
	case q.DiscTotal > 1 || q.DiscNumber > 1:
		// Step 4: multi-disc albums may live in sibling folders; any
		// title+artist match is acceptable regardless of folder.
		if len(candidates) > 0 {
			chosen = candidates[0]
		}
	default:
		chosen = m.selectSingleDiscCandidate(candidates, q)
	}

	if chosen != nil {
		if len(candidates) > 1 {
			log.Printf("[analyzer] album matching: %d candidates for %q, picked first", len(candidates), q.AlbumName)
		}
		m.maybePromoteVariousArtists(chosen, q)
		m.remember(q, chosen)
		return chosen, nil
	}

	albumArtistID := models.UnknownArtistID
	if q.AlbumArtist != "" {
		id, err := m.store.FindOrCreateArtist(q.AlbumArtist)
		if err != nil {
			return nil, err
		}
		albumArtistID = id
	}
	year := parseYear(q.Date)
	created, err := m.store.CreateAlbum(q.AlbumName, albumArtistID, year)
	if err != nil {
		return nil, err
	}
	m.remember(q, created)
	return created, nil
}

// selectSingleDiscCandidate implements steps 5-7: a candidate passes if
// any of its tracks is disc>1 (a legitimate multi-disc set even though
// this particular new track is disc 1), or one of its tracks lives in
// the same folder as the new file, or — for a single-artist candidate —
// the release year matches. Candidates that pass none of these are
// dropped; if more than one passes, the first is picked (with a
// warning), matching step 7.
func (m *AlbumMatcher) selectSingleDiscCandidate(candidates []*models.Album, q AlbumQuery) *models.Album {
	year := parseYear(q.Date)
	var passing []*models.Album
	for _, c := range candidates {
		if m.candidatePasses(c, q, year) {
			passing = append(passing, c)
		}
	}
	if len(passing) == 0 {
		return nil
	}
	return passing[0]
}

func (m *AlbumMatcher) candidatePasses(c *models.Album, q AlbumQuery, year *int) bool {
	tracks, err := m.store.AlbumTracks(c.ID)
	if err != nil {
		return false
	}
	for _, tr := range tracks {
		if tr.DiscNumber > 1 {
			return true
		}
	}
	for _, tr := range tracks {
		folderID, err := m.store.TrackFolderID(tr.ID)
		if err == nil && folderID == q.FolderID {
			return true
		}
	}
	if year != nil && c.AlbumArtistID != models.VariousArtistsID && c.ReleaseYear == *year {
		return true
	}
	return false
}

// maybePromoteVariousArtists implements step 8: if the album did not
// already exist, its album artist is set as given. If it existed and the
// new track's album-artist differs from the album's current one, it is
// promoted to the Various Artists sentinel.
func (m *AlbumMatcher) maybePromoteVariousArtists(album *models.Album, q AlbumQuery) {
	if q.AlbumArtist == "" || album.AlbumArtistID == models.VariousArtistsID {
		return
	}
	currentName, err := m.store.ArtistName(album.AlbumArtistID)
	if err == nil && currentName == q.AlbumArtist {
		return
	}
	_ = m.store.SetAlbumArtist(album.ID, models.VariousArtistsID)
}

func (m *AlbumMatcher) remember(q AlbumQuery, album *models.Album) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = &albumCacheEntry{albumName: q.AlbumName, folderID: q.FolderID, album: album}
}

// parseYear extracts a leading 4-digit year from a date string such as
// "2004" or "2004-03-01"; returns nil when none is present.
func parseYear(date string) *int {
	if len(date) < 4 {
		return nil
	}
	for i := 0; i < 4; i++ {
		if date[i] < '0' || date[i] > '9' {
			return nil
		}
	}
	y := 0
	for i := 0; i < 4; i++ {
		y = y*10 + int(date[i]-'0')
	}
	if y < 1000 || y > 3000 {
		return nil
	}
	return &y
}
