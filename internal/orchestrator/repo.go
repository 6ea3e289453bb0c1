package orchestrator

// This file is the store-backed plumbing that turns the four narrow
// persistence interfaces FSD, MA, CW and TW each declare into real SQL
// against internal/store, grounded on the teacher's
// internal/repository/*_repository.go query shape (db *sql.DB receiver,
// $n positional params, QueryRow/Scan). Every adapter here is owned by
// the orchestrator because it is the only package that already depends
// on every consumer interface plus the store and tasktable that back
// them, and because two of these interfaces both declare a ScheduleLink
// method with incompatible signatures — they cannot be satisfied by a
// single receiver type.

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mediavault/libcatalog/internal/analyzer"
	"github.com/mediavault/libcatalog/internal/cacheworker"
	"github.com/mediavault/libcatalog/internal/fs"
	"github.com/mediavault/libcatalog/internal/fsdiscoverer"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/models"
	"github.com/mediavault/libcatalog/internal/store"
	"github.com/mediavault/libcatalog/internal/tasktable"
	"github.com/mediavault/libcatalog/internal/thumbnailer"
)

// discoveryRepo implements fsdiscoverer.DB. registry is not part of
// that interface — it's used directly by the orchestrator's discoverer
// Handler to resolve a request's root mrl to a device before any of
// the DB methods below are reachable.
type discoveryRepo struct {
	st       *store.Store
	table    *tasktable.Table
	registry *fs.Registry
}

var _ fsdiscoverer.DB = (*discoveryRepo)(nil)

func scanFolder(row interface{ Scan(dest ...interface{}) error }) (*models.Folder, error) {
	f := &models.Folder{}
	err := row.Scan(&f.ID, &f.MRL, &f.DeviceID, &f.ParentID, &f.LastModified, &f.Present, &f.Banned, &f.IsRoot)
	return f, err
}

const folderColumns = `id, mrl, device_id, parent_id, last_modified, present, banned, is_root`

func (r *discoveryRepo) SubFolders(parentID uuid.UUID) ([]*models.Folder, error) {
	rows, err := r.st.DB().Query(`SELECT `+folderColumns+` FROM folders WHERE parent_id = $1`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFile(row interface{ Scan(dest ...interface{}) error }) (*models.File, error) {
	f := &models.File{}
	err := row.Scan(&f.ID, &f.MediaID, &f.PlaylistID, &f.SubscriptionID, &f.FolderID, &f.MRL, &f.Type,
		&f.LastModified, &f.Size, &f.Removable, &f.External, &f.Network, &f.Cached, &f.CachedAt, &f.CacheMRL)
	return f, err
}

const fileColumns = `id, media_id, playlist_id, subscription_id, folder_id, mrl, type,
	last_modified, size, removable, external, network, cached, cached_at, cache_mrl`

func (r *discoveryRepo) SubFiles(parentID uuid.UUID) ([]*models.File, error) {
	rows, err := r.st.DB().Query(`SELECT `+fileColumns+` FROM files WHERE folder_id = $1`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *discoveryRepo) CreateFolder(parentID *uuid.UUID, deviceID uuid.UUID, mrlStr string, isRoot bool) (*models.Folder, error) {
	f := &models.Folder{MRL: mrlStr, DeviceID: deviceID, ParentID: parentID, Present: true, IsRoot: isRoot}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO folders (id, mrl, device_id, parent_id, is_root)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (device_id, parent_id, mrl) DO UPDATE SET present = true
			RETURNING id, last_modified`, uuid.New(), mrlStr, deviceID, parentID, isRoot)
		if err := row.Scan(&f.ID, &f.LastModified); err != nil {
			return err
		}
		tx.Notify("folders", "insert", f.ID.String())
		return nil
	})
	return f, err
}

func (r *discoveryRepo) DeleteFolderRecursive(id uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		if _, err := tx.Exec(`DELETE FROM folders WHERE id = $1`, id); err != nil {
			return err
		}
		tx.Notify("folders", "delete", id.String())
		return nil
	})
}

func (r *discoveryRepo) DeleteFile(id uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		if _, err := tx.Exec(`DELETE FROM files WHERE id = $1`, id); err != nil {
			return err
		}
		tx.Notify("files", "delete", id.String())
		return nil
	})
}

// DeleteMediaIfOrphaned removes the Media row only when no File still
// references it, so a media whose last file just vanished is reclaimed
// but a media with remaining files is left alone (§4.5).
func (r *discoveryRepo) DeleteMediaIfOrphaned(mediaID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		res, err := tx.Exec(`DELETE FROM media WHERE id = $1 AND NOT EXISTS
			(SELECT 1 FROM files WHERE media_id = $1)`, mediaID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			tx.Notify("media", "delete", mediaID.String())
		}
		return nil
	})
}

func (r *discoveryRepo) UpdateFileSize(id uuid.UUID, size int64) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		if _, err := tx.Exec(`UPDATE files SET size = $1, last_modified = now() WHERE id = $2`, size, id); err != nil {
			return err
		}
		tx.Notify("files", "update", id.String())
		return nil
	})
}

// ScheduleCreation enqueues a Creation task for a newly discovered
// filesystem entry. Entries whose extension classifies as
// FileTypeUnknown are never worth a task — the parser has nothing to
// extract from them.
func (r *discoveryRepo) ScheduleCreation(parentFolderID uuid.UUID, parentFolderMRL, mrlStr string, fileType models.FileType) error {
	if fileType == models.FileTypeUnknown {
		return nil
	}
	var pid *uuid.UUID
	if parentFolderID != uuid.Nil {
		pid = &parentFolderID
	}
	return r.table.Create(context.Background(), &models.Task{
		MRL: mrlStr, ParentFolderID: pid, ParentFolderMRL: parentFolderMRL,
	})
}

// ScheduleLink enqueues a Link task tying a newly discovered file (e.g.
// an external subtitle or soundtrack sitting next to its media) to the
// file it was found alongside.
func (r *discoveryRepo) ScheduleLink(mrlStr string, linkedFileID uuid.UUID) error {
	return r.table.CreateLinkTask(context.Background(), models.LinkToTypeMedia, linkedFileID, "", mrlStr)
}

func (r *discoveryRepo) ScheduleRefresh(fileID uuid.UUID) error {
	return r.table.CreateRefreshTask(context.Background(), fileID)
}

// EnsureDevice finds or creates the Device row for a filesystem-layer
// device uuid, marking it present on every call (§4.1, §4.5: a device
// seen again during a crawl is no longer "missing").
func (r *discoveryRepo) EnsureDevice(deviceUUID, scheme string, removable, network bool) (*models.Device, error) {
	d := &models.Device{UUID: deviceUUID, Scheme: scheme, Removable: removable, Network: network, Present: true}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO devices (id, uuid, scheme, removable, network, present)
			VALUES ($1, $2, $3, $4, $5, true)
			ON CONFLICT (uuid) DO UPDATE SET present = true, last_seen = now()
			RETURNING id, last_seen`, uuid.New(), deviceUUID, scheme, removable, network)
		return row.Scan(&d.ID, &d.LastSeen)
	})
	return d, err
}

// EnsureRootFolder finds or creates the root Folder row a discoverer
// root request crawls from.
func (r *discoveryRepo) EnsureRootFolder(deviceID uuid.UUID, mrlStr string) (*models.Folder, error) {
	return r.CreateFolder(nil, deviceID, mrlStr, true)
}

// DeviceIDByUUID resolves the store row id for a filesystem-layer
// device uuid string, the join key the discoverer's handler needs
// between fs.Registry (which only knows uuid strings) and the Folder
// rows it creates (which reference a Device row id).
func (r *discoveryRepo) DeviceIDByUUID(deviceUUID string) (uuid.UUID, error) {
	var id uuid.UUID
	row := r.st.DB().QueryRow(`SELECT id FROM devices WHERE uuid = $1`, deviceUUID)
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return uuid.Nil, mlerrors.NewNotFoundError(deviceUUID, "Device")
	}
	return id, err
}

// MarkDeviceMissing flips a device's present flag off when its
// DeviceLister reports it unmounted (§4.1, §4.5: "a removed device's
// folders are left in place but stop being scanned").
func (r *discoveryRepo) MarkDeviceMissing(deviceUUID string) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE devices SET present = false WHERE uuid = $1`, deviceUUID)
		return err
	})
}

// RootFoldersForDevice lists every root folder registered against a
// device, the set a ReloadDevice request re-crawls.
func (r *discoveryRepo) RootFoldersForDevice(deviceID uuid.UUID) ([]*models.Folder, error) {
	rows, err := r.st.DB().Query(`SELECT `+folderColumns+` FROM folders WHERE device_id = $1 AND is_root = true`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FolderByDeviceAndMRL looks up a folder (root or not) by its owning
// device and mrl, the lookup a Remove/Ban/Unban request needs before it
// can act on the folder a root mrl names.
func (r *discoveryRepo) FolderByDeviceAndMRL(deviceID uuid.UUID, mrlStr string) (*models.Folder, error) {
	row := r.st.DB().QueryRow(`SELECT `+folderColumns+` FROM folders WHERE device_id = $1 AND mrl = $2`, deviceID, mrlStr)
	f, err := scanFolder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

// SetFolderBanned flips a folder's banned flag; a banned folder is
// skipped by future crawls (§4.4 Ban/Unban, §4.5).
func (r *discoveryRepo) SetFolderBanned(id uuid.UUID, banned bool) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE folders SET banned = $1 WHERE id = $2`, banned, id)
		if err != nil {
			return err
		}
		tx.Notify("folders", "update", id.String())
		return nil
	})
}

// analysisRepo implements analyzer.DB, analyzer.AlbumStore and
// analyzer.ThumbnailStore — every persistence seam the two MA services
// need, grounded on internal/repository/media_repository.go,
// music_repository.go and tracks_repository.go's query shape.
type analysisRepo struct {
	st    *store.Store
	table *tasktable.Table
}

var (
	_ analyzer.DB             = (*analysisRepo)(nil)
	_ analyzer.AlbumStore     = (*analysisRepo)(nil)
	_ analyzer.ThumbnailStore = (*analysisRepo)(nil)
)

func (r *analysisRepo) FileByID(id uuid.UUID) (*models.File, error) {
	row := r.st.DB().QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, mlerrors.NewNotFoundError(id.String(), "File")
	}
	return f, err
}

func scanMedia(row interface{ Scan(dest ...interface{}) error }) (*models.Media, error) {
	m := &models.Media{}
	err := row.Scan(&m.ID, &m.Type, &m.SubType, &m.Title, &m.Filename, &m.Duration, &m.PlayCount,
		&m.ReleaseDate, &m.External, &m.GroupID, &m.AlbumID, &m.ShowEpisodeID)
	return m, err
}

const mediaColumns = `id, type, sub_type, title, filename, duration_ms, play_count,
	release_date, external, group_id, album_id, show_episode_id`

func (r *analysisRepo) MediaByID(id uuid.UUID) (*models.Media, error) {
	row := r.st.DB().QueryRow(`SELECT `+mediaColumns+` FROM media WHERE id = $1`, id)
	m, err := scanMedia(row)
	if err == sql.ErrNoRows {
		return nil, mlerrors.NewNotFoundError(id.String(), "Media")
	}
	return m, err
}

// MediaByExternalMRL returns the external (file-less) Media previously
// created under this mrl as its Filename, or nil if none exists (§4.7
// step 4: "external media sharing the target mrl is promoted rather
// than duplicated").
func (r *analysisRepo) MediaByExternalMRL(mrlStr string) (*models.Media, error) {
	row := r.st.DB().QueryRow(`SELECT `+mediaColumns+` FROM media WHERE filename = $1 AND external = true`, mrlStr)
	m, err := scanMedia(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *analysisRepo) CreateFile(f *models.File) (*models.File, error) {
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO files (id, media_id, folder_id, mrl, type)
			VALUES ($1, $2, $3, $4, $5) RETURNING last_modified`, f.ID, f.MediaID, f.FolderID, f.MRL, f.Type)
		if err := row.Scan(&f.LastModified); err != nil {
			return err
		}
		tx.Notify("files", "insert", f.ID.String())
		return nil
	})
	return f, err
}

func (r *analysisRepo) UpdateFileLastModified(fileID uuid.UUID, t time.Time) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		if _, err := tx.Exec(`UPDATE files SET last_modified = $1 WHERE id = $2`, t, fileID); err != nil {
			return err
		}
		tx.Notify("files", "update", fileID.String())
		return nil
	})
}

func (r *analysisRepo) CreateMedia(m *models.Media) (*models.Media, error) {
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`INSERT INTO media (id, type, sub_type, title, filename, external)
			VALUES ($1, $2, $3, $4, $5, $6)`, m.ID, m.Type, m.SubType, m.Title, m.Filename, m.External)
		if err != nil {
			return err
		}
		tx.Notify("media", "insert", m.ID.String())
		return nil
	})
	return m, err
}

func (r *analysisRepo) PromoteExternalMedia(mediaID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		if _, err := tx.Exec(`UPDATE media SET external = false WHERE id = $1`, mediaID); err != nil {
			return err
		}
		tx.Notify("media", "update", mediaID.String())
		return nil
	})
}

// ReplaceTracks discards every previously recorded track for mediaID
// and inserts the freshly extracted set (§4.7 step 5: "tracks are
// replaced wholesale on every (re)analysis, never diffed").
func (r *analysisRepo) ReplaceTracks(mediaID uuid.UUID, audio []models.AudioTrack, video []models.VideoTrack, sub []models.SubtitleTrack) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		for _, table := range []string{"audio_tracks", "video_tracks", "subtitle_tracks"} {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE media_id = $1`, mediaID); err != nil {
				return err
			}
		}
		for _, a := range audio {
			if _, err := tx.Exec(`INSERT INTO audio_tracks
				(id, media_id, codec, bitrate, sample_rate, channels, language, description, attached_file_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				uuid.New(), mediaID, a.Codec, a.Bitrate, a.SampleRate, a.Channels, a.Language, a.Description, a.AttachedFileID); err != nil {
				return err
			}
		}
		for _, v := range video {
			if _, err := tx.Exec(`INSERT INTO video_tracks
				(id, media_id, codec, bitrate, width, height, fps_num, fps_den, sar, language, description)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
				uuid.New(), mediaID, v.Codec, v.Bitrate, v.Width, v.Height, v.FPSNum, v.FPSDen, v.SAR, v.Language, v.Description); err != nil {
				return err
			}
		}
		for _, s := range sub {
			if _, err := tx.Exec(`INSERT INTO subtitle_tracks
				(id, media_id, codec, encoding, language, description, attached_file_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				uuid.New(), mediaID, s.Codec, s.Encoding, s.Language, s.Description, s.AttachedFileID); err != nil {
				return err
			}
		}
		tx.Notify("media", "update", mediaID.String())
		return nil
	})
}

func (r *analysisRepo) FindOrCreateGenre(name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO genres (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = excluded.name RETURNING id`, uuid.New(), name)
		return row.Scan(&id)
	})
	return id, err
}

func (r *analysisRepo) CreateAlbumTrack(at *models.AlbumTrack) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		if at.ID == uuid.Nil {
			at.ID = uuid.New()
		}
		_, err := tx.Exec(`INSERT INTO album_tracks (id, album_id, media_id, artist_id, track_number, disc_number)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (album_id, media_id) DO UPDATE SET track_number = excluded.track_number, disc_number = excluded.disc_number`,
			at.ID, at.AlbumID, at.MediaID, at.ArtistID, at.TrackNumber, at.DiscNumber)
		return err
	})
}

func (r *analysisRepo) FindOrCreateShow(title string) (*models.Show, error) {
	s := &models.Show{Title: title}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO shows (id, title) VALUES ($1, $2)
			ON CONFLICT (title) DO UPDATE SET title = excluded.title
			RETURNING id, tvdb_id, release_date, summary`, uuid.New(), title)
		return row.Scan(&s.ID, &s.TVDBID, &s.ReleaseDate, &s.Summary)
	})
	return s, err
}

func (r *analysisRepo) FindOrCreateEpisode(showID uuid.UUID, season, episode int, title string) (*models.ShowEpisode, error) {
	e := &models.ShowEpisode{ShowID: showID, SeasonNumber: season, EpisodeNumber: episode, EpisodeTitle: title}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO show_episodes (id, show_id, season_number, episode_number, episode_title)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (show_id, season_number, episode_number) DO UPDATE SET episode_title = excluded.episode_title
			RETURNING id`, uuid.New(), showID, season, episode, title)
		return row.Scan(&e.ID)
	})
	return e, err
}

// EnsureMediaGroup assigns mediaID its own single-member group the
// first time it's linked, so later siblings (e.g. additional cuts of
// the same movie) can join the same group without a special case for
// "the first member had no group yet".
func (r *analysisRepo) EnsureMediaGroup(mediaID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE media SET group_id = $1 WHERE id = $1 AND group_id IS NULL`, mediaID)
		return err
	})
}

func (r *analysisRepo) EnsurePlaylist(fileID uuid.UUID, name string) (*models.Playlist, error) {
	p := &models.Playlist{Name: name, FileID: &fileID}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO playlists (id, name, file_id) VALUES ($1,$2,$3)
			ON CONFLICT (file_id) DO UPDATE SET name = excluded.name
			RETURNING id, creation_date, nb_items`, uuid.New(), name, fileID)
		return row.Scan(&p.ID, &p.CreationDate, &p.NbItems)
	})
	return p, err
}

func (r *analysisRepo) EnsureSubscription(fileID uuid.UUID, name string) (*models.Subscription, error) {
	s := &models.Subscription{Name: name, FileID: &fileID}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO subscriptions (id, name, file_id) VALUES ($1,$2,$3)
			ON CONFLICT (file_id) DO UPDATE SET name = excluded.name
			RETURNING id, service_type, artwork, max_cached_media, new_media_flag`, uuid.New(), name, fileID)
		return row.Scan(&s.ID, &s.ServiceType, &s.Artwork, &s.MaxCachedMedia, &s.NewMediaFlag)
	})
	return s, err
}

func (r *analysisRepo) CreateExternalMedia(title, description string, releaseDate *time.Time) (*models.Media, error) {
	m := &models.Media{ID: uuid.New(), Type: models.MediaTypeVideo, Title: title, External: true, ReleaseDate: releaseDate}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`INSERT INTO media (id, type, title, filename, external, release_date)
			VALUES ($1,$2,$3,$4,true,$5)`, m.ID, m.Type, m.Title, description, releaseDate)
		if err != nil {
			return err
		}
		tx.Notify("media", "insert", m.ID.String())
		return nil
	})
	return m, err
}

// ScheduleLink enqueues a Link task for one playlist/subscription
// sub-item. Note the signature differs from discoveryRepo's
// ScheduleLink — these are two distinct interfaces.
func (r *analysisRepo) ScheduleLink(linkType models.LinkToType, linkID uuid.UUID, mrlStr string, parentFolderID uuid.UUID) error {
	return r.table.CreateLinkTask(context.Background(), linkType, linkID, "", mrlStr)
}

// ── AlbumStore ──

func (r *analysisRepo) AlbumsByTitle(title string) ([]*models.Album, error) {
	rows, err := r.st.DB().Query(`SELECT id, title, release_year, nb_tracks, nb_discs, duration_ms, thumbnail_id, album_artist_id
		FROM albums WHERE title = $1`, title)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Album
	for rows.Next() {
		a := &models.Album{}
		if err := rows.Scan(&a.ID, &a.Title, &a.ReleaseYear, &a.NbTracks, &a.NbDiscs, &a.Duration, &a.ThumbnailID, &a.AlbumArtistID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *analysisRepo) AlbumTracks(albumID uuid.UUID) ([]*models.AlbumTrack, error) {
	rows, err := r.st.DB().Query(`SELECT id, album_id, media_id, artist_id, track_number, disc_number
		FROM album_tracks WHERE album_id = $1`, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AlbumTrack
	for rows.Next() {
		t := &models.AlbumTrack{}
		if err := rows.Scan(&t.ID, &t.AlbumID, &t.MediaID, &t.ArtistID, &t.TrackNumber, &t.DiscNumber); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TrackFolderID returns the folder of the first file backing the given
// track's media, used by the album matcher to test folder proximity
// against a candidate album's existing tracks (§4.7.1).
func (r *analysisRepo) TrackFolderID(trackID uuid.UUID) (uuid.UUID, error) {
	var folderID uuid.UUID
	row := r.st.DB().QueryRow(`SELECT folder_id FROM files WHERE media_id = $1 LIMIT 1`, trackID)
	err := row.Scan(&folderID)
	return folderID, err
}

func (r *analysisRepo) ArtistName(artistID uuid.UUID) (string, error) {
	var name string
	row := r.st.DB().QueryRow(`SELECT name FROM artists WHERE id = $1`, artistID)
	err := row.Scan(&name)
	return name, err
}

func (r *analysisRepo) CreateAlbum(title string, albumArtistID uuid.UUID, year *int) (*models.Album, error) {
	a := &models.Album{Title: title, AlbumArtistID: albumArtistID, NbDiscs: 1}
	if year != nil {
		a.ReleaseYear = *year
	}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO albums (id, title, release_year, album_artist_id)
			VALUES ($1,$2,$3,$4) RETURNING id`, uuid.New(), title, a.ReleaseYear, albumArtistID)
		return row.Scan(&a.ID)
	})
	return a, err
}

func (r *analysisRepo) SetAlbumArtist(albumID, albumArtistID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE albums SET album_artist_id = $1 WHERE id = $2`, albumArtistID, albumID)
		return err
	})
}

func (r *analysisRepo) FindOrCreateArtist(name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO artists (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET name = excluded.name RETURNING id`, uuid.New(), name)
		return row.Scan(&id)
	})
	return id, err
}

// ── ThumbnailStore ──

func (r *analysisRepo) MediaThumbnail(mediaID uuid.UUID) (*models.ThumbnailLink, error) {
	l := &models.ThumbnailLink{OwnerKind: models.ThumbnailOwnerMedia, OwnerID: mediaID}
	row := r.st.DB().QueryRow(`SELECT thumbnail_id, size_type FROM thumbnail_links
		WHERE owner_kind = $1 AND owner_id = $2 LIMIT 1`, models.ThumbnailOwnerMedia, mediaID)
	err := row.Scan(&l.ThumbnailID, &l.SizeType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// CoverFilesInFolder returns every plain-file mrl sitting in folderID,
// for the cover-art-by-filename heuristic (§4.7.3).
func (r *analysisRepo) CoverFilesInFolder(folderID uuid.UUID) ([]string, error) {
	rows, err := r.st.DB().Query(`SELECT mrl FROM files WHERE folder_id = $1`, folderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var mrlStr string
		if err := rows.Scan(&mrlStr); err != nil {
			return nil, err
		}
		out = append(out, mrlStr)
	}
	return out, rows.Err()
}

func (r *analysisRepo) ThumbnailByHash(hash string) (*models.Thumbnail, error) {
	t := &models.Thumbnail{}
	row := r.st.DB().QueryRow(`SELECT id, mrl, origin, size_type, shared, hash, file_size, status, owned
		FROM thumbnails WHERE hash = $1`, hash)
	err := row.Scan(&t.ID, &t.MRL, &t.Origin, &t.SizeType, &t.Shared, &t.Hash, &t.FileSize, &t.Status, &t.Owned)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *analysisRepo) CreateThumbnail(mrlStr string, origin models.ThumbnailOrigin, hash string, size int64) (*models.Thumbnail, error) {
	t := &models.Thumbnail{MRL: mrlStr, Origin: origin, Hash: hash, FileSize: size, Status: models.ThumbnailStatusAvailable, Owned: true}
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		row := tx.QueryRow(`INSERT INTO thumbnails (id, mrl, origin, hash, file_size, status, owned)
			VALUES ($1,$2,$3,$4,$5,$6,true) RETURNING id`, uuid.New(), mrlStr, origin, hash, size, models.ThumbnailStatusAvailable)
		return row.Scan(&t.ID)
	})
	return t, err
}

func (r *analysisRepo) LinkThumbnail(thumbnailID uuid.UUID, ownerKind models.ThumbnailOwnerKind, ownerID uuid.UUID, sizeType models.ThumbnailSizeType) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`INSERT INTO thumbnail_links (thumbnail_id, owner_kind, owner_id, size_type)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (owner_kind, owner_id, size_type) DO UPDATE SET thumbnail_id = excluded.thumbnail_id`,
			thumbnailID, ownerKind, ownerID, sizeType)
		return err
	})
}

func (r *analysisRepo) IncrementShared(thumbnailID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE thumbnails SET shared = shared + 1 WHERE id = $1`, thumbnailID)
		return err
	})
}

// TracksMissingThumbnail lists the media ids belonging to an
// album/artist that have no shared thumbnail yet, the candidates the
// thumbnail assigner walks looking for an embedded cover (§4.7.3).
func (r *analysisRepo) TracksMissingThumbnail(albumOrArtistID uuid.UUID, ownerKind models.ThumbnailOwnerKind) ([]uuid.UUID, error) {
	var rows *sql.Rows
	var err error
	switch ownerKind {
	case models.ThumbnailOwnerAlbum:
		rows, err = r.st.DB().Query(`SELECT media_id FROM album_tracks WHERE album_id = $1
			AND NOT EXISTS (SELECT 1 FROM thumbnail_links l WHERE l.owner_kind = $2 AND l.owner_id = album_tracks.media_id)`,
			albumOrArtistID, models.ThumbnailOwnerMedia)
	default:
		rows, err = r.st.DB().Query(`SELECT media_id FROM album_tracks WHERE artist_id = $1
			AND NOT EXISTS (SELECT 1 FROM thumbnail_links l WHERE l.owner_kind = $2 AND l.owner_id = album_tracks.media_id)`,
			albumOrArtistID, models.ThumbnailOwnerMedia)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// cacheRepo implements cacheworker.CacheStore.
type cacheRepo struct {
	st        *store.Store
	cacheRoot string
}

var _ cacheworker.CacheStore = (*cacheRepo)(nil)

func (r *cacheRepo) FileByMediaID(mediaID uuid.UUID) (*models.File, error) {
	row := r.st.DB().QueryRow(`SELECT `+fileColumns+` FROM files WHERE media_id = $1 LIMIT 1`, mediaID)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, mlerrors.NewNotFoundError(mediaID.String(), "File")
	}
	return f, err
}

func (r *cacheRepo) MarkCached(fileID uuid.UUID, cacheMRL string, size int64) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE files SET cached = true, cached_at = now(), cache_mrl = $1, size = $2 WHERE id = $3`,
			cacheMRL, size, fileID)
		return err
	})
}

func (r *cacheRepo) MarkUncached(fileID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE files SET cached = false, cached_at = NULL, cache_mrl = '' WHERE id = $1`, fileID)
		return err
	})
}

func (r *cacheRepo) RemoveCacheFile(cacheMRL string) error { return removeCacheOnDisk(cacheMRL) }

func (r *cacheRepo) WriteCacheFile(mediaID uuid.UUID, sourceMRL string) (string, int64, error) {
	return writeCacheOnDisk(r.cacheRoot, mediaID, sourceMRL)
}

func (r *cacheRepo) Subscriptions() ([]*models.Subscription, error) {
	rows, err := r.st.DB().Query(`SELECT id, service_type, name, artwork, max_cached_media, file_id, new_media_flag FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Subscription
	for rows.Next() {
		s := &models.Subscription{}
		if err := rows.Scan(&s.ID, &s.ServiceType, &s.Name, &s.Artwork, &s.MaxCachedMedia, &s.FileID, &s.NewMediaFlag); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *cacheRepo) UncachedSubscriptionMedia(subscriptionID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.st.DB().Query(`SELECT f.media_id FROM files f
		WHERE f.subscription_id = $1 AND f.cached = false AND f.media_id IS NOT NULL`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *cacheRepo) CachedSubscriptionFiles(subscriptionID uuid.UUID) ([]*models.File, error) {
	rows, err := r.st.DB().Query(`SELECT `+fileColumns+` FROM files WHERE subscription_id = $1 AND cached = true`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *cacheRepo) ClearNewMediaFlag(subscriptionID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE subscriptions SET new_media_flag = false WHERE id = $1`, subscriptionID)
		return err
	})
}

func (r *cacheRepo) AllCachedFiles() ([]*models.File, error) {
	rows, err := r.st.DB().Query(`SELECT ` + fileColumns + ` FROM files WHERE cached = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *cacheRepo) ListCacheFolder() ([]string, error) { return listCacheDir(r.cacheRoot) }

// thumbRepo implements thumbnailer.Store.
type thumbRepo struct {
	st            *store.Store
	thumbnailRoot string
}

var _ thumbnailer.Store = (*thumbRepo)(nil)

func (r *thumbRepo) MediaSourceMRL(mediaID uuid.UUID) (string, error) {
	var mrlStr string
	row := r.st.DB().QueryRow(`SELECT mrl FROM files WHERE media_id = $1 AND removable = false LIMIT 1`, mediaID)
	err := row.Scan(&mrlStr)
	return mrlStr, err
}

func (r *thumbRepo) ThumbnailForSize(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) (*models.Thumbnail, error) {
	t := &models.Thumbnail{}
	row := r.st.DB().QueryRow(`SELECT t.id, t.mrl, t.origin, t.size_type, t.shared, t.hash, t.file_size, t.status, t.owned
		FROM thumbnails t JOIN thumbnail_links l ON l.thumbnail_id = t.id
		WHERE l.owner_kind = $1 AND l.owner_id = $2 AND l.size_type = $3`,
		models.ThumbnailOwnerMedia, mediaID, sizeType)
	err := row.Scan(&t.ID, &t.MRL, &t.Origin, &t.SizeType, &t.Shared, &t.Hash, &t.FileSize, &t.Status, &t.Owned)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *thumbRepo) InsertCrashMarker(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) (uuid.UUID, error) {
	id := uuid.New()
	err := r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`INSERT INTO thumbnails (id, size_type, status, owned) VALUES ($1, $2, $3, true)`,
			id, sizeType, models.ThumbnailStatusCrash)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO thumbnail_links (thumbnail_id, owner_kind, owner_id, size_type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner_kind, owner_id, size_type) DO UPDATE SET thumbnail_id = excluded.thumbnail_id`,
			id, models.ThumbnailOwnerMedia, mediaID, sizeType)
		return err
	})
	return id, err
}

func (r *thumbRepo) MarkAvailable(thumbnailID uuid.UUID, path string) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE thumbnails SET status = $1, mrl = $2 WHERE id = $3`,
			models.ThumbnailStatusAvailable, path, thumbnailID)
		return err
	})
}

func (r *thumbRepo) MarkFailure(thumbnailID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`UPDATE thumbnails SET status = $1 WHERE id = $2`, models.ThumbnailStatusFailure, thumbnailID)
		return err
	})
}

func (r *thumbRepo) DeleteThumbnail(thumbnailID uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`DELETE FROM thumbnails WHERE id = $1`, thumbnailID)
		return err
	})
}

func (r *thumbRepo) DestPath(mediaID uuid.UUID, sizeType models.ThumbnailSizeType) string {
	return thumbnailDestPath(r.thumbnailRoot, mediaID, sizeType)
}

func (r *thumbRepo) PendingCleanups() ([]models.ThumbnailCleanup, error) {
	rows, err := r.st.DB().Query(`SELECT id, filename FROM thumbnail_cleanups`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ThumbnailCleanup
	for rows.Next() {
		var c models.ThumbnailCleanup
		if err := rows.Scan(&c.ID, &c.Filename); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *thumbRepo) RemoveCleanupFile(filename string) error { return removeThumbnailFile(r.thumbnailRoot, filename) }

func (r *thumbRepo) DeleteCleanupRow(id uuid.UUID) error {
	return r.st.WithWriteTx(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Exec(`DELETE FROM thumbnail_cleanups WHERE id = $1`, id)
		return err
	})
}
