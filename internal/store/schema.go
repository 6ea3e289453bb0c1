package store

import "context"

// bootstrapSQL creates every table the catalogue needs, idempotently.
// It mirrors the teacher's internal/db/db.go glob-and-apply shape but as
// a single embedded statement set rather than a migrations/ directory,
// since the schema itself isn't externally versioned the way the
// teacher's per-file migrations are — the stored dbModelVersion plays
// that role here (§4.10), advancing via Store.ApplyMigration once the
// base tables below already exist.
const bootstrapSQL = `
CREATE TABLE IF NOT EXISTS devices (
	id UUID PRIMARY KEY,
	uuid TEXT NOT NULL UNIQUE,
	scheme TEXT NOT NULL,
	removable BOOLEAN NOT NULL DEFAULT false,
	network BOOLEAN NOT NULL DEFAULT false,
	present BOOLEAN NOT NULL DEFAULT true,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS mountpoints (
	device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	mrl TEXT NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
	seq BIGSERIAL,
	PRIMARY KEY (device_id, mrl)
);

CREATE TABLE IF NOT EXISTS folders (
	id UUID PRIMARY KEY,
	mrl TEXT NOT NULL,
	device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	parent_id UUID REFERENCES folders(id) ON DELETE CASCADE,
	last_modified TIMESTAMPTZ NOT NULL DEFAULT now(),
	present BOOLEAN NOT NULL DEFAULT true,
	banned BOOLEAN NOT NULL DEFAULT false,
	is_root BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (device_id, parent_id, mrl)
);

CREATE TABLE IF NOT EXISTS genres (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS artists (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	bio TEXT NOT NULL DEFAULT '',
	nb_albums INTEGER NOT NULL DEFAULT 0,
	nb_tracks INTEGER NOT NULL DEFAULT 0,
	is_present BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS albums (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL,
	release_year INTEGER NOT NULL DEFAULT 0,
	nb_tracks INTEGER NOT NULL DEFAULT 0,
	nb_discs INTEGER NOT NULL DEFAULT 1,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	thumbnail_id UUID,
	album_artist_id UUID NOT NULL REFERENCES artists(id),
	UNIQUE (title, album_artist_id)
);

CREATE TABLE IF NOT EXISTS shows (
	id UUID PRIMARY KEY,
	title TEXT NOT NULL UNIQUE,
	tvdb_id BIGINT,
	release_date TIMESTAMPTZ,
	summary TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS show_episodes (
	id UUID PRIMARY KEY,
	show_id UUID NOT NULL REFERENCES shows(id) ON DELETE CASCADE,
	season_number INTEGER NOT NULL,
	episode_number INTEGER NOT NULL,
	episode_title TEXT NOT NULL DEFAULT '',
	UNIQUE (show_id, season_number, episode_number)
);

CREATE TABLE IF NOT EXISTS playlists (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	creation_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	nb_items INTEGER NOT NULL DEFAULT 0,
	file_id UUID
);

CREATE TABLE IF NOT EXISTS playlist_items (
	playlist_id UUID NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
	media_id UUID NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (playlist_id, media_id)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id UUID PRIMARY KEY,
	service_type INTEGER NOT NULL DEFAULT 0,
	name TEXT NOT NULL,
	artwork TEXT NOT NULL DEFAULT '',
	max_cached_media INTEGER NOT NULL DEFAULT 0,
	file_id UUID,
	new_media_flag BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS media (
	id UUID PRIMARY KEY,
	type INTEGER NOT NULL,
	sub_type INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	filename TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	play_count INTEGER NOT NULL DEFAULT 0,
	release_date TIMESTAMPTZ,
	external BOOLEAN NOT NULL DEFAULT false,
	group_id UUID,
	album_id UUID REFERENCES albums(id) ON DELETE SET NULL,
	show_episode_id UUID REFERENCES show_episodes(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS files (
	id UUID PRIMARY KEY,
	media_id UUID REFERENCES media(id) ON DELETE CASCADE,
	playlist_id UUID REFERENCES playlists(id) ON DELETE CASCADE,
	subscription_id UUID REFERENCES subscriptions(id) ON DELETE CASCADE,
	folder_id UUID NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	mrl TEXT NOT NULL,
	type INTEGER NOT NULL DEFAULT 0,
	last_modified TIMESTAMPTZ NOT NULL DEFAULT now(),
	size BIGINT NOT NULL DEFAULT 0,
	removable BOOLEAN NOT NULL DEFAULT false,
	external BOOLEAN NOT NULL DEFAULT false,
	network BOOLEAN NOT NULL DEFAULT false,
	cached BOOLEAN NOT NULL DEFAULT false,
	cached_at TIMESTAMPTZ,
	cache_mrl TEXT NOT NULL DEFAULT '',
	UNIQUE (folder_id, mrl)
);

CREATE TABLE IF NOT EXISTS album_tracks (
	id UUID PRIMARY KEY,
	album_id UUID NOT NULL REFERENCES albums(id) ON DELETE CASCADE,
	media_id UUID NOT NULL REFERENCES media(id) ON DELETE CASCADE,
	artist_id UUID NOT NULL REFERENCES artists(id),
	track_number INTEGER NOT NULL DEFAULT 0,
	disc_number INTEGER NOT NULL DEFAULT 1,
	UNIQUE (album_id, media_id)
);

CREATE TABLE IF NOT EXISTS audio_tracks (
	id UUID PRIMARY KEY,
	media_id UUID NOT NULL REFERENCES media(id) ON DELETE CASCADE,
	codec TEXT NOT NULL DEFAULT '',
	bitrate INTEGER NOT NULL DEFAULT 0,
	sample_rate INTEGER NOT NULL DEFAULT 0,
	channels INTEGER NOT NULL DEFAULT 0,
	language TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	attached_file_id UUID REFERENCES files(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS video_tracks (
	id UUID PRIMARY KEY,
	media_id UUID NOT NULL REFERENCES media(id) ON DELETE CASCADE,
	codec TEXT NOT NULL DEFAULT '',
	bitrate INTEGER NOT NULL DEFAULT 0,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	fps_num INTEGER NOT NULL DEFAULT 0,
	fps_den INTEGER NOT NULL DEFAULT 1,
	sar DOUBLE PRECISION NOT NULL DEFAULT 1,
	language TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS subtitle_tracks (
	id UUID PRIMARY KEY,
	media_id UUID NOT NULL REFERENCES media(id) ON DELETE CASCADE,
	codec TEXT NOT NULL DEFAULT '',
	encoding TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	attached_file_id UUID REFERENCES files(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS thumbnails (
	id UUID PRIMARY KEY,
	mrl TEXT NOT NULL DEFAULT '',
	origin INTEGER NOT NULL DEFAULT 0,
	size_type INTEGER NOT NULL DEFAULT 0,
	shared INTEGER NOT NULL DEFAULT 0,
	hash TEXT NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL DEFAULT 0,
	status INTEGER NOT NULL DEFAULT 0,
	owned BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (hash, size_type)
);

CREATE TABLE IF NOT EXISTS thumbnail_links (
	thumbnail_id UUID NOT NULL REFERENCES thumbnails(id) ON DELETE CASCADE,
	owner_kind INTEGER NOT NULL,
	owner_id UUID NOT NULL,
	size_type INTEGER NOT NULL,
	PRIMARY KEY (owner_kind, owner_id, size_type)
);

CREATE TABLE IF NOT EXISTS thumbnail_cleanups (
	id UUID PRIMARY KEY,
	filename TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id UUID PRIMARY KEY,
	type INTEGER NOT NULL,
	step SMALLINT NOT NULL DEFAULT 0,
	mrl TEXT NOT NULL DEFAULT '',
	file_id UUID REFERENCES files(id) ON DELETE CASCADE,
	media_id UUID REFERENCES media(id) ON DELETE CASCADE,
	parent_folder_id UUID REFERENCES folders(id) ON DELETE CASCADE,
	parent_folder_mrl TEXT NOT NULL DEFAULT '',
	link_to_type INTEGER NOT NULL DEFAULT 0,
	link_to_id UUID,
	link_extra TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	completed BOOLEAN NOT NULL DEFAULT false,
	requeued_at TIMESTAMPTZ,
	seq BIGSERIAL,
	UNIQUE (mrl, parent_folder_id),
	UNIQUE (link_to_type, link_to_id, link_extra, mrl)
);
`

// derivedTables are the tables §4.10's force-rescan operation truncates:
// everything the parser/analyzer derives from a file, as opposed to the
// durable Device/Folder/File identity the discoverer maintains.
var derivedTables = []string{
	"thumbnail_links", "thumbnails",
	"album_tracks", "audio_tracks", "video_tracks", "subtitle_tracks",
	"albums", "show_episodes", "shows",
	"media",
}

// resettableTables are every table a full DbReset drops, in an order
// that respects foreign keys (children before parents).
var resettableTables = append(append([]string{}, derivedTables...),
	"tasks", "thumbnail_cleanups",
	"playlist_items", "playlists", "subscriptions",
	"artists", "genres",
	"files", "folders", "mountpoints", "devices",
)

// Bootstrap creates every table the catalogue needs, idempotently. It is
// safe to call on every startup; CREATE TABLE IF NOT EXISTS makes it a
// no-op once the schema exists, and it is also the second half of a
// DbReset (§4.10): after dropping every table, Bootstrap recreates them
// with the current schema, and the reset stamps CurrentModelVersion.
func (s *Store) Bootstrap(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, bootstrapSQL)
	return err
}

// DropAllTables removes every catalogue table (settings excluded) so a
// subsequent Bootstrap recreates a clean schema. Used by a DbReset.
func (s *Store) DropAllTables(ctx context.Context) error {
	for _, table := range resettableTables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDerivedTables implements the table-truncation half of §4.10's
// force rescan: every table the analyzer/linker derive from a file's
// content, not the file/folder identity the discoverer owns.
func (s *Store) DeleteDerivedTables(ctx context.Context) error {
	return s.WithWriteTx(ctx, func(tx *Tx) error {
		for _, table := range derivedTables {
			if _, err := tx.Exec("DELETE FROM " + table); err != nil {
				return err
			}
		}
		return nil
	})
}
