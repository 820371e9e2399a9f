package local

import "github.com/reelcast/reelcast/internal/domain"

// CollectionUserRoles holds (user_id, role) grants consulted by has_role
const CollectionUserRoles = "user_roles"

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	video_url        TEXT NOT NULL DEFAULT '',
	thumbnail_url    TEXT NOT NULL DEFAULT '',
	duration_seconds REAL NOT NULL DEFAULT 0,
	views_count      INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS interactions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	target_id        TEXT NOT NULL,
	target_type      TEXT NOT NULL,
	interaction_type TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	UNIQUE (user_id, target_id, target_type, interaction_type)
);
CREATE INDEX IF NOT EXISTS idx_interactions_target ON interactions (target_id, target_type);

CREATE TABLE IF NOT EXISTS comments (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	content_id   TEXT NOT NULL,
	content_type TEXT NOT NULL,
	parent_id    TEXT,
	content      TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_comments_content ON comments (content_id, content_type);

CREATE TABLE IF NOT EXISTS watch_progress (
	id               TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	episode_id       TEXT NOT NULL,
	progress_seconds REAL NOT NULL DEFAULT 0,
	duration_seconds REAL NOT NULL DEFAULT 0,
	last_watched_at  TEXT NOT NULL,
	PRIMARY KEY (user_id, episode_id)
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT NOT NULL,
	role    TEXT NOT NULL,
	PRIMARY KEY (user_id, role)
);
`

// table describes the columns a collection accepts
type table struct {
	columns   []string
	generated map[string]bool // Filled in on insert when absent: id (uuid), created_at (now)
}

func (t table) has(col string) bool {
	for _, c := range t.columns {
		if c == col {
			return true
		}
	}
	return false
}

var tables = map[string]table{
	domain.CollectionEpisodes: {
		columns:   []string{"id", "title", "description", "video_url", "thumbnail_url", "duration_seconds", "views_count", "created_at"},
		generated: map[string]bool{"id": true, "created_at": true},
	},
	domain.CollectionInteractions: {
		columns:   []string{"id", "user_id", "target_id", "target_type", "interaction_type", "created_at"},
		generated: map[string]bool{"id": true, "created_at": true},
	},
	domain.CollectionComments: {
		columns:   []string{"id", "user_id", "content_id", "content_type", "parent_id", "content", "created_at"},
		generated: map[string]bool{"id": true, "created_at": true},
	},
	domain.CollectionWatchProgress: {
		columns:   []string{"id", "user_id", "episode_id", "progress_seconds", "duration_seconds", "last_watched_at"},
		generated: map[string]bool{"id": true},
	},
	CollectionUserRoles: {
		columns: []string{"user_id", "role"},
	},
}
