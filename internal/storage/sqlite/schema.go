package sqlite

// Schema is the embedded SQLite schema, applied at open. Statements are
// idempotent so reopening an existing database is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id            TEXT PRIMARY KEY,
	subject_id    TEXT NOT NULL,
	type          TEXT NOT NULL,
	description   TEXT NOT NULL,
	participants  TEXT,
	stat_deltas   TEXT,
	quest_id      TEXT,
	timestamp     TIMESTAMP NOT NULL,
	context       TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_subject_time ON events(subject_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS memory_records (
	id               TEXT PRIMARY KEY,
	subject_id       TEXT NOT NULL,
	tier             TEXT NOT NULL,
	text             TEXT NOT NULL,
	importance       REAL NOT NULL DEFAULT 0.5,
	embedding        TEXT,
	expires_at       TIMESTAMP,
	source_event_ids TEXT,
	metadata         TEXT,
	created_at       TIMESTAMP NOT NULL,
	last_accessed_at TIMESTAMP NOT NULL,
	access_count     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_records_subject_tier ON memory_records(subject_id, tier, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_expiry ON memory_records(expires_at);

CREATE TABLE IF NOT EXISTS summaries (
	subject_id TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS encounters (
	id         TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	difficulty TEXT NOT NULL,
	round      INTEGER NOT NULL DEFAULT 0,
	turn_index INTEGER NOT NULL DEFAULT 0,
	combatants TEXT NOT NULL,
	zones      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_encounters_subject_status ON encounters(subject_id, status);

CREATE TABLE IF NOT EXISTS skill_checks (
	id           TEXT PRIMARY KEY,
	subject_id   TEXT NOT NULL,
	skill        TEXT NOT NULL,
	dc           INTEGER NOT NULL,
	roll         INTEGER NOT NULL,
	rolls        TEXT NOT NULL,
	mod_ability  INTEGER NOT NULL,
	mod_prof     INTEGER NOT NULL,
	total        INTEGER NOT NULL,
	success      INTEGER NOT NULL,
	advantage    INTEGER NOT NULL,
	disadvantage INTEGER NOT NULL,
	created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_skill_checks_subject ON skill_checks(subject_id, created_at DESC);

CREATE TABLE IF NOT EXISTS subjects (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	level         INTEGER NOT NULL DEFAULT 1,
	stats         TEXT NOT NULL,
	proficiencies TEXT,
	hp            INTEGER NOT NULL,
	max_hp        INTEGER NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
`
