package store

const schema = `
CREATE TABLE IF NOT EXISTS founders (
    id              TEXT PRIMARY KEY,
    handle          TEXT NOT NULL UNIQUE,
    name            TEXT NOT NULL DEFAULT '',
    company         TEXT NOT NULL DEFAULT '',
    bio             TEXT NOT NULL DEFAULT '',
    location        TEXT NOT NULL DEFAULT '',
    funding_stage   TEXT NOT NULL DEFAULT '',
    incubator       TEXT NOT NULL DEFAULT '',
    incubator_batch TEXT NOT NULL DEFAULT '',
    incubator_phase TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'to_contact'
                    CHECK(status IN ('to_contact','watching','contacted','pass')),
    notes           TEXT NOT NULL DEFAULT '',
    founder_quality    REAL NOT NULL DEFAULT 0,
    execution_velocity REAL NOT NULL DEFAULT 0,
    market_conviction  REAL NOT NULL DEFAULT 0,
    early_traction     REAL NOT NULL DEFAULT 0,
    deal_availability  REAL NOT NULL DEFAULT 0,
    composite       INTEGER NOT NULL DEFAULT 0,
    scored_at       DATETIME,
    last_active_at  DATETIME NOT NULL,
    enriched_at     DATETIME,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_founders_composite ON founders(composite);
CREATE INDEX IF NOT EXISTS idx_founders_status ON founders(status);

CREATE TABLE IF NOT EXISTS founder_sources (
    founder_id  TEXT NOT NULL REFERENCES founders(id),
    source      TEXT NOT NULL,
    source_id   TEXT NOT NULL DEFAULT '',
    profile_url TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (founder_id, source)
);

CREATE TABLE IF NOT EXISTS founder_facts (
    founder_id  TEXT NOT NULL REFERENCES founders(id),
    fact        TEXT NOT NULL,
    value       REAL NOT NULL DEFAULT 0,
    updated_at  DATETIME NOT NULL,
    PRIMARY KEY (founder_id, fact)
);

CREATE TABLE IF NOT EXISTS founder_texts (
    founder_id  TEXT NOT NULL REFERENCES founders(id),
    kind        TEXT NOT NULL CHECK(kind IN ('repo','post')),
    text        TEXT NOT NULL,
    weight      REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (founder_id, kind, text)
);

CREATE TABLE IF NOT EXISTS signals (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    founder_id  TEXT NOT NULL REFERENCES founders(id),
    source      TEXT NOT NULL,
    label       TEXT NOT NULL,
    url         TEXT NOT NULL DEFAULT '',
    strong      BOOLEAN NOT NULL DEFAULT 0,
    detected_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_founder ON signals(founder_id, detected_at);

CREATE TABLE IF NOT EXISTS stats_snapshots (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    founder_id  TEXT NOT NULL REFERENCES founders(id),
    facts       TEXT NOT NULL DEFAULT '{}',
    composite   INTEGER NOT NULL DEFAULT 0,
    captured_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stats_founder ON stats_snapshots(founder_id, captured_at);

CREATE TABLE IF NOT EXISTS scores (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    founder_id         TEXT NOT NULL REFERENCES founders(id),
    founder_quality    REAL NOT NULL,
    execution_velocity REAL NOT NULL,
    market_conviction  REAL NOT NULL,
    early_traction     REAL NOT NULL,
    deal_availability  REAL NOT NULL,
    composite          INTEGER NOT NULL,
    scored_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scores_founder ON scores(founder_id, scored_at);

CREATE TABLE IF NOT EXISTS founder_embeddings (
    founder_id   TEXT PRIMARY KEY REFERENCES founders(id),
    vector       BLOB NOT NULL,
    content_hash TEXT NOT NULL,
    embedded_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS themes (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    pain            TEXT NOT NULL DEFAULT '',
    unlock          TEXT NOT NULL DEFAULT '',
    origin          TEXT NOT NULL DEFAULT '',
    centroid        BLOB,
    density         REAL NOT NULL DEFAULT 0,
    builder_count   INTEGER NOT NULL DEFAULT 0,
    weekly_velocity REAL NOT NULL DEFAULT 0,
    emergence_score REAL NOT NULL DEFAULT 0,
    stage           TEXT NOT NULL DEFAULT 'nascent'
                    CHECK(stage IN ('nascent','emerging','established','saturated')),
    stage_strikes   INTEGER NOT NULL DEFAULT 0,
    first_detected  DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_themes_score ON themes(emergence_score);

CREATE TABLE IF NOT EXISTS theme_members (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    theme_id    TEXT NOT NULL REFERENCES themes(id),
    founder_id  TEXT NOT NULL REFERENCES founders(id),
    similarity  REAL NOT NULL DEFAULT 0,
    active      BOOLEAN NOT NULL DEFAULT 1,
    joined_at   DATETIME NOT NULL,
    left_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_theme_members_theme ON theme_members(theme_id, active);
CREATE UNIQUE INDEX IF NOT EXISTS idx_theme_members_active
    ON theme_members(theme_id, founder_id) WHERE active = 1;

CREATE TABLE IF NOT EXISTS theme_history (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    theme_id        TEXT NOT NULL REFERENCES themes(id),
    builder_count   INTEGER NOT NULL,
    emergence_score REAL NOT NULL,
    captured_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_theme_history ON theme_history(theme_id, captured_at);

CREATE TABLE IF NOT EXISTS emergence_events (
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    entity_type  TEXT NOT NULL CHECK(entity_type IN ('founder','theme')),
    entity_id    TEXT NOT NULL,
    before_value REAL NOT NULL,
    after_value  REAL NOT NULL,
    confidence   REAL NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'new'
                 CHECK(status IN ('new','noted','investigating')),
    detected_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_detected ON emergence_events(detected_at);
CREATE INDEX IF NOT EXISTS idx_events_open ON emergence_events(status, type, entity_id);
`
