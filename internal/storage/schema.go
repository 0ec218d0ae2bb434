package storage

// schema bootstraps the projection and event-log tables. Idempotent so it can
// run on every startup.
const schema = `
CREATE TABLE IF NOT EXISTS streams (
	id                    BIGINT PRIMARY KEY,
	sender                TEXT NOT NULL,
	recipient             TEXT NOT NULL,
	token_amount          BIGINT NOT NULL CHECK (token_amount > 0),
	start_time            BIGINT NOT NULL,
	end_time              BIGINT NOT NULL CHECK (end_time > start_time),
	withdrawn_amount      BIGINT NOT NULL DEFAULT 0 CHECK (withdrawn_amount >= 0 AND withdrawn_amount <= token_amount),
	is_cancelled          BOOLEAN NOT NULL DEFAULT FALSE,
	is_paused             BOOLEAN NOT NULL DEFAULT FALSE,
	paused_at             BIGINT NOT NULL DEFAULT 0,
	total_paused_duration BIGINT NOT NULL DEFAULT 0,
	created_at_block      BIGINT NOT NULL,
	token_type            TEXT NOT NULL,
	token_contract        TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_streams_sender ON streams (sender);
CREATE INDEX IF NOT EXISTS idx_streams_recipient ON streams (recipient);

CREATE TABLE IF NOT EXISTS stream_event_log (
	seq          BIGSERIAL PRIMARY KEY,
	stream_id    BIGINT NOT NULL,
	block_height BIGINT NOT NULL,
	tx_hash      TEXT NOT NULL,
	event_index  INT NOT NULL,
	event        JSONB NOT NULL,
	effect       JSONB NOT NULL,
	applied_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (stream_id, block_height, tx_hash, event_index)
);

CREATE INDEX IF NOT EXISTS idx_event_log_block ON stream_event_log (block_height);
`
