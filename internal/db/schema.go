package db

import "context"

// Schema is the DDL for meetbot's Durable Store. Database schema migrations
// are explicitly out of scope; EnsureSchema issues
// idempotent CREATE-IF-NOT-EXISTS statements so a fresh environment (tests,
// local dev) can stand itself up without a migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id                  UUID PRIMARY KEY,
	api_key_hash        TEXT NOT NULL,
	api_key_prefix      TEXT NOT NULL,
	api_secret          TEXT NOT NULL DEFAULT '',
	webhook_url         TEXT NOT NULL DEFAULT '',
	webhook_secret      TEXT NOT NULL DEFAULT '',
	max_concurrent_bots INTEGER NOT NULL DEFAULT 5,
	enabled             BOOLEAN NOT NULL DEFAULT true,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_accounts_api_key_prefix ON accounts (api_key_prefix);

CREATE TABLE IF NOT EXISTS meetings (
	id                UUID PRIMARY KEY,
	account_id        UUID NOT NULL REFERENCES accounts(id),
	platform          TEXT NOT NULL,
	native_meeting_id TEXT NOT NULL,
	status            TEXT NOT NULL,
	workload_handle   TEXT NOT NULL DEFAULT '',
	start_time        TIMESTAMPTZ,
	end_time          TIMESTAMPTZ,
	data              JSONB NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_meetings_account_platform_native_status
	ON meetings (account_id, platform, native_meeting_id, status);
CREATE INDEX IF NOT EXISTS idx_meetings_updated_at ON meetings (updated_at);

CREATE TABLE IF NOT EXISTS meeting_sessions (
	id            UUID PRIMARY KEY,
	meeting_id    UUID NOT NULL REFERENCES meetings(id),
	session_uid   TEXT NOT NULL,
	session_start TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (meeting_id, session_uid)
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	id          UUID PRIMARY KEY,
	meeting_id  UUID NOT NULL REFERENCES meetings(id),
	session_uid TEXT NOT NULL,
	start_time  DOUBLE PRECISION NOT NULL,
	end_time    DOUBLE PRECISION NOT NULL,
	text        TEXT NOT NULL,
	language    TEXT NOT NULL DEFAULT '',
	speaker     TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (meeting_id, start_time)
);
CREATE INDEX IF NOT EXISTS idx_segments_meeting_start ON transcript_segments (meeting_id, start_time);
`

// EnsureSchema applies Schema. Safe to call on every startup.
func EnsureSchema(ctx context.Context, c *Client) error {
	_, err := c.GetDB().ExecContext(ctx, Schema)
	return err
}
