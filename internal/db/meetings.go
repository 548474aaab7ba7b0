package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meetbot/meetbot/internal/circuitbreaker"
	"github.com/meetbot/meetbot/internal/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("db: not found")

// ErrInvalidTransition is returned by UpdateMeetingStatus when the requested
// move is not in the FSM's allowed-transition table.
var ErrInvalidTransition = errors.New("db: invalid meeting status transition")

// AccountsByAPIKeyPrefix returns the enabled accounts whose api_key_prefix
// matches, for the caller to narrow with a constant-time hash comparison.
func (c *Client) AccountsByAPIKeyPrefix(ctx context.Context, prefix string) ([]models.Account, error) {
	rows, err := c.SQLX().QueryxContext(ctx,
		`SELECT id, api_key_hash, api_key_prefix, api_secret, webhook_url, webhook_secret,
		        max_concurrent_bots, enabled, created_at
		   FROM accounts WHERE api_key_prefix = $1 AND enabled = true`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query accounts by prefix: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.StructScan(&a); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AccountByID fetches a single account.
func (c *Client) AccountByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := c.SQLX().GetContext(ctx, &a,
		`SELECT id, api_key_hash, api_key_prefix, api_secret, webhook_url, webhook_secret,
		        max_concurrent_bots, enabled, created_at
		   FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return &a, nil
}

// CountActiveBots returns the number of non-terminal meetings for an
// account, the quantity the concurrency gate checks against
// max_concurrent_bots.
func (c *Client) CountActiveBots(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := c.GetDB().QueryRowContext(ctx,
		`SELECT count(*) FROM meetings
		  WHERE account_id = $1 AND status NOT IN ('completed', 'failed')`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active bots: %w", err)
	}
	return n, nil
}

// FindActiveMeeting returns the non-terminal meeting for a given
// (account, platform, native_meeting_id), used to reject a duplicate launch
// and to resolve callbacks/stop requests addressed by native id.
func (c *Client) FindActiveMeeting(ctx context.Context, accountID uuid.UUID, platform models.Platform, nativeID string) (*models.Meeting, error) {
	var m models.Meeting
	err := c.SQLX().GetContext(ctx, &m,
		`SELECT id, account_id, platform, native_meeting_id, status, workload_handle,
		        start_time, end_time, data, created_at, updated_at
		   FROM meetings
		  WHERE account_id = $1 AND platform = $2 AND native_meeting_id = $3
		    AND status NOT IN ('completed', 'failed')
		  ORDER BY created_at DESC LIMIT 1`, accountID, platform, nativeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active meeting: %w", err)
	}
	return &m, nil
}

// MeetingByID fetches a single meeting.
func (c *Client) MeetingByID(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	var m models.Meeting
	err := c.SQLX().GetContext(ctx, &m,
		`SELECT id, account_id, platform, native_meeting_id, status, workload_handle,
		        start_time, end_time, data, created_at, updated_at
		   FROM meetings WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query meeting: %w", err)
	}
	return &m, nil
}

// CreateMeeting inserts a new meeting row in StatusRequested, the single
// entry point for the FSM.
func (c *Client) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	m.Data.AppendTransition("", models.StatusRequested, models.SourceUser, "launch requested")
	row, err := c.GetDB().QueryContext(ctx,
		`INSERT INTO meetings (id, account_id, platform, native_meeting_id, status,
		                       workload_handle, start_time, end_time, data)
		      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		   RETURNING created_at, updated_at`,
		m.ID, m.AccountID, m.Platform, m.NativeMeetingID, m.Status,
		m.WorkloadHandle, m.StartTime, m.EndTime, m.Data)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	defer row.Close()
	if row.Next() {
		if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
			return fmt.Errorf("scan created meeting: %w", err)
		}
	}
	return row.Err()
}

// allowedTransitions is the Bot Lifecycle Controller's FSM transition table
//. A transition not listed here is rejected.
var allowedTransitions = map[models.MeetingStatus][]models.MeetingStatus{
	models.StatusRequested:         {models.StatusJoining, models.StatusFailed, models.StatusCompleted, models.StatusStopping},
	models.StatusJoining:           {models.StatusAwaitingAdmission, models.StatusFailed, models.StatusCompleted, models.StatusStopping},
	models.StatusAwaitingAdmission: {models.StatusActive, models.StatusFailed, models.StatusCompleted, models.StatusStopping},
	models.StatusActive:            {models.StatusStopping, models.StatusCompleted, models.StatusFailed},
	models.StatusStopping:          {models.StatusCompleted, models.StatusFailed},
	models.StatusCompleted:         {},
	models.StatusFailed:            {},
}

func isAllowedTransition(from, to models.MeetingStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateMeetingStatus reads the current row, validates the transition against
// the FSM table, appends a status_transition entry and commits, all inside
// one transaction,'s single-writer-path invariant: "all
// mutations go through update_meeting_status, which reads current state,
// validates, and commits in a single transaction."
//
// mutate, if non-nil, is applied to the in-transaction Meeting before the
// UPDATE is issued, letting callers set workload_handle/start_time/end_time/
// extra Data fields atomically with the transition.
func (c *Client) UpdateMeetingStatus(ctx context.Context, id uuid.UUID, to models.MeetingStatus, source models.TransitionSource, reason string, mutate func(*models.Meeting)) (*models.Meeting, error) {
	var result *models.Meeting
	err := c.WithTransactionCB(ctx, func(tx *circuitbreaker.TxWrapper) error {
		var m models.Meeting
		row, err := tx.QueryRowContext(ctx,
			`SELECT id, account_id, platform, native_meeting_id, status, workload_handle,
			        start_time, end_time, data, created_at, updated_at
			   FROM meetings WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return fmt.Errorf("select meeting for update: %w", err)
		}
		if err := row.Scan(&m.ID, &m.AccountID, &m.Platform, &m.NativeMeetingID, &m.Status,
			&m.WorkloadHandle, &m.StartTime, &m.EndTime, &m.Data, &m.CreatedAt, &m.UpdatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("scan meeting for update: %w", err)
		}

		sameStatus := m.Status == to
		if !sameStatus && !isAllowedTransition(m.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, to)
		}

		from := m.Status
		m.Status = to
		if mutate != nil {
			mutate(&m)
		}
		if !sameStatus {
			m.Data.AppendTransition(from, to, source, reason)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE meetings
			    SET status = $1, workload_handle = $2, start_time = $3, end_time = $4,
			        data = $5, updated_at = now()
			  WHERE id = $6`,
			m.Status, m.WorkloadHandle, m.StartTime, m.EndTime, m.Data, m.ID)
		if err != nil {
			return fmt.Errorf("update meeting status: %w", err)
		}

		result = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// NonTerminalMeetingsOlderThan returns meetings that have sat in a
// non-terminal status since before cutoff, the candidate set for orphan
// reconciliation.
func (c *Client) NonTerminalMeetingsOlderThan(ctx context.Context, cutoffSeconds int) ([]models.Meeting, error) {
	rows, err := c.SQLX().QueryxContext(ctx,
		`SELECT id, account_id, platform, native_meeting_id, status, workload_handle,
		        start_time, end_time, data, created_at, updated_at
		   FROM meetings
		  WHERE status NOT IN ('completed', 'failed')
		    AND updated_at < now() - ($1 || ' seconds')::interval`, cutoffSeconds)
	if err != nil {
		return nil, fmt.Errorf("query stale meetings: %w", err)
	}
	defer rows.Close()

	var out []models.Meeting
	for rows.Next() {
		var m models.Meeting
		if err := rows.StructScan(&m); err != nil {
			return nil, fmt.Errorf("scan stale meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MeetingIDBySessionUID resolves a recognition session uid to its owning
// meeting, the lookup callback.status_change needs before it can apply an
// FSM transition.
func (c *Client) MeetingIDBySessionUID(ctx context.Context, sessionUID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := c.GetDB().QueryRowContext(ctx,
		`SELECT meeting_id FROM meeting_sessions WHERE session_uid = $1`, sessionUID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.UUID{}, ErrNotFound
	}
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("lookup meeting by session uid: %w", err)
	}
	return id, nil
}

// ActiveMeetingsForAccount returns all non-terminal meetings owned by an
// account, backing GET /bots/status.
func (c *Client) ActiveMeetingsForAccount(ctx context.Context, accountID uuid.UUID) ([]models.Meeting, error) {
	rows, err := c.SQLX().QueryxContext(ctx,
		`SELECT id, account_id, platform, native_meeting_id, status, workload_handle,
		        start_time, end_time, data, created_at, updated_at
		   FROM meetings
		  WHERE account_id = $1 AND status NOT IN ('completed', 'failed')
		  ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query active meetings: %w", err)
	}
	defer rows.Close()

	var out []models.Meeting
	for rows.Next() {
		var m models.Meeting
		if err := rows.StructScan(&m); err != nil {
			return nil, fmt.Errorf("scan active meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestMeetingForTuple returns the most recent meeting for an
// (account, platform, native_meeting_id) regardless of status, used by the
// WebSocket authorize-subscribe endpoint which accepts subscriptions to
// meetings in any state.
func (c *Client) LatestMeetingForTuple(ctx context.Context, accountID uuid.UUID, platform models.Platform, nativeID string) (*models.Meeting, error) {
	var m models.Meeting
	err := c.SQLX().GetContext(ctx, &m,
		`SELECT id, account_id, platform, native_meeting_id, status, workload_handle,
		        start_time, end_time, data, created_at, updated_at
		   FROM meetings
		  WHERE account_id = $1 AND platform = $2 AND native_meeting_id = $3
		  ORDER BY created_at DESC LIMIT 1`, accountID, platform, nativeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find latest meeting: %w", err)
	}
	return &m, nil
}

// MeetingSessionsForMeeting returns all recognition sessions recorded for a
// meeting, ordered by session_start, used by the REST transcript read to
// compute absolute timestamps per session.
func (c *Client) MeetingSessionsForMeeting(ctx context.Context, meetingID uuid.UUID) ([]models.MeetingSession, error) {
	rows, err := c.SQLX().QueryxContext(ctx,
		`SELECT id, meeting_id, session_uid, session_start, created_at
		   FROM meeting_sessions WHERE meeting_id = $1 ORDER BY session_start ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("query meeting sessions: %w", err)
	}
	defer rows.Close()

	var out []models.MeetingSession
	for rows.Next() {
		var s models.MeetingSession
		if err := rows.StructScan(&s); err != nil {
			return nil, fmt.Errorf("scan meeting session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListMeetingsForAccount returns an account's most recent meetings
// regardless of status, backing the Collector's GET /meetings listing.
func (c *Client) ListMeetingsForAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Meeting, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.SQLX().QueryxContext(ctx,
		`SELECT id, account_id, platform, native_meeting_id, status, workload_handle,
		        start_time, end_time, data, created_at, updated_at
		   FROM meetings
		  WHERE account_id = $1
		  ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query account meetings: %w", err)
	}
	defer rows.Close()

	var out []models.Meeting
	for rows.Next() {
		var m models.Meeting
		if err := rows.StructScan(&m); err != nil {
			return nil, fmt.Errorf("scan account meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertMeetingSession records (or no-ops on) a recognition session's start.
func (c *Client) UpsertMeetingSession(ctx context.Context, s *models.MeetingSession) error {
	row, err := c.GetDB().QueryContext(ctx,
		`INSERT INTO meeting_sessions (id, meeting_id, session_uid, session_start)
		      VALUES ($1, $2, $3, $4)
		 ON CONFLICT (meeting_id, session_uid) DO UPDATE SET session_start = meeting_sessions.session_start
		  RETURNING id, created_at`,
		s.ID, s.MeetingID, s.SessionUID, s.SessionStart)
	if err != nil {
		return fmt.Errorf("upsert meeting session: %w", err)
	}
	defer row.Close()
	if row.Next() {
		if err := row.Scan(&s.ID, &s.CreatedAt); err != nil {
			return fmt.Errorf("scan upserted session: %w", err)
		}
	}
	return row.Err()
}
