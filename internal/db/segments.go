package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meetbot/meetbot/internal/circuitbreaker"
	"github.com/meetbot/meetbot/internal/models"
)

// UpsertSegmentTx idempotently writes one finalized transcript segment inside
// an existing transaction, keyed on (meeting_id, start_time)
// resolved Open Question: duplicate segments are DB-enforced, not
// convention-only. A redelivered stream message therefore lands on the same
// row instead of duplicating it.
func UpsertSegmentTx(ctx context.Context, tx *circuitbreaker.TxWrapper, s *models.TranscriptSegment) error {
	row, err := tx.QueryRowContext(ctx,
		`INSERT INTO transcript_segments (id, meeting_id, session_uid, start_time, end_time, text, language, speaker)
		      VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (meeting_id, start_time) DO UPDATE
		         SET end_time = excluded.end_time,
		             text     = excluded.text,
		             language = excluded.language,
		             speaker  = excluded.speaker
		  RETURNING id, created_at`,
		s.ID, s.MeetingID, s.SessionUID, s.StartTime, s.EndTime, s.Text, s.Language, s.Speaker)
	if err != nil {
		return fmt.Errorf("upsert segment: %w", err)
	}
	if err := row.Scan(&s.ID, &s.CreatedAt); err != nil {
		return fmt.Errorf("scan upserted segment: %w", err)
	}
	return nil
}

// SegmentsForMeeting returns all durable segments for a meeting ordered by
// start_time, the input to the REST transcript read's merge-with-mutable step
//.
func (c *Client) SegmentsForMeeting(ctx context.Context, meetingID uuid.UUID) ([]models.TranscriptSegment, error) {
	rows, err := c.SQLX().QueryxContext(ctx,
		`SELECT id, meeting_id, session_uid, start_time, end_time, text, language, speaker, created_at
		   FROM transcript_segments
		  WHERE meeting_id = $1
		  ORDER BY start_time ASC`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []models.TranscriptSegment
	for rows.Next() {
		var s models.TranscriptSegment
		if err := rows.StructScan(&s); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteMeetingTranscript purges all durable segments and sessions for a
// meeting, the backing store half of the DELETE transcript operation. The
// caller is responsible for clearing the mutable KV state in Redis.
func (c *Client) DeleteMeetingTranscript(ctx context.Context, meetingID uuid.UUID) error {
	return c.WithTransactionCB(ctx, func(tx *circuitbreaker.TxWrapper) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_segments WHERE meeting_id = $1`, meetingID); err != nil {
			return fmt.Errorf("delete segments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM meeting_sessions WHERE meeting_id = $1`, meetingID); err != nil {
			return fmt.Errorf("delete sessions: %w", err)
		}
		return nil
	})
}
