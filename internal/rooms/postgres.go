package rooms

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// allocRetries bounds retries when two joins race to create the same room number.
const allocRetries = 3

// PostgresStore is the production Store. Every Join runs in one transaction:
// the capacity recheck sits inside the UPDATE that increments the count, and
// the unique connection_token index makes membership creation race-free.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed room store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Join implements Store.
func (s *PostgresStore) Join(ctx context.Context, p JoinParams) (*JoinResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Idempotency: an active membership for this token short-circuits.
	var existingRoomID uuid.UUID
	var existingNumber int
	var wasLeft bool
	const qExisting = `SELECT r.id, r.room_number, l.left_at IS NOT NULL
		FROM room_listeners l JOIN rooms r ON r.id = l.room_id
		WHERE l.connection_token = $1`
	err = tx.QueryRow(ctx, qExisting, p.ConnectionToken).Scan(&existingRoomID, &existingNumber, &wasLeft)
	switch {
	case err == nil && !wasLeft:
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &JoinResult{RoomID: existingRoomID, RoomNumber: existingNumber, Rejoined: true}, nil
	case err != nil && err != pgx.ErrNoRows:
		return nil, fmt.Errorf("lookup membership: %w", err)
	}
	hadMembership := err == nil // previously joined, then left

	roomID, roomNumber, err := s.allocate(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	if hadMembership {
		const qRejoin = `UPDATE room_listeners
			SET room_id = $1, joined_at = NOW(), left_at = NULL, duration_seconds = 0
			WHERE connection_token = $2`
		if _, err := tx.Exec(ctx, qRejoin, roomID, p.ConnectionToken); err != nil {
			return nil, fmt.Errorf("rejoin membership: %w", err)
		}
	} else {
		const qInsert = `INSERT INTO room_listeners (room_id, session_id, connection_token, user_id, device_info)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (connection_token) DO NOTHING`
		tag, err := tx.Exec(ctx, qInsert, roomID, p.SessionID, p.ConnectionToken, p.UserID, p.DeviceInfo)
		if err != nil {
			return nil, fmt.Errorf("insert membership: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// A concurrent join with this token won the insert. Drop our seat
			// claim and hand back the winner's assignment.
			_ = tx.Rollback(ctx)
			return s.existingAssignment(ctx, p.ConnectionToken)
		}
	}

	// Session bookkeeping: lifetime total and peak high-water mark. The peak
	// is recompute-and-conditional-set, a documented best-effort approximation.
	const qTotal = `UPDATE stream_sessions SET total_viewers = total_viewers + 1, updated_at = NOW() WHERE id = $1`
	if _, err := tx.Exec(ctx, qTotal, p.SessionID); err != nil {
		return nil, fmt.Errorf("update total viewers: %w", err)
	}
	var active int
	const qActive = `SELECT COUNT(*) FROM room_listeners WHERE session_id = $1 AND left_at IS NULL`
	if err := tx.QueryRow(ctx, qActive, p.SessionID).Scan(&active); err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	const qPeak = `UPDATE stream_sessions SET peak_viewers = $1, updated_at = NOW() WHERE id = $2 AND $1 > peak_viewers`
	if _, err := tx.Exec(ctx, qPeak, active, p.SessionID); err != nil {
		return nil, fmt.Errorf("update peak viewers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &JoinResult{RoomID: roomID, RoomNumber: roomNumber}, nil
}

// existingAssignment re-reads the assignment a concurrent join with the same
// token committed, keeping duplicate joins idempotent.
func (s *PostgresStore) existingAssignment(ctx context.Context, connectionToken string) (*JoinResult, error) {
	const q = `SELECT r.id, r.room_number
		FROM room_listeners l JOIN rooms r ON r.id = l.room_id
		WHERE l.connection_token = $1 AND l.left_at IS NULL`
	var res JoinResult
	err := s.pool.QueryRow(ctx, q, connectionToken).Scan(&res.RoomID, &res.RoomNumber)
	if err != nil {
		return nil, fmt.Errorf("lookup concurrent membership: %w", err)
	}
	res.Rejoined = true
	return &res, nil
}

// allocate claims a seat in the lowest-numbered non-full room, creating a
// new room when all are full and the ceiling allows.
func (s *PostgresStore) allocate(ctx context.Context, tx pgx.Tx, p JoinParams) (uuid.UUID, int, error) {
	const qClaim = `UPDATE rooms SET current_count = current_count + 1
		WHERE id = (
			SELECT id FROM rooms
			WHERE session_id = $1 AND is_active AND current_count < capacity
			ORDER BY room_number
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, room_number`
	// ON CONFLICT DO NOTHING keeps a lost room-number race from aborting the
	// surrounding transaction; the loop then re-claims a seat.
	const qCreate = `INSERT INTO rooms (session_id, room_number, capacity, current_count)
		SELECT $1, COALESCE(MAX(room_number), 0) + 1, $2, 1 FROM rooms WHERE session_id = $1
		ON CONFLICT (session_id, room_number) DO NOTHING
		RETURNING id, room_number`
	const qCount = `SELECT COUNT(*) FROM rooms WHERE session_id = $1`

	for attempt := 0; attempt < allocRetries; attempt++ {
		var roomID uuid.UUID
		var roomNumber int
		err := tx.QueryRow(ctx, qClaim, p.SessionID).Scan(&roomID, &roomNumber)
		if err == nil {
			return roomID, roomNumber, nil
		}
		if err != pgx.ErrNoRows {
			return uuid.Nil, 0, fmt.Errorf("claim room: %w", err)
		}

		var count int
		if err := tx.QueryRow(ctx, qCount, p.SessionID).Scan(&count); err != nil {
			return uuid.Nil, 0, fmt.Errorf("count rooms: %w", err)
		}
		if count >= p.MaxRooms {
			return uuid.Nil, 0, ErrSessionFull
		}
		err = tx.QueryRow(ctx, qCreate, p.SessionID, p.RoomCapacity).Scan(&roomID, &roomNumber)
		if err == nil {
			return roomID, roomNumber, nil
		}
		if err != pgx.ErrNoRows {
			return uuid.Nil, 0, fmt.Errorf("create room: %w", err)
		}
		// Another join created the room first; retry the claim.
	}
	return uuid.Nil, 0, fmt.Errorf("room allocation did not converge")
}

// Leave implements Store.
func (s *PostgresStore) Leave(ctx context.Context, connectionToken string) (*LeaveResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const qLeave = `UPDATE room_listeners
		SET left_at = NOW(), duration_seconds = EXTRACT(EPOCH FROM NOW() - joined_at)::int
		WHERE connection_token = $1 AND left_at IS NULL
		RETURNING session_id, room_id, duration_seconds`
	var res LeaveResult
	err = tx.QueryRow(ctx, qLeave, connectionToken).Scan(&res.SessionID, &res.RoomID, &res.DurationSeconds)
	if err == pgx.ErrNoRows {
		return nil, nil // never joined or already left
	}
	if err != nil {
		return nil, fmt.Errorf("mark left: %w", err)
	}

	const qDecr = `UPDATE rooms SET current_count = GREATEST(current_count - 1, 0) WHERE id = $1`
	if _, err := tx.Exec(ctx, qDecr, res.RoomID); err != nil {
		return nil, fmt.Errorf("decrement room: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &res, nil
}

// CloseAll implements Store.
func (s *PostgresStore) CloseAll(ctx context.Context, sessionID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const qLeaveAll = `UPDATE room_listeners
		SET left_at = NOW(), duration_seconds = EXTRACT(EPOCH FROM NOW() - joined_at)::int
		WHERE session_id = $1 AND left_at IS NULL`
	if _, err := tx.Exec(ctx, qLeaveAll, sessionID); err != nil {
		return fmt.Errorf("close memberships: %w", err)
	}
	const qDeactivate = `UPDATE rooms SET is_active = FALSE, current_count = 0 WHERE session_id = $1`
	if _, err := tx.Exec(ctx, qDeactivate, sessionID); err != nil {
		return fmt.Errorf("deactivate rooms: %w", err)
	}
	return tx.Commit(ctx)
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context, sessionID uuid.UUID) (*SessionStats, error) {
	stats := &SessionStats{}

	const qSession = `SELECT peak_viewers, total_viewers FROM stream_sessions WHERE id = $1`
	if err := s.pool.QueryRow(ctx, qSession, sessionID).Scan(&stats.PeakViewers, &stats.TotalViewers); err != nil {
		return nil, fmt.Errorf("session counters: %w", err)
	}

	const qRooms = `SELECT room_number, current_count, capacity FROM rooms
		WHERE session_id = $1 AND is_active ORDER BY room_number`
	rows, err := s.pool.Query(ctx, qRooms, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ro RoomOccupancy
		if err := rows.Scan(&ro.RoomNumber, &ro.Count, &ro.Capacity); err != nil {
			return nil, err
		}
		stats.ActiveListeners += ro.Count
		stats.Rooms = append(stats.Rooms, ro)
	}
	return stats, rows.Err()
}
