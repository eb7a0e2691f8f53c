// Package store projects a planner.Plan into the Postgres-compatible
// relational schema described in SPEC_FULL.md §D.1, inside one
// deadlock-retried transaction per batch.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MuhibNayem/connectify-v2/graph-projector/internal/planner"
)

const deadlockSQLState = "40P01"

// friendshipUpsertChunkSize bounds the friendships bulk-upsert statement to
// the size the spec allows implementations to chunk at.
const friendshipUpsertChunkSize = 100

// Store wraps a pgx connection pool with the methods the identity cache and
// the projector need.
type Store struct {
	pool *pgxpool.Pool
}

// Config configures the pool.
type Config struct {
	DSN                string
	TransactionTimeout time.Duration
}

// New creates a pool and verifies connectivity. A failure here is the
// "fatal initialization error" spec §7 says should abort the process.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for callers that need raw access. The
// identity cache does not use it; it goes through ScanAllUsers, InsertUser
// and GetUserIDByName.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// IsDeadlock reports whether err is a Postgres deadlock per spec §4.5/§7:
// SQLSTATE 40P01, or any error whose message contains "deadlock detected".
func IsDeadlock(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == deadlockSQLState {
		return true
	}
	return strings.Contains(err.Error(), "deadlock detected")
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), the expected race on user creation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Commit materializes a resolved plan (name -> id already applied) inside
// one transaction with the fixed ordering spec §4.5 requires: referrals,
// then friendships, then unfriendships, then logs. It retries the whole
// transaction on deadlock up to maxRetries times with exponential backoff.
func (s *Store) Commit(ctx context.Context, rp ResolvedPlan, maxRetries int, txTimeout time.Duration, backoff func(attempt int) time.Duration, onDeadlockRetry func()) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if onDeadlockRetry != nil {
				onDeadlockRetry()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}

		err := s.commitOnce(ctx, rp, txTimeout)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsDeadlock(err) {
			return err
		}
	}
	return fmt.Errorf("store commit failed after %d deadlock retries: %w", maxRetries, lastErr)
}

func (s *Store) commitOnce(ctx context.Context, rp ResolvedPlan, txTimeout time.Duration) error {
	txCtx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	tx, err := s.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(txCtx) }()

	if err := insertReferrals(txCtx, tx, rp.Referrals); err != nil {
		return fmt.Errorf("insert referrals: %w", err)
	}
	if err := upsertFriendships(txCtx, tx, rp.Friendships); err != nil {
		return fmt.Errorf("upsert friendships: %w", err)
	}
	if err := deactivateFriendships(txCtx, tx, rp.Unfriendships); err != nil {
		return fmt.Errorf("deactivate friendships: %w", err)
	}
	if err := insertLogs(txCtx, tx, rp.Logs); err != nil {
		return fmt.Errorf("insert logs: %w", err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ResolvedEdge / ResolvedPair / ResolvedLog mirror the planner's types but
// with names replaced by resolved user ids.
type ResolvedEdge struct {
	ReferrerID int64
	ReferredID int64
}

type ResolvedPair struct {
	User1ID int64
	User2ID int64
}

type ResolvedLog struct {
	UserID int64
	Type   string
	Raw    []byte
}

// ResolvedPlan is a planner.Plan with every name swapped for its id.
type ResolvedPlan struct {
	Referrals     []ResolvedEdge
	Friendships   []ResolvedPair
	Unfriendships []ResolvedPair
	Logs          []ResolvedLog
}

// Canonicalize reorders a pair so User1ID < User2ID, the invariant the
// friendships table's unique constraint and check constraint rely on.
func Canonicalize(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Resolve converts a planner.Plan into a ResolvedPlan using the id map
// produced by the identity cache. Names absent from ids are a programming
// error (the caller must have ensured every name exists first) and are
// skipped defensively rather than panicking.
func Resolve(plan planner.Plan, ids map[string]int64) ResolvedPlan {
	rp := ResolvedPlan{}

	for _, edge := range plan.Referrals {
		referrer, ok1 := ids[edge.ReferrerName]
		referred, ok2 := ids[edge.ReferredName]
		if !ok1 || !ok2 {
			continue
		}
		rp.Referrals = append(rp.Referrals, ResolvedEdge{ReferrerID: referrer, ReferredID: referred})
	}

	for _, pair := range plan.Friendships {
		a, ok1 := ids[pair.NameA]
		b, ok2 := ids[pair.NameB]
		if !ok1 || !ok2 {
			continue
		}
		u1, u2 := Canonicalize(a, b)
		rp.Friendships = append(rp.Friendships, ResolvedPair{User1ID: u1, User2ID: u2})
	}

	for _, pair := range plan.Unfriendships {
		a, ok1 := ids[pair.NameA]
		b, ok2 := ids[pair.NameB]
		if !ok1 || !ok2 {
			continue
		}
		u1, u2 := Canonicalize(a, b)
		rp.Unfriendships = append(rp.Unfriendships, ResolvedPair{User1ID: u1, User2ID: u2})
	}

	for _, log := range plan.Logs {
		id, ok := ids[log.SubjectName]
		if !ok {
			continue
		}
		rp.Logs = append(rp.Logs, ResolvedLog{UserID: id, Type: log.Type, Raw: []byte(log.Raw)})
	}

	return rp
}

// execer is satisfied by pgx.Tx; narrowed here so the bulk-statement
// helpers below are testable against anything exposing Exec.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func insertReferrals(ctx context.Context, tx execer, edges []ResolvedEdge) error {
	if len(edges) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO referrals (referrer_id, referred_id) VALUES ")
	args := make([]interface{}, 0, len(edges)*2)
	for i, e := range edges {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, e.ReferrerID, e.ReferredID)
	}
	sb.WriteString(" ON CONFLICT (referrer_id, referred_id) DO NOTHING")
	_, err := tx.Exec(ctx, sb.String(), args...)
	return err
}

func upsertFriendships(ctx context.Context, tx execer, pairs []ResolvedPair) error {
	if len(pairs) == 0 {
		return nil
	}
	for start := 0; start < len(pairs); start += friendshipUpsertChunkSize {
		end := start + friendshipUpsertChunkSize
		if end > len(pairs) {
			end = len(pairs)
		}
		if err := upsertFriendshipChunk(ctx, tx, pairs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func upsertFriendshipChunk(ctx context.Context, tx execer, pairs []ResolvedPair) error {
	var sb strings.Builder
	sb.WriteString("INSERT INTO friendships (user1_id, user2_id, status) VALUES ")
	args := make([]interface{}, 0, len(pairs)*2)
	for i, p := range pairs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, 'ACTIVE')", i*2+1, i*2+2)
		args = append(args, p.User1ID, p.User2ID)
	}
	sb.WriteString(" ON CONFLICT (user1_id, user2_id) DO UPDATE SET status = 'ACTIVE', updated_at = now()")
	_, err := tx.Exec(ctx, sb.String(), args...)
	return err
}

func deactivateFriendships(ctx context.Context, tx execer, pairs []ResolvedPair) error {
	if len(pairs) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`UPDATE friendships SET status = 'INACTIVE', updated_at = now() WHERE status = 'ACTIVE' AND (user1_id, user2_id) IN (`)
	args := make([]interface{}, 0, len(pairs)*2)
	for i, p := range pairs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, p.User1ID, p.User2ID)
	}
	sb.WriteString(")")
	_, err := tx.Exec(ctx, sb.String(), args...)
	return err
}

func insertLogs(ctx context.Context, tx execer, logs []ResolvedLog) error {
	if len(logs) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO transaction_logs (user_id, transaction_type, transaction_data) VALUES ")
	args := make([]interface{}, 0, len(logs)*3)
	for i, l := range logs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
		args = append(args, l.UserID, l.Type, l.Raw)
	}
	_, err := tx.Exec(ctx, sb.String(), args...)
	return err
}
