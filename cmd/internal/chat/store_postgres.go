// Package chat contains the realtime gateway, room fanout, message
// persistence, and the simulated-reply orchestration.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandlink/cmd/internal/ids"
)

// PostgresStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Uses per-match transactional advisory locks to guarantee:
//   - No sequence gaps caused by duplicates
//   - Strict monotonic ordering under concurrency
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore behavior.
type StoreOption func(*PostgresStore) error

// WithStoreSchema sets the DB schema used by this store (default: "brandlink").
func WithStoreSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !isValidChatPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed MessageStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "brandlink"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

const messageColumns = `match_id, id, client_msg_id, seq, sender_id, text, read, created_at`

// Append appends a message with idempotency and monotonic seq allocation.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (AppendResult, error) {
	if s == nil || s.pool == nil {
		return AppendResult{}, errors.New("chat: nil store")
	}
	if in.MatchID == "" || in.ClientMsgID == "" || in.SenderID == "" {
		return AppendResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return AppendResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return AppendResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cursors := chatIdent(s.schema, "match_cursors")
	messages := chatIdent(s.schema, "messages")

	// Serialize all writes per match: no seq waste for duplicates, strict
	// monotonic ordering without races.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.MatchID); err != nil {
		return AppendResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := readByClientMsgID(ctx, tx, messages, in.MatchID, in.ClientMsgID)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return AppendResult{}, err
		}
		return AppendResult{Stored: existing, Duplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AppendResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (match_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (match_id) DO NOTHING`,
		in.MatchID,
	); err != nil {
		return AppendResult{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE match_id = $1
		RETURNING (next_seq - 1)`,
		in.MatchID,
	).Scan(&seq); err != nil {
		return AppendResult{}, err
	}

	msgID, err := ids.NewULID(now)
	if err != nil {
		return AppendResult{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $7)`,
		in.MatchID, msgID, in.ClientMsgID, seq, in.SenderID, in.Text, now,
	); err != nil {
		return AppendResult{}, fmt.Errorf("insert message: %w", err)
	}

	out := Message{
		MatchID:     in.MatchID,
		ID:          msgID,
		ClientMsgID: in.ClientMsgID,
		Seq:         seq,
		SenderID:    in.SenderID,
		Text:        in.Text,
		CreatedAt:   now,
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendResult{}, err
	}
	return AppendResult{Stored: out, Duplicated: false}, nil
}

// History returns messages ordered by seq ASC, with optional paging by AfterSeq.
func (s *PostgresStore) History(ctx context.Context, in HistoryInput) (HistoryResult, error) {
	if s == nil || s.pool == nil {
		return HistoryResult{}, errors.New("chat: nil store")
	}
	if in.MatchID == "" {
		return HistoryResult{}, errors.New("missing match_id")
	}
	if err := ctx.Err(); err != nil {
		return HistoryResult{}, err
	}

	limit := historyLimit(in.Limit)
	fetch := limit + 1

	messages := chatIdent(s.schema, "messages")

	var (
		rows pgx.Rows
		err  error
	)
	if in.AfterSeq == nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+messages+`
			  WHERE match_id = $1
			  ORDER BY seq ASC
			  LIMIT $2`,
			in.MatchID, fetch,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageColumns+` FROM `+messages+`
			  WHERE match_id = $1 AND seq > $2
			  ORDER BY seq ASC
			  LIMIT $3`,
			in.MatchID, *in.AfterSeq, fetch,
		)
	}
	if err != nil {
		return HistoryResult{}, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, fetch)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MatchID, &m.ID, &m.ClientMsgID, &m.Seq,
			&m.SenderID, &m.Text, &m.Read, &m.CreatedAt); err != nil {
			return HistoryResult{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return HistoryResult{}, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	return HistoryResult{Messages: msgs, HasMore: hasMore}, nil
}

// CountBySender reports how many messages senderID has sent in a match.
func (s *PostgresStore) CountBySender(ctx context.Context, matchID, senderID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("chat: nil store")
	}

	messages := chatIdent(s.schema, "messages")

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+messages+` WHERE match_id = $1 AND sender_id = $2`,
		matchID, senderID,
	).Scan(&n)
	return n, err
}

// MarkRead flags all messages not sent by readerID as read.
func (s *PostgresStore) MarkRead(ctx context.Context, matchID, readerID string) error {
	if s == nil || s.pool == nil {
		return errors.New("chat: nil store")
	}

	messages := chatIdent(s.schema, "messages")
	_, err := s.pool.Exec(ctx,
		`UPDATE `+messages+` SET read = true
		  WHERE match_id = $1 AND sender_id <> $2 AND read = false`,
		matchID, readerID,
	)
	return err
}

func readByClientMsgID(ctx context.Context, tx pgx.Tx, messagesTable, matchID, clientMsgID string) (Message, error) {
	var m Message
	err := tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM `+messagesTable+`
		  WHERE match_id = $1 AND client_msg_id = $2`,
		matchID, clientMsgID,
	).Scan(&m.MatchID, &m.ID, &m.ClientMsgID, &m.Seq, &m.SenderID, &m.Text, &m.Read, &m.CreatedAt)
	return m, err
}

var chatPGIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidChatPGIdent(s string) bool {
	return chatPGIdentRE.MatchString(s)
}

func chatIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers.
	return pgx.Identifier{schema, table}.Sanitize()
}
