package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/livewatch/internal/domain"
)

const (
	selectStateSQL = `SELECT document FROM livewatch_state WHERE id = 1`

	insertDefaultStateSQL = `INSERT INTO livewatch_state (id, document) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`

	upsertStateSQL = `
INSERT INTO livewatch_state (id, document) VALUES (1, $1)
ON CONFLICT (id) DO UPDATE
SET document = EXCLUDED.document,
    revision = livewatch_state.revision + 1,
    updated_at = now()`
)

// StateStore keeps the whole document in one row. A save is a single
// statement and therefore atomic.
type StateStore struct {
	pool     *pgxpool.Pool
	defaults domain.State
}

func NewStateStore(pool *pgxpool.Pool, defaults domain.State) *StateStore {
	return &StateStore{pool: pool, defaults: defaults.Clone()}
}

func (s *StateStore) Load(ctx context.Context) (domain.State, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, selectStateSQL).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.insertDefaults(ctx)
	}
	if err != nil {
		return domain.State{}, fmt.Errorf("%w: load state: %w", domain.ErrPersistence, err)
	}

	var state domain.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.State{}, fmt.Errorf("%w: decode state: %w", domain.ErrPersistence, err)
	}
	if state.Channels == nil {
		state.Channels = map[string]domain.ChannelRecord{}
	}
	return state, nil
}

func (s *StateStore) insertDefaults(ctx context.Context) (domain.State, error) {
	state := s.defaults.Clone()
	doc, err := json.Marshal(state)
	if err != nil {
		return domain.State{}, fmt.Errorf("%w: encode state: %w", domain.ErrPersistence, err)
	}

	if _, err := s.pool.Exec(ctx, insertDefaultStateSQL, json.RawMessage(doc)); err != nil {
		return domain.State{}, fmt.Errorf("%w: insert default state: %w", domain.ErrPersistence, err)
	}
	slog.InfoContext(ctx, "No stored state found, wrote defaults")

	// Another process may have won the insert; read back what is stored.
	return s.Load(ctx)
}

func (s *StateStore) Save(ctx context.Context, state domain.State) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: encode state: %w", domain.ErrPersistence, err)
	}

	if _, err := s.pool.Exec(ctx, upsertStateSQL, json.RawMessage(doc)); err != nil {
		return fmt.Errorf("%w: save state: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Revision returns how many times the document has been written.
func (s *StateStore) Revision(ctx context.Context) (int64, error) {
	var revision int64
	err := s.pool.QueryRow(ctx, `SELECT revision FROM livewatch_state WHERE id = 1`).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read state revision: %w", err)
	}
	return revision, nil
}

func (s *StateStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
