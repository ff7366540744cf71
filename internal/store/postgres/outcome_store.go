package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore. Rows are keyed by tx hash, so
// re-persisting a refreshed history window only inserts new awards.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates an OutcomeStore backed by pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

const outcomeSelectCols = `tx_hash, player, amount_wei::text, block_number, ts`

// outcomeRow is the column form of domain.OutcomeEvent.
type outcomeRow struct {
	TxHash      string
	Player      string
	AmountWei   string
	BlockNumber int64
	Timestamp   time.Time
}

func toRow(e domain.OutcomeEvent) outcomeRow {
	amount := "0"
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	return outcomeRow{
		TxHash:      e.TxHash.Hex(),
		Player:      e.Player.Hex(),
		AmountWei:   amount,
		BlockNumber: int64(e.BlockNumber),
		Timestamp:   e.Time(),
	}
}

func (r outcomeRow) event() (domain.OutcomeEvent, error) {
	amount, ok := new(big.Int).SetString(r.AmountWei, 10)
	if !ok {
		return domain.OutcomeEvent{}, fmt.Errorf("postgres: parse amount %q of %s", r.AmountWei, r.TxHash)
	}
	return domain.OutcomeEvent{
		Player:      common.HexToAddress(r.Player),
		Amount:      amount,
		Timestamp:   r.Timestamp.Unix(),
		BlockNumber: uint64(r.BlockNumber),
		TxHash:      common.HexToHash(r.TxHash),
	}, nil
}

func scanOutcomeRows(rows pgx.Rows) ([]domain.OutcomeEvent, error) {
	defer rows.Close()
	events := []domain.OutcomeEvent{}
	for rows.Next() {
		var r outcomeRow
		if err := rows.Scan(&r.TxHash, &r.Player, &r.AmountWei, &r.BlockNumber, &r.Timestamp); err != nil {
			return nil, err
		}
		e, err := r.event()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertBatch inserts events, skipping tx hashes already stored. It returns
// the number of new rows.
func (s *OutcomeStore) UpsertBatch(ctx context.Context, events []domain.OutcomeEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO outcome_events (tx_hash, player, amount_wei, block_number, ts)
		VALUES ($1, $2, $3::numeric, $4, $5)
		ON CONFLICT (tx_hash) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range events {
		r := toRow(e)
		batch.Queue(query, r.TxHash, r.Player, r.AmountWei, r.BlockNumber, r.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for i := range events {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("postgres: upsert outcome %d: %w", i, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListRecent returns events newest first, tie-broken by tx hash.
func (s *OutcomeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.OutcomeEvent, error) {
	query, args := windowQuery(outcomeSelectCols, "outcome_events", "ts", "ts DESC, tx_hash ASC", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes: %w", err)
	}
	events, err := scanOutcomeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes: %w", err)
	}
	return events, nil
}

// ListBefore returns every event older than before, oldest first.
func (s *OutcomeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OutcomeEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+outcomeSelectCols+` FROM outcome_events WHERE ts < $1 ORDER BY ts ASC, tx_hash ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes before: %w", err)
	}
	events, err := scanOutcomeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes before: %w", err)
	}
	return events, nil
}

var _ domain.OutcomeStore = (*OutcomeStore)(nil)
