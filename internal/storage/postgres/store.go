package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// Store provides Postgres persistence for position snapshots and entries.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutSnapshots appends one row per checked position and upserts entry
// details when they are known. Positions whose status could not be read
// this cycle are stored with null status columns.
func (s *Store) PutSnapshots(ctx context.Context, wallet string, snapshots []model.CheckedPosition) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, snap := range snapshots {
		pos := snap.Position

		var (
			inRange, fullRange            *bool
			currentTick                   *int32
			currentPrice, lower, upper    *float64
			amount0, amount1, fee0, fee1  *float64
			method                        *string
			block                         *int64
		)
		if st := snap.Status; st != nil {
			inRange, fullRange = &st.InRange, &st.FullRange
			currentTick = &st.CurrentTick
			currentPrice, lower, upper = &st.CurrentPrice, &st.LowerPrice, &st.UpperPrice
			amount0, amount1 = &st.Amount0, &st.Amount1
			if st.Fees.Err == "" {
				fee0, fee1 = &st.Fees.Amount0, &st.Fees.Amount1
			}
			method = &st.Method
			b := int64(st.Block)
			block = &b
		}

		batch.Queue(`
			INSERT INTO position_snapshots (
				wallet_address, dex_name, token_id, pool_address, pair,
				tick_lower, tick_upper, liquidity,
				in_range, full_range, current_tick, current_price,
				lower_price, upper_price, amount0, amount1,
				fee_amount0, fee_amount1, method, block, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,now())
		`,
			wallet,
			pos.DexName,
			pos.TokenID.String(),
			pos.PoolAddress,
			pos.Name(),
			pos.TickLower,
			pos.TickUpper,
			pos.Liquidity.String(),
			inRange,
			fullRange,
			currentTick,
			currentPrice,
			lower,
			upper,
			amount0,
			amount1,
			fee0,
			fee1,
			method,
			block,
		)
		queued++

		if entry := pos.Entry; entry != nil {
			batch.Queue(`
				INSERT INTO position_entries (
					wallet_address, dex_name, token_id,
					entry_block, entry_timestamp, entry_amount0, entry_amount1,
					entry_price, entry_value_usd, strategy, created_at, updated_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
				ON CONFLICT (wallet_address, dex_name, token_id)
				DO UPDATE SET
					entry_block = EXCLUDED.entry_block,
					entry_timestamp = EXCLUDED.entry_timestamp,
					entry_amount0 = EXCLUDED.entry_amount0,
					entry_amount1 = EXCLUDED.entry_amount1,
					entry_price = EXCLUDED.entry_price,
					entry_value_usd = EXCLUDED.entry_value_usd,
					strategy = EXCLUDED.strategy,
					updated_at = now()
			`,
				wallet,
				pos.DexName,
				pos.TokenID.String(),
				int64(entry.Block),
				int64(entry.Timestamp),
				entry.Amount0,
				entry.Amount1,
				entry.EntryPrice,
				entry.EntryValueUSD,
				string(entry.Strategy),
			)
			queued++
		}
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
