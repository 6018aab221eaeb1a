package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/copytrade/engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary and sizing fields are stored as DOUBLE PRECISION, matching the
// model package's float64 numerical model (see SPEC_FULL.md §4.6/§9); this
// departs from the teacher's NUMERIC-via-string convention deliberately — see
// DESIGN.md.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Tasks ---

func (s *PostgresStore) CreateTask(ctx context.Context, t *model.Task) error {
	var wallet, privKey *string
	if t.Live != nil {
		wallet, privKey = &t.Live.OperatorWallet, &t.Live.PrivateKey
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, mode, target_address, profile_url, operator_wallet,
		                     private_key, fixed_amount, initial_finance, current_balance,
		                     status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.Mode, t.TargetAddress, t.ProfileURL, wallet, privKey,
		t.FixedAmount, t.InitialFinance, t.CurrentBalance, t.Status, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, mode, target_address, profile_url, operator_wallet, private_key,
		        fixed_amount, initial_finance, current_balance, status, created_at
		 FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	var rows pgx.Rows
	var err error
	if filter.Mode != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, mode, target_address, profile_url, operator_wallet, private_key,
			        fixed_amount, initial_finance, current_balance, status, created_at
			 FROM tasks WHERE mode = $1 ORDER BY created_at`, filter.Mode)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, mode, target_address, profile_url, operator_wallet, private_key,
			        fixed_amount, initial_finance, current_balance, status, created_at
			 FROM tasks ORDER BY created_at`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, t *model.Task) error {
	var wallet, privKey *string
	if t.Live != nil {
		wallet, privKey = &t.Live.OperatorWallet, &t.Live.PrivateKey
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET mode=$2, target_address=$3, profile_url=$4, operator_wallet=$5,
		                   private_key=$6, fixed_amount=$7, initial_finance=$8,
		                   current_balance=$9, status=$10
		 WHERE id=$1`,
		t.ID, t.Mode, t.TargetAddress, t.ProfileURL, wallet, privKey,
		t.FixedAmount, t.InitialFinance, t.CurrentBalance, t.Status,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var wallet, privKey *string
	if err := row.Scan(&t.ID, &t.Mode, &t.TargetAddress, &t.ProfileURL, &wallet, &privKey,
		&t.FixedAmount, &t.InitialFinance, &t.CurrentBalance, &t.Status, &t.CreatedAt); err != nil {
		return nil, err
	}
	if t.Mode == model.ModeLive && wallet != nil && privKey != nil {
		t.Live = &model.LiveConfig{OperatorWallet: *wallet, PrivateKey: *privKey}
	}
	return &t, nil
}

// --- Activities ---

func (s *PostgresStore) InsertActivity(ctx context.Context, a *model.Activity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activities (task_id, tx_hash, timestamp, condition_id, asset, side,
		                          size, notional, price, outcome_index, title, slug,
		                          outcome_label, state, exec_attempts, my_bought_size)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		 ON CONFLICT (task_id, tx_hash) DO NOTHING`,
		a.TaskID, a.TxHash, a.Timestamp, a.ConditionID, a.Asset, a.Side,
		a.Size, a.Notional, a.Price, a.OutcomeIndex, a.Title, a.Slug,
		a.OutcomeLabel, a.State, a.ExecAttempts, a.MyBoughtSize,
	)
	return err
}

func (s *PostgresStore) ActivityExists(ctx context.Context, taskID, txHash string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM activities WHERE task_id=$1 AND tx_hash=$2)`,
		taskID, txHash).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) HasEarlierBuy(ctx context.Context, taskID, conditionID string, before int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
		   SELECT 1 FROM activities
		   WHERE task_id=$1 AND condition_id=$2 AND side='BUY' AND extract(epoch from timestamp) < $3
		 )`, taskID, conditionID, before).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) UpdateActivity(ctx context.Context, a *model.Activity) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE activities SET state=$3, exec_attempts=$4, my_bought_size=$5
		 WHERE task_id=$1 AND tx_hash=$2`,
		a.TaskID, a.TxHash, a.State, a.ExecAttempts, a.MyBoughtSize,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPendingActivities(ctx context.Context, taskID string) ([]model.Activity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, tx_hash, timestamp, condition_id, asset, side, size, notional,
		        price, outcome_index, title, slug, outcome_label, state, exec_attempts,
		        my_bought_size
		 FROM activities WHERE task_id=$1 AND state='new' ORDER BY timestamp`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

func (s *PostgresStore) ListActivitiesByAsset(ctx context.Context, taskID, asset string) ([]model.Activity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, tx_hash, timestamp, condition_id, asset, side, size, notional,
		        price, outcome_index, title, slug, outcome_label, state, exec_attempts,
		        my_bought_size
		 FROM activities WHERE task_id=$1 AND asset=$2 ORDER BY timestamp`, taskID, asset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanActivities(rows)
}

func (s *PostgresStore) ResetClaimedToNew(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE activities SET state='new' WHERE task_id=$1 AND state='claimed'`, taskID)
	return err
}

func (s *PostgresStore) DeleteActivitiesByTask(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM activities WHERE task_id=$1`, taskID)
	return err
}

func scanActivities(rows pgx.Rows) ([]model.Activity, error) {
	var out []model.Activity
	for rows.Next() {
		var a model.Activity
		if err := rows.Scan(&a.TaskID, &a.TxHash, &a.Timestamp, &a.ConditionID, &a.Asset,
			&a.Side, &a.Size, &a.Notional, &a.Price, &a.OutcomeIndex, &a.Title, &a.Slug,
			&a.OutcomeLabel, &a.State, &a.ExecAttempts, &a.MyBoughtSize); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Positions ---

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (task_id, asset, condition_id, size, avg_price, total_bought,
		                         current_value, realized_pnl, cur_price, title, slug, outcome_label)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (task_id, asset, condition_id) DO UPDATE SET
		   size=$4, avg_price=$5, total_bought=$6, current_value=$7, realized_pnl=$8,
		   cur_price=$9, title=$10, slug=$11, outcome_label=$12`,
		p.TaskID, p.Asset, p.ConditionID, p.Size, p.AvgPrice, p.TotalBought,
		p.CurrentValue, p.RealizedPnl, p.CurPrice, p.Title, p.Slug, p.OutcomeLabel,
	)
	return err
}

func (s *PostgresStore) DeletePosition(ctx context.Context, taskID, asset, conditionID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE task_id=$1 AND asset=$2 AND condition_id=$3`,
		taskID, asset, conditionID)
	return err
}

func (s *PostgresStore) FindPositions(ctx context.Context, taskID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, asset, condition_id, size, avg_price, total_bought, current_value,
		        realized_pnl, cur_price, title, slug, outcome_label
		 FROM positions WHERE task_id=$1`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) FindPosition(ctx context.Context, taskID, asset, conditionID string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, asset, condition_id, size, avg_price, total_bought, current_value,
		        realized_pnl, cur_price, title, slug, outcome_label
		 FROM positions WHERE task_id=$1 AND asset=$2 AND condition_id=$3`,
		taskID, asset, conditionID)
	var p model.Position
	if err := row.Scan(&p.TaskID, &p.Asset, &p.ConditionID, &p.Size, &p.AvgPrice,
		&p.TotalBought, &p.CurrentValue, &p.RealizedPnl, &p.CurPrice, &p.Title, &p.Slug,
		&p.OutcomeLabel); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) DeletePositionsByTask(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE task_id=$1`, taskID)
	return err
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var out []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.TaskID, &p.Asset, &p.ConditionID, &p.Size, &p.AvgPrice,
			&p.TotalBought, &p.CurrentValue, &p.RealizedPnl, &p.CurPrice, &p.Title, &p.Slug,
			&p.OutcomeLabel); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Trade records ---

func (s *PostgresStore) InsertTradeRecord(ctx context.Context, r *model.TradeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_records (id, task_id, tx_hash, condition_id, asset, side, size,
		                             price, quote_amount, realized_pnl, mode, timestamp)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.TaskID, r.TxHash, r.ConditionID, r.Asset, r.Side, r.Size, r.Price,
		r.QuoteAmount, r.RealizedPnl, r.Mode, r.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListTradeRecordsByTask(ctx context.Context, taskID string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, tx_hash, condition_id, asset, side, size, price, quote_amount,
		        realized_pnl, mode, timestamp
		 FROM trade_records WHERE task_id=$1 ORDER BY timestamp`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var r model.TradeRecord
		if err := rows.Scan(&r.ID, &r.TaskID, &r.TxHash, &r.ConditionID, &r.Asset, &r.Side,
			&r.Size, &r.Price, &r.QuoteAmount, &r.RealizedPnl, &r.Mode, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteTradeRecordsByTask(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM trade_records WHERE task_id=$1`, taskID)
	return err
}
