// Package repository содержит журнал оплат терминала в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/DS-Industry/sensor-terminal-front-end/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInvalidCycleID возвращается, если идентификатор цикла не является UUID.
var ErrInvalidCycleID = errors.New("invalid cycle id")

// defaultRetryDelays задаёт паузы между повторами записи в журнал.
var defaultRetryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository хранит журнал оплат в PostgreSQL.
type PostgresRepository struct {
	pool        *pgxpool.Pool
	retryDelays []time.Duration
}

// NewPostgresRepository создаёт репозиторий и применяет миграции схемы журнала.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, retryDelays: defaultRetryDelays}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	return retry(ctx, r.retryDelays, fn)
}

// retry вызывает fn, повторяя его после пауз из delays, пока ошибка временная.
func retry(ctx context.Context, delays []time.Duration, fn func() error) error {
	var err error
	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) || i == len(delays) {
			return err
		}

		t := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

// isRetryable сообщает, стоит ли повторить запись. Ошибки контекста
// не повторяются.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.TooManyConnections ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// RecordTransition сохраняет запись журнала. Временные ошибки БД
// повторяются.
func (r *PostgresRepository) RecordTransition(ctx context.Context, e model.JournalEntry) error {
	err := r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO payment_journal
			 (cycle_id, cycle, order_id, order_status, payment_state, payment_method,
			  program_id, inserted_amount, screen, payment_error, recorded_at)
			 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''),
			  NULLIF($7, 0), $8, $9, NULLIF($10, ''), $11)`,
			e.CycleID, int64(e.Cycle), e.OrderID, string(e.OrderStatus), e.PaymentState,
			string(e.PaymentMethod), e.ProgramID, e.InsertedAmount, string(e.Screen),
			e.PaymentError, e.RecordedAt,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidTextRepresentation {
			return fmt.Errorf("%w: %s", ErrInvalidCycleID, e.CycleID)
		}
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// RecentEntries возвращает последние записи журнала, новые первыми.
func (r *PostgresRepository) RecentEntries(ctx context.Context, limit int) ([]model.JournalEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT cycle_id::text, cycle, COALESCE(order_id, ''), COALESCE(order_status, ''),
		        payment_state, COALESCE(payment_method, ''), COALESCE(program_id, 0),
		        inserted_amount, screen, COALESCE(payment_error, ''), recorded_at
		 FROM payment_journal
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select journal: %w", err)
	}
	defer rows.Close()

	var res []model.JournalEntry
	for rows.Next() {
		var (
			e      model.JournalEntry
			cycle  int64
			status string
			method string
			screen string
		)
		if err := rows.Scan(&e.CycleID, &cycle, &e.OrderID, &status, &e.PaymentState,
			&method, &e.ProgramID, &e.InsertedAmount, &screen, &e.PaymentError, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Cycle = uint64(cycle)
		e.OrderStatus = model.OrderStatus(status)
		e.PaymentMethod = model.PaymentMethod(method)
		e.Screen = model.Screen(screen)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
