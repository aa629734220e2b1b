package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type DBConfig struct {
	URL    string
	Schema string
	Tag    string
}

func dbURLFromEnv() string {
	if value := strings.TrimSpace(os.Getenv("RACHAS_DB_URL")); value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv("DATABASE_URL"))
}

func sanitizeSchema(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("db schema is required")
	}
	valid := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	if !valid.MatchString(value) {
		return "", fmt.Errorf("invalid schema name: %s", value)
	}
	return value, nil
}

// seedDatabase stores the current report only when no prior run exists.
// Returns an empty run id when the seed was skipped.
func seedDatabase(report Report, cfg DBConfig) (string, error) {
	schema, err := sanitizeSchema(cfg.Schema)
	if err != nil {
		return "", err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return "", err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return "", err
	}

	if err := ensureSchema(ctx, db, schema); err != nil {
		return "", err
	}

	var count int
	if err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s.racha_runs`, schema)).Scan(&count); err != nil {
		return "", err
	}
	if count > 0 {
		return "", nil
	}

	return storeRunTx(ctx, db, report, schema, cfg.Tag)
}

func storeRunInDB(report Report, cfg DBConfig) (string, error) {
	schema, err := sanitizeSchema(cfg.Schema)
	if err != nil {
		return "", err
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return "", err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return "", err
	}

	if err := ensureSchema(ctx, db, schema); err != nil {
		return "", err
	}

	return storeRunTx(ctx, db, report, schema, cfg.Tag)
}

func storeRunTx(ctx context.Context, db *sql.DB, report Report, schema string, tag string) (string, error) {
	runID := uuid.New()
	fechaBase, err := time.Parse("2006-01-02", report.Summary.FechaBase)
	if err != nil {
		return "", err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.racha_runs (
			id, fecha_base, min_months, historia_rows, skipped_rows,
			negative_balances, withdrawal_records, total_clients,
			qualifying_clients, run_tag
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,
			$9,$10
		)`, schema),
		runID,
		dateOnly(fechaBase),
		report.Summary.MinMonths,
		report.Summary.HistoriaRows,
		report.Summary.SkippedRows,
		report.Summary.NegativeBalances,
		report.Summary.WithdrawalRecords,
		report.Summary.TotalClients,
		report.Summary.QualifyingClients,
		nullString(tag),
	)
	if err != nil {
		_ = tx.Rollback()
		return "", err
	}

	insertResultSQL := fmt.Sprintf(`
		INSERT INTO %s.racha_results (
			id, run_id, identificacion, racha, fecha_fin, nivel
		) VALUES (
			$1,$2,$3,$4,$5,$6
		)`, schema)

	for _, row := range report.Results {
		_, err = tx.ExecContext(ctx, insertResultSQL,
			uuid.New(),
			runID,
			row.ClientID,
			row.Length,
			row.EndMonth,
			row.Level.String(),
		)
		if err != nil {
			_ = tx.Rollback()
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID.String(), nil
}

func ensureSchema(ctx context.Context, db *sql.DB, schema string) error {
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return err
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.racha_runs (
			id uuid PRIMARY KEY,
			fecha_base date NOT NULL,
			min_months integer NOT NULL,
			historia_rows integer NOT NULL,
			skipped_rows integer NOT NULL,
			negative_balances integer NOT NULL,
			withdrawal_records integer NOT NULL,
			total_clients integer NOT NULL,
			qualifying_clients integer NOT NULL,
			run_tag text,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema))
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.racha_results (
			id uuid PRIMARY KEY,
			run_id uuid NOT NULL REFERENCES %s.racha_runs(id) ON DELETE CASCADE,
			identificacion text NOT NULL,
			racha integer NOT NULL,
			fecha_fin date NOT NULL,
			nivel text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, schema, schema))
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_racha_results_run_idx ON %s.racha_results (run_id)`, schema, schema))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_racha_results_nivel_idx ON %s.racha_results (nivel)`, schema, schema))
	return err
}

func nullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
