package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"treasuryd/internal/market/quality"
	"treasuryd/internal/types"
)

// Storage persists market snapshots and their quality reports. The store is
// append-only: one row per ingestion cycle, queryable by recency.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a new storage instance
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// SaveSnapshot persists a snapshot together with its quality report
func (s *Storage) SaveSnapshot(ctx context.Context, snapshot *types.Snapshot, report *quality.Report) error {
	readingsJSON, err := json.Marshal(snapshot.Readings)
	if err != nil {
		return fmt.Errorf("failed to marshal readings: %w", err)
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal quality report: %w", err)
	}

	query := `
		INSERT INTO market_snapshots (cycle_id, captured_at, readings, quality_report, quality_score, passed_validation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (cycle_id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query,
		snapshot.ID,
		snapshot.Timestamp,
		readingsJSON,
		reportJSON,
		report.QualityScore,
		report.PassedValidation,
		time.Now(),
	)

	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// GetRecentSnapshots retrieves the most recent snapshots, newest first
func (s *Storage) GetRecentSnapshots(ctx context.Context, limit int) ([]*types.Snapshot, error) {
	query := `
		SELECT cycle_id, captured_at, readings
		FROM market_snapshots
		ORDER BY captured_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*types.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// GetLatestSnapshot retrieves the most recent snapshot, or nil when the
// store is empty.
func (s *Storage) GetLatestSnapshot(ctx context.Context) (*types.Snapshot, error) {
	snapshots, err := s.GetRecentSnapshots(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, nil
	}
	return snapshots[0], nil
}

// GetQualityReport retrieves the quality report persisted for a cycle
func (s *Storage) GetQualityReport(ctx context.Context, cycleID string) (*quality.Report, error) {
	query := `SELECT quality_report FROM market_snapshots WHERE cycle_id = $1`

	var reportJSON []byte
	err := s.db.QueryRowContext(ctx, query, cycleID).Scan(&reportJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no report for cycle %s", cycleID)
		}
		return nil, fmt.Errorf("failed to query quality report: %w", err)
	}

	var report quality.Report
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		return nil, fmt.Errorf("failed to parse quality report: %w", err)
	}

	return &report, nil
}

// DeleteOlderThan removes snapshots past the retention window
func (s *Storage) DeleteOlderThan(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM market_snapshots WHERE captured_at < $1", cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup old snapshots: %w", err)
	}

	return nil
}

func scanSnapshot(rows *sql.Rows) (*types.Snapshot, error) {
	var snapshot types.Snapshot
	var readingsJSON []byte

	if err := rows.Scan(&snapshot.ID, &snapshot.Timestamp, &readingsJSON); err != nil {
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	if err := json.Unmarshal(readingsJSON, &snapshot.Readings); err != nil {
		return nil, fmt.Errorf("failed to parse readings: %w", err)
	}

	return &snapshot, nil
}
