package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sensorfleet/deploy-console/internal/models"
)

// CreateActivity creates an activity log entry
func (s *PostgresStore) CreateActivity(ctx context.Context, activity *models.ActivityLog) error {
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}

	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO activity_logs (
			id, created_at, network, device_name, operator,
			type, level, description, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		activity.ID, activity.CreatedAt, activity.Network, activity.DeviceName,
		activity.Operator, activity.Type, activity.Level,
		activity.Description, activity.Details,
	)

	return err
}

// ListActivities lists activity logs with filters, newest first
func (s *PostgresStore) ListActivities(ctx context.Context, filters ActivityFilters, limit, offset int) ([]*models.ActivityLog, int64, error) {
	// Build query with filters
	query := "SELECT COUNT(*) FROM activity_logs WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.Network != nil {
		argCount++
		query += fmt.Sprintf(" AND network = $%d", argCount)
		args = append(args, *filters.Network)
	}

	if filters.DeviceName != nil {
		argCount++
		query += fmt.Sprintf(" AND device_name = $%d", argCount)
		args = append(args, *filters.DeviceName)
	}

	if filters.Type != nil {
		argCount++
		query += fmt.Sprintf(" AND type = $%d", argCount)
		args = append(args, *filters.Type)
	}

	if filters.Level != nil {
		argCount++
		query += fmt.Sprintf(" AND level = $%d", argCount)
		args = append(args, *filters.Level)
	}

	if filters.StartTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}

	if filters.EndTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	// Get count
	var count int64
	err := s.getDB().QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	// Get rows
	selectQuery := strings.Replace(query, "SELECT COUNT(*)",
		"SELECT id, created_at, network, device_name, operator, type, level, description, details", 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.getDB().QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var activities []*models.ActivityLog
	for rows.Next() {
		activity := &models.ActivityLog{}

		err := rows.Scan(
			&activity.ID, &activity.CreatedAt, &activity.Network, &activity.DeviceName,
			&activity.Operator, &activity.Type, &activity.Level,
			&activity.Description, &activity.Details,
		)
		if err != nil {
			return nil, 0, err
		}

		activities = append(activities, activity)
	}

	return activities, count, rows.Err()
}
