package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Stats aggregates the recorded calls of one operation.
type Stats struct {
	Operation     string         `json:"operation" yaml:"operation"`
	Method        string         `json:"method" yaml:"method"`
	TotalCalls    int            `json:"total_calls" yaml:"total_calls"`
	SuccessCount  int            `json:"success" yaml:"success"`
	ErrorCount    int            `json:"errors" yaml:"errors"`
	NetworkErrors int            `json:"network_errors" yaml:"network_errors"` // no response at all (status code 0)
	AvgDurationMs float64        `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	MinDurationMs int64          `json:"min_duration_ms" yaml:"min_duration_ms"`
	MaxDurationMs int64          `json:"max_duration_ms" yaml:"max_duration_ms"`
	TotalRespSize int64          `json:"total_response_size" yaml:"total_response_size"`
	StatusCodes   map[int]int    `json:"status_codes" yaml:"status_codes"`
	ErrorKinds    map[string]int `json:"error_kinds,omitempty" yaml:"error_kinds,omitempty"`
	LastCalled    time.Time      `json:"last_called" yaml:"last_called"`
}

// SuccessRate returns the share of 2xx calls as a percentage.
func (s Stats) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalCalls) * 100
}

// Manager reads statistics from the call history table.
type Manager struct {
	db *sql.DB
}

func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// StatsPerOperation groups the history by operation and method. An empty
// profile aggregates all profiles.
func (m *Manager) StatsPerOperation(ctx context.Context, profile string) ([]Stats, error) {
	// Status codes and error kinds are folded into JSON objects so the whole
	// report is a single query.
	query := `
		WITH status_codes_agg AS (
			SELECT
				operation,
				method,
				json_group_object(CAST(status_code AS TEXT), count) AS status_codes_json
			FROM (
				SELECT operation, method, status_code, COUNT(*) AS count
				FROM calls
				WHERE ? = '' OR profile_name = ?
				GROUP BY operation, method, status_code
			)
			GROUP BY operation, method
		),
		error_kinds_agg AS (
			SELECT
				operation,
				method,
				json_group_object(error_kind, count) AS error_kinds_json
			FROM (
				SELECT operation, method, error_kind, COUNT(*) AS count
				FROM calls
				WHERE error_kind != '' AND (? = '' OR profile_name = ?)
				GROUP BY operation, method, error_kind
			)
			GROUP BY operation, method
		)
		SELECT
			c.operation,
			c.method,
			COUNT(*) AS total_calls,
			SUM(CASE WHEN c.status_code >= 200 AND c.status_code < 300 AND COALESCE(c.error, '') = '' THEN 1 ELSE 0 END) AS success_count,
			SUM(CASE WHEN c.status_code >= 400 OR COALESCE(c.error, '') != '' THEN 1 ELSE 0 END) AS error_count,
			SUM(CASE WHEN c.status_code = 0 THEN 1 ELSE 0 END) AS network_errors,
			AVG(c.duration_ms) AS avg_duration,
			MIN(c.duration_ms) AS min_duration,
			MAX(c.duration_ms) AS max_duration,
			SUM(c.response_size) AS total_resp_size,
			MAX(c.timestamp) AS last_called,
			COALESCE(s.status_codes_json, '{}') AS status_codes_json,
			COALESCE(e.error_kinds_json, '{}') AS error_kinds_json
		FROM calls c
		LEFT JOIN status_codes_agg s ON c.operation = s.operation AND c.method = s.method
		LEFT JOIN error_kinds_agg e ON c.operation = e.operation AND c.method = e.method
		WHERE ? = '' OR c.profile_name = ?
		GROUP BY c.operation, c.method
		ORDER BY last_called DESC, c.operation
	`

	rows, err := m.db.QueryContext(ctx, query, profile, profile, profile, profile, profile, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats per operation: %w", err)
	}
	defer rows.Close()

	var statsList []Stats
	for rows.Next() {
		var s Stats
		var lastCalled sql.NullString
		var statusCodesJSON, errorKindsJSON string

		err := rows.Scan(
			&s.Operation,
			&s.Method,
			&s.TotalCalls,
			&s.SuccessCount,
			&s.ErrorCount,
			&s.NetworkErrors,
			&s.AvgDurationMs,
			&s.MinDurationMs,
			&s.MaxDurationMs,
			&s.TotalRespSize,
			&lastCalled,
			&statusCodesJSON,
			&errorKindsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}

		if lastCalled.Valid {
			s.LastCalled = parseTimestamp(lastCalled.String)
		}

		s.StatusCodes, err = parseStatusCodes(statusCodesJSON)
		if err != nil {
			return nil, err
		}
		if errorKindsJSON != "{}" {
			if err := json.Unmarshal([]byte(errorKindsJSON), &s.ErrorKinds); err != nil {
				return nil, fmt.Errorf("failed to unmarshal error kinds: %w", err)
			}
		}

		statsList = append(statsList, s)
	}

	return statsList, rows.Err()
}

func parseStatusCodes(raw string) (map[int]int, error) {
	codes := make(map[int]int)
	if raw == "{}" {
		return codes, nil
	}
	var byText map[string]int
	if err := json.Unmarshal([]byte(raw), &byText); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status codes: %w", err)
	}
	for text, count := range byText {
		if code, err := strconv.Atoi(text); err == nil {
			codes[code] = count
		}
	}
	return codes, nil
}

// History timestamps are written in UTC without a zone.
func parseTimestamp(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
