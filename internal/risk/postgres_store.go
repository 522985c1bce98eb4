package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(db, "postgres")}
}

type assessmentRow struct {
	ID               string         `db:"id"`
	TransferID       sql.NullString `db:"transfer_id"`
	SenderAccountID  string         `db:"sender_account_id"`
	Features         []byte         `db:"features"`
	FraudProbability *float64       `db:"fraud_probability"`
	RiskLevel        sql.NullString `db:"risk_level"`
	Action           sql.NullString `db:"action"`
	ModelVersion     sql.NullString `db:"model_version"`
	Error            sql.NullString `db:"error"`
	EvaluatedAt      sql.NullTime   `db:"evaluated_at"`
}

func (r *assessmentRow) toAssessment() *Assessment {
	a := &Assessment{
		ID:               r.ID,
		TransferID:       r.TransferID.String,
		SenderAccountID:  r.SenderAccountID,
		FraudProbability: r.FraudProbability,
		RiskLevel:        Level(r.RiskLevel.String),
		Action:           Action(r.Action.String),
		ModelVersion:     r.ModelVersion.String,
		Error:            r.Error.String,
		EvaluatedAt:      r.EvaluatedAt.Time,
	}
	_ = json.Unmarshal(r.Features, &a.Features)
	return a
}

const assessmentColumns = `id, transfer_id, sender_account_id, features, fraud_probability,
	risk_level, action, model_version, error, evaluated_at`

func (s *PostgresStore) Record(ctx context.Context, assessment *Assessment) error {
	featuresJSON, err := json.Marshal(assessment.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (`+assessmentColumns+`)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10)
	`,
		assessment.ID,
		assessment.TransferID,
		assessment.SenderAccountID,
		featuresJSON,
		assessment.FraudProbability,
		string(assessment.RiskLevel),
		string(assessment.Action),
		assessment.ModelVersion,
		assessment.Error,
		assessment.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByTransfer(ctx context.Context, transferID string) ([]*Assessment, error) {
	var rows []assessmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE transfer_id = $1
		ORDER BY evaluated_at DESC
	`, transferID)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	return toAssessments(rows), nil
}

func (s *PostgresStore) ListBySender(ctx context.Context, senderAccountID string, limit int) ([]*Assessment, error) {
	var rows []assessmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE sender_account_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, senderAccountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	return toAssessments(rows), nil
}

func (s *PostgresStore) ListSince(ctx context.Context, since time.Time, limit int) ([]*Assessment, error) {
	var rows []assessmentRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+assessmentColumns+`
		FROM risk_assessments
		WHERE evaluated_at >= $1
		ORDER BY evaluated_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", err)
	}
	return toAssessments(rows), nil
}

func toAssessments(rows []assessmentRow) []*Assessment {
	result := make([]*Assessment, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toAssessment())
	}
	return result
}
