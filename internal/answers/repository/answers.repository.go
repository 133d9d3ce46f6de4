package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"formsave/internal/answers/model"
	"formsave/pkg/logger"

	"github.com/lib/pq"
)

// DocumentRepository is the SQL document store. Queries use $n placeholders,
// which both lib/pq and go-sqlite3 accept.
type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	payload, err := encodeAnswers(doc.Answers)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO answer_sets (id, owner_id, answers, version, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.OwnerID, payload, doc.Version, doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		logger.Sugar.Errorf("Failed to create answer set %s: %v", doc.ID, err)
		return fmt.Errorf("create answer set: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Get(ctx context.Context, id string) (*model.Document, error) {
	return getDocument(ctx, r.DB, id)
}

// CompareAndSwap writes answers only if the stored version still equals
// expected, bumping the version by one. When the row has moved on, the
// returned error is a *ConflictError carrying the current row.
func (r *DocumentRepository) CompareAndSwap(ctx context.Context, id string, expected int64, answers model.Answers, at time.Time) (*model.Document, error) {
	payload, err := encodeAnswers(answers)
	if err != nil {
		return nil, err
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		logger.Sugar.Errorf("Failed to begin save transaction for %s: %v", id, err)
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	doc := &model.Document{ID: id, Answers: answers.Clone()}
	err = tx.QueryRowContext(ctx, `
		UPDATE answer_sets SET answers = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4
		RETURNING owner_id, version, updated_at`,
		payload, at, id, expected,
	).Scan(&doc.OwnerID, &doc.Version, &doc.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		current, err := getDocument(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		return nil, &ConflictError{Expected: expected, Current: current}
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to save answer set %s at version %d: %v", id, expected, err)
		return nil, fmt.Errorf("update answer set: %w", err)
	}

	if err := tx.Commit(); err != nil {
		logger.Sugar.Errorf("Failed to commit answer set %s: %v", id, err)
		return nil, fmt.Errorf("commit: %w", err)
	}
	return doc, nil
}

func getDocument(ctx context.Context, q queryer, id string) (*model.Document, error) {
	doc := &model.Document{ID: id}
	var raw []byte
	err := q.QueryRowContext(ctx,
		`SELECT owner_id, answers, version, updated_at FROM answer_sets WHERE id = $1`, id,
	).Scan(&doc.OwnerID, &raw, &doc.Version, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to load answer set %s: %v", id, err)
		return nil, fmt.Errorf("load answer set: %w", err)
	}
	if err := json.Unmarshal(raw, &doc.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of %s: %w", id, err)
	}
	if doc.Answers == nil {
		doc.Answers = model.Answers{}
	}
	return doc, nil
}

// encodeAnswers returns a string so lib/pq sends it as text for the JSONB
// column instead of bytea.
func encodeAnswers(answers model.Answers) (string, error) {
	if answers == nil {
		answers = model.Answers{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
