package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formsave/internal/answers/model"
	"formsave/internal/answers/repository"
	"formsave/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrForbidden      = errors.New("forbidden: answer set belongs to another user")
	ErrInvalidRequest = errors.New("invalid save request")
)

var tracer = otel.Tracer("formsave/answers")

// Store is the document store the service needs. Both the SQL and the
// in-memory repositories satisfy it.
type Store interface {
	Create(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	CompareAndSwap(ctx context.Context, id string, expected int64, answers model.Answers, at time.Time) (*model.Document, error)
}

// Notifier is told about every committed save.
type Notifier interface {
	PublishVersion(docID, userID string, event model.VersionEvent)
}

// SaveResult holds either the committed document or, when the client's
// version was stale, the store's current state.
type SaveResult struct {
	Document *model.Document
	Conflict *model.Latest
}

type AnswerService struct {
	Repo Store
	Hub  Notifier
	Now  func() time.Time
}

func NewAnswerService(repo Store, hub Notifier) *AnswerService {
	return &AnswerService{Repo: repo, Hub: hub, Now: time.Now}
}

func (s *AnswerService) CreateDocument(ctx context.Context, userID string, initial model.Answers) (*model.Document, error) {
	doc := &model.Document{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		Answers:   initial.Clone(),
		Version:   0,
		UpdatedAt: s.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, doc); err != nil {
		return nil, err
	}
	logger.Sugar.Infof("Created answer set %s for user %s", doc.ID, userID)
	return doc, nil
}

func (s *AnswerService) GetDocument(ctx context.Context, userID, docID string) (*model.Document, error) {
	doc, err := s.Repo.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != userID {
		return nil, ErrForbidden
	}
	return doc, nil
}

// SaveAnswers commits req.Answers if req.ClientVersion is still current.
// A stale version is not an error: the result carries the conflict instead.
func (s *AnswerService) SaveAnswers(ctx context.Context, userID, docID string, req model.SaveRequest) (*SaveResult, error) {
	ctx, span := tracer.Start(ctx, "answers.Save", trace.WithAttributes(
		attribute.String("answers.id", docID),
		attribute.Int64("answers.client_version", req.ClientVersion),
	))
	defer span.End()

	result, err := s.save(ctx, userID, docID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("answers.conflict", result.Conflict != nil))
	return result, nil
}

func (s *AnswerService) save(ctx context.Context, userID, docID string, req model.SaveRequest) (*SaveResult, error) {
	if req.Answers == nil {
		return nil, fmt.Errorf("%w: answers are required", ErrInvalidRequest)
	}
	if req.ClientVersion < 0 {
		return nil, fmt.Errorf("%w: clientVersion must not be negative", ErrInvalidRequest)
	}

	if _, err := s.GetDocument(ctx, userID, docID); err != nil {
		return nil, err
	}

	doc, err := s.Repo.CompareAndSwap(ctx, docID, req.ClientVersion, req.Answers, s.Now().UTC())
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) {
		latest := model.LatestOf(conflict.Current)
		logger.Sugar.Infof("Rejected stale save of %s: client version %d, current %d", docID, req.ClientVersion, latest.Version)
		return &SaveResult{Conflict: &latest}, nil
	}
	if err != nil {
		return nil, err
	}

	if s.Hub != nil {
		s.Hub.PublishVersion(docID, userID, model.VersionEvent{Version: doc.Version, UpdatedAt: doc.UpdatedAt})
	}
	return &SaveResult{Document: doc}, nil
}
