package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"formsave/internal/answers/model"
	"formsave/internal/answers/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	docID, userID string
	event         model.VersionEvent
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) PublishVersion(docID, userID string, event model.VersionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{docID, userID, event})
}

var now = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newTestService() (*AnswerService, *recordingNotifier) {
	hub := &recordingNotifier{}
	svc := NewAnswerService(repository.NewMemoryRepository(), hub)
	svc.Now = func() time.Time { return now }
	return svc, hub
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	doc, err := svc.CreateDocument(ctx, "user1", model.Answers{"q1": "a"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, int64(0), doc.Version)
	assert.Equal(t, now, doc.UpdatedAt)

	got, err := svc.GetDocument(ctx, "user1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Answers{"q1": "a"}, got.Answers)

	_, err = svc.GetDocument(ctx, "user2", doc.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetDocument(ctx, "user1", "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSaveCommitsAndPublishes(t *testing.T) {
	ctx := context.Background()
	svc, hub := newTestService()
	doc, err := svc.CreateDocument(ctx, "user1", nil)
	require.NoError(t, err)

	res, err := svc.SaveAnswers(ctx, "user1", doc.ID, model.SaveRequest{Answers: model.Answers{"q1": "a"}, ClientVersion: 0})
	require.NoError(t, err)
	require.Nil(t, res.Conflict)
	assert.Equal(t, int64(1), res.Document.Version)

	require.Len(t, hub.events, 1)
	assert.Equal(t, doc.ID, hub.events[0].docID)
	assert.Equal(t, "user1", hub.events[0].userID)
	assert.Equal(t, int64(1), hub.events[0].event.Version)
}

func TestSaveWithStaleVersionReturnsConflict(t *testing.T) {
	ctx := context.Background()
	svc, hub := newTestService()
	doc, err := svc.CreateDocument(ctx, "user1", nil)
	require.NoError(t, err)

	_, err = svc.SaveAnswers(ctx, "user1", doc.ID, model.SaveRequest{Answers: model.Answers{"q1": "a"}, ClientVersion: 0})
	require.NoError(t, err)

	res, err := svc.SaveAnswers(ctx, "user1", doc.ID, model.SaveRequest{Answers: model.Answers{"q1": "b"}, ClientVersion: 0})
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.Nil(t, res.Document)
	assert.Equal(t, model.Latest{Version: 1, UpdatedAt: now, Answers: model.Answers{"q1": "a"}}, *res.Conflict)
	assert.Len(t, hub.events, 1, "conflicts are not published")
}

func TestSaveRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	doc, err := svc.CreateDocument(ctx, "user1", nil)
	require.NoError(t, err)

	_, err = svc.SaveAnswers(ctx, "user1", doc.ID, model.SaveRequest{ClientVersion: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.SaveAnswers(ctx, "user1", doc.ID, model.SaveRequest{Answers: model.Answers{}, ClientVersion: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.SaveAnswers(ctx, "user2", doc.ID, model.SaveRequest{Answers: model.Answers{}, ClientVersion: 0})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.SaveAnswers(ctx, "user1", "missing", model.SaveRequest{Answers: model.Answers{}, ClientVersion: 0})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
