package listfailed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corray333/message-queue/internal/service/models/message"
)

type fakeService struct {
	failed []message.FailedMessage
	stuck  int64
	err    error
}

func (s *fakeService) FailedMessages(_ context.Context) ([]message.FailedMessage, error) {
	return s.failed, s.err
}

func (s *fakeService) StuckMessageCount(_ context.Context) (int64, error) {
	return s.stuck, s.err
}

func TestListFailed(t *testing.T) {
	msg := message.New([]byte(`{}`), "application/json", "billing", time.Now(), 5, nil)
	msg.Fail(errors.New("downstream unavailable"))
	msg.Fail(errors.New("still down"))

	svc := &fakeService{failed: []message.FailedMessage{{Message: msg, Count: msg.Tries}}}

	rec := httptest.NewRecorder()
	ListFailed(rec, httptest.NewRequest(http.MethodGet, "/api/messages/failed", nil), svc)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp []failedMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, msg.ID, resp[0].ID)
	assert.Equal(t, 2, resp[0].Tries)
	assert.Contains(t, resp[0].Errors, "downstream unavailable")
}

func TestListFailedEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	ListFailed(rec, httptest.NewRequest(http.MethodGet, "/api/messages/failed", nil), &fakeService{})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCountStuck(t *testing.T) {
	svc := &fakeService{stuck: 3}

	rec := httptest.NewRecorder()
	CountStuck(rec, httptest.NewRequest(http.MethodGet, "/api/messages/stuck", nil), svc)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stuck": 3}`, rec.Body.String())
}

func TestListFailedServiceError(t *testing.T) {
	svc := &fakeService{err: errors.New("connection refused")}

	rec := httptest.NewRecorder()
	ListFailed(rec, httptest.NewRequest(http.MethodGet, "/api/messages/failed", nil), svc)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
