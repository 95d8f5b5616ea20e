package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/pkg/logger"
)

type fakeEnqueuer struct {
	jobs []model.Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job model.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

const samplePayload = `{
	"entry": [{
		"changes": [{
			"value": {
				"messages": [
					{"from": "27821234567", "type": "text", "text": {"body": "hello"}},
					{"from": "27829999999", "type": "image"},
					{"from": "27828888888", "type": "text", "text": {"body": "second"}}
				]
			}
		}]
	}]
}`

func TestVerifyHandshake(t *testing.T) {
	h := NewHandler(&fakeEnqueuer{}, "secret-token", logger.NewNop())

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestVerifyRejectsBadToken(t *testing.T) {
	h := NewHandler(&fakeEnqueuer{}, "secret-token", logger.NewNop())

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.Verify(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReceiveEnqueuesTextMessages(t *testing.T) {
	q := &fakeEnqueuer{}
	h := NewHandler(q, "secret-token", logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(samplePayload))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, q.jobs, 2, "only text messages become jobs")
	assert.Equal(t, "27821234567", q.jobs[0].Recipient)
	assert.Equal(t, "hello", q.jobs[0].Text)
	assert.Equal(t, "second", q.jobs[1].Text)
}

func TestReceiveRejectsBadJSON(t *testing.T) {
	h := NewHandler(&fakeEnqueuer{}, "secret-token", logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiveSkipsEmptyText(t *testing.T) {
	q := &fakeEnqueuer{}
	h := NewHandler(q, "secret-token", logger.NewNop())

	body := `{"entry":[{"changes":[{"value":{"messages":[
		{"from": "u1", "type": "text", "text": {"body": ""}}
	]}}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Receive(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, q.jobs)
}

func TestAcceptable(t *testing.T) {
	assert.True(t, acceptable("hello"))
	assert.False(t, acceptable(""))
	assert.False(t, acceptable(string([]byte{0xff, 0xfe})))
	assert.False(t, acceptable(strings.Repeat("a", maxMessageLength+1)))
	assert.True(t, acceptable(strings.Repeat("a", maxMessageLength)))
}
