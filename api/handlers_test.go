package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindflow/account"
	"remindflow/auth"
	"remindflow/consent"
	"remindflow/deadline"
	"remindflow/logger"
	"remindflow/outbox"
	"remindflow/reminder"
)

const (
	entityID          = "6f1c2b9e-3d4a-4f6b-9a51-0c2e8d7b1a01"
	deadlineID        = "0b8e4c2d-7a19-4e35-b6f0-93d1c5a8e702"
	missingDeadlineID = "0b8e4c2d-7a19-4e35-b6f0-93d1c5a8e7ff"
	contactID         = "c3a9f7d1-52e8-4b0c-8d46-1f7e2a9b6c03"
)

type stubDeadlines struct {
	generated deadline.GenerateResult
	genErr    error
	filed     deadline.MarkFiledResult
	fileErr   error
	proofRef  *string
}

func (s *stubDeadlines) GenerateForEntity(_ context.Context, _ string) (deadline.GenerateResult, error) {
	return s.generated, s.genErr
}

func (s *stubDeadlines) MarkFiled(_ context.Context, id string, proofRef *string) (deadline.MarkFiledResult, error) {
	s.proofRef = proofRef
	if s.fileErr != nil {
		return deadline.MarkFiledResult{}, s.fileErr
	}
	res := s.filed
	res.Deadline.ID = id
	return res, nil
}

type stubScheduler struct {
	ids []string
}

func (s *stubScheduler) ScheduleFor(_ context.Context, id string) (reminder.ScheduleResult, error) {
	if id == missingDeadlineID {
		return reminder.ScheduleResult{}, deadline.ErrDeadlineNotFound
	}
	return reminder.ScheduleResult{Created: []reminder.Reminder{{ID: "r1", DeadlineID: id}}}, nil
}

func (s *stubScheduler) ScheduleMany(_ context.Context, ids []string) []reminder.ItemResult {
	s.ids = ids
	out := make([]reminder.ItemResult, 0, len(ids))
	for _, id := range ids {
		out = append(out, reminder.ItemResult{DeadlineID: id, Created: []reminder.Reminder{}})
	}
	return out
}

type stubDrainer struct {
	batchSize int
	workerID  string
}

func (s *stubDrainer) Drain(_ context.Context, batchSize int, workerID string) (reminder.Summary, error) {
	s.batchSize, s.workerID = batchSize, workerID
	return reminder.Summary{Processed: 2, Sent: 1, Failed: 1, Errors: []reminder.ItemError{{ReminderID: "r9", Error: "boom"}}}, nil
}

type stubDispatcher struct {
	workerID string
}

func (s *stubDispatcher) Dispatch(_ context.Context, _ int, workerID string) (outbox.Summary, error) {
	s.workerID = workerID
	return outbox.Summary{Processed: 1, Sent: 1, Errors: []outbox.ItemError{}}, nil
}

type stubGate struct {
	reason   string
	eligible bool
	err      error
}

func (s *stubGate) OptOut(_ context.Context, _ string, reason string) (consent.OptOutResult, error) {
	s.reason = reason
	return consent.OptOutResult{CancelledReminders: 2, CancelledMessages: 1}, s.err
}

func (s *stubGate) OptIn(_ context.Context, _ string, reason string) error {
	s.reason = reason
	return s.err
}

func (s *stubGate) IsEligible(_ context.Context, _ string) (bool, error) {
	return s.eligible, s.err
}

type stubReceipts struct {
	got outbox.Receipt
}

func (s *stubReceipts) Record(_ context.Context, rc outbox.Receipt) (outbox.ReceiptResult, error) {
	s.got = rc
	return outbox.ReceiptResult{Message: outbox.Message{ID: "m1", Status: rc.Status}, Changed: true}, nil
}

type stubProofs struct {
	keys    []string
	removed []string
}

func (s *stubProofs) Put(_ context.Context, deadlineID, filename, _ string, r io.Reader, _ int64) (string, error) {
	_, _ = io.ReadAll(r)
	key := "deadlines/" + deadlineID + "/x-" + filename
	s.keys = append(s.keys, key)
	return key, nil
}

func (s *stubProofs) Remove(_ context.Context, key string) error {
	s.removed = append(s.removed, key)
	return nil
}

type testServer struct {
	app       *fiber.App
	handlers  *Handlers
	tokens    *auth.Service
	deadlines *stubDeadlines
	scheduler *stubScheduler
	drainer   *stubDrainer
	dispatch  *stubDispatcher
	gate      *stubGate
	receipts  *stubReceipts
	proofs    *stubProofs
}

func newTestServer() *testServer {
	s := &testServer{
		tokens:    auth.NewService("test-secret", time.Hour),
		deadlines: &stubDeadlines{},
		scheduler: &stubScheduler{},
		drainer:   &stubDrainer{},
		dispatch:  &stubDispatcher{},
		gate:      &stubGate{eligible: true},
		receipts:  &stubReceipts{},
		proofs:    &stubProofs{},
	}
	h := &Handlers{
		Deadlines:  s.deadlines,
		Scheduler:  s.scheduler,
		Drainer:    s.drainer,
		Dispatcher: s.dispatch,
		Consent:    s.gate,
		Receipts:   s.receipts,
		Proofs:     s.proofs,
		Defaults:   Defaults{BatchSize: 50},
	}
	s.handlers = h
	s.app = NewApp(h, Options{Tokens: s.tokens, ReceiptSecret: "hook-secret", Log: logger.Discard()})
	return s
}

func (s *testServer) do(t *testing.T, role auth.Role, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(fiber.HeaderContentType, contentType)
	}
	if role != "" {
		token, err := s.tokens.IssueToken("tester", role)
		require.NoError(t, err)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (s *testServer) doJSON(t *testing.T, role auth.Role, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	return s.do(t, role, method, path, r, fiber.MIMEApplicationJSON)
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer()
	resp := s.do(t, "", http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutesRequireToken(t *testing.T) {
	s := newTestServer()
	resp := s.doJSON(t, "", http.MethodPost, "/api/v1/reminders/drain", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "UNAUTHORIZED", body.Code)
}

func TestWorkerCannotOptOut(t *testing.T) {
	s := newTestServer()
	resp := s.doJSON(t, auth.RoleWorker, http.MethodPost, "/api/v1/contacts/"+contactID+"/opt-out", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestGenerateDeadlinesMapsErrors(t *testing.T) {
	s := newTestServer()

	s.deadlines.genErr = account.ErrEntityNotFound
	resp := s.doJSON(t, auth.RoleOperator, http.MethodPost, "/api/v1/entities/"+entityID+"/deadlines", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	s.deadlines.genErr = deadline.ErrEntityInactive
	resp = s.doJSON(t, auth.RoleOperator, http.MethodPost, "/api/v1/entities/"+entityID+"/deadlines", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	s.deadlines.genErr = errors.New("db down")
	resp = s.doJSON(t, auth.RoleOperator, http.MethodPost, "/api/v1/entities/"+entityID+"/deadlines", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "Internal server error", body.Message, "internal detail is hidden")

	s.deadlines.genErr = nil
	s.deadlines.generated = deadline.GenerateResult{Created: []deadline.Deadline{{ID: "d1"}}}
	resp = s.doJSON(t, auth.RoleOperator, http.MethodPost, "/api/v1/entities/"+entityID+"/deadlines", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestMarkFiledWithJSONProofRef(t *testing.T) {
	s := newTestServer()
	resp := s.doJSON(t, auth.RoleOperator, http.MethodPost, "/api/v1/deadlines/"+deadlineID+"/filed", `{"proofRef":"ARN-123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res deadline.MarkFiledResult
	decode(t, resp, &res)
	assert.Equal(t, deadlineID, res.Deadline.ID)
	require.NotNil(t, s.deadlines.proofRef)
	assert.Equal(t, "ARN-123", *s.deadlines.proofRef)
}

func TestMarkFiledWithUpload(t *testing.T) {
	s := newTestServer()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("proof", "ack.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.4"))
	require.NoError(t, mw.Close())

	resp := s.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/deadlines/"+deadlineID+"/filed", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, s.proofs.keys, 1)
	assert.Equal(t, s.proofs.keys[0], *s.deadlines.proofRef)
	assert.Empty(t, s.proofs.removed)
}

func TestMarkFiledRemovesUploadWhenAlreadyFiled(t *testing.T) {
	s := newTestServer()
	s.deadlines.filed = deadline.MarkFiledResult{AlreadyFiled: true}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("proof", "ack.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.4"))
	require.NoError(t, mw.Close())

	resp := s.do(t, auth.RoleOperator, http.MethodPost, "/api/v1/deadlines/"+deadlineID+"/filed", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, s.proofs.keys, s.proofs.removed)
}

func TestScheduleDeadline(t *testing.T) {
	s := newTestServer()
	resp := s.doJSON(t, auth.RoleWorker, http.MethodPost, "/api/v1/deadlines/"+deadlineID+"/reminders", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = s.doJSON(t, auth.RoleWorker, http.MethodPost, "/api/v1/deadlines/"+missingDeadlineID+"/reminders", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScheduleMany(t *testing.T) {
	s := newTestServer()
	resp := s.doJSON(t, auth.RoleWorker, http.MethodPost, "/api/v1/reminders/schedule", `{"deadlineIds":["`+deadlineID+`","`+missingDeadlineID+`"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{deadlineID, missingDeadlineID}, s.scheduler.ids)

	resp = s.doJSON(t, auth.RoleWorker, http.MethodPost, "/api/v1/reminders/schedule", `{"deadlineIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s.scheduler.ids = nil
	resp = s.doJSON(t, auth.RoleWorker, http.MethodPost, "/api/v1/reminders/schedule", `{"deadlineIds":["`+deadlineID+`","d2"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, s.scheduler.ids, "scheduler not called")
}

func TestDrainUsesDefaults(t *testing.T) {
	s := newTestServer()
	resp := s.doJSON(t, auth.RoleWorker, http.MethodPost, "/api/v1/reminders/drain", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, s.drainer.batchSize)
	assert.Equal(t, "tester", s.drainer.workerID)

	var sum reminder.Summary
	decode(t, resp, &sum)
	assert.Equal(t, 1, sum.Failed)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "r9", sum.Errors[0].ReminderID)

	resp = s.doJSON(t, auth.RoleWorker, http.MethodPost, "/api/v1/reminders/drain", `{"batchSize":5,"workerId":"cron-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, s.drainer.batchSize)
	assert.Equal(t, "cron-1", s.drainer.workerID)
}

func TestDispatch(t *testing.T) {
	s := newTestServer()
	resp := s.doJSON(t, auth.RoleOperator, http.MethodPost, "/api/v1/outbox/dispatch", `{"workerId":"w2"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "w2", s.dispatch.workerID)
}

func TestOptOutReturnsCounts(t *testing.T) {
	s := newTestServer()
	resp := s.doJSON(t, auth.RoleOperator, http.MethodPost, "/api/v1/contacts/"+contactID+"/opt-out", `{"reason":"STOP reply"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "STOP reply", s.gate.reason)

	var body map[string]any
	decode(t, resp, &body)
	assert.EqualValues(t, 2, body["cancelledReminders"])
	assert.EqualValues(t, 1, body["cancelledMessages"])
	assert.NotContains(t, body, "warnings")
}

func TestEligibilityNotFound(t *testing.T) {
	s := newTestServer()
	s.gate.err = consent.ErrContactNotFound
	resp := s.doJSON(t, auth.RoleWorker, http.MethodGet, "/api/v1/contacts/"+contactID+"/eligibility", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEligibility(t *testing.T) {
	s := newTestServer()
	s.gate.eligible = false
	resp := s.doJSON(t, auth.RoleWorker, http.MethodGet, "/api/v1/contacts/"+contactID+"/eligibility", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]bool
	decode(t, resp, &body)
	assert.False(t, body["eligible"])
}

func TestReceiptRequiresSecret(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/outbox/receipts", strings.NewReader(`{"providerMessageId":"p1","status":"delivered"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/outbox/receipts", strings.NewReader(`{"providerMessageId":"p1","status":"delivered"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(ReceiptSecretHeader, "hook-secret")
	resp, err = s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "p1", s.receipts.got.ProviderMessageID)
	assert.Equal(t, outbox.StatusDelivered, s.receipts.got.Status)
}

func TestMalformedPathIDsAreRejected(t *testing.T) {
	s := newTestServer()
	cases := []struct {
		role   auth.Role
		method string
		path   string
	}{
		{auth.RoleWorker, http.MethodGet, "/api/v1/contacts/abc/eligibility"},
		{auth.RoleOperator, http.MethodPost, "/api/v1/contacts/abc/opt-out"},
		{auth.RoleOperator, http.MethodPost, "/api/v1/contacts/abc/opt-in"},
		{auth.RoleOperator, http.MethodPost, "/api/v1/entities/e1/deadlines"},
		{auth.RoleOperator, http.MethodPost, "/api/v1/deadlines/d1/filed"},
		{auth.RoleWorker, http.MethodPost, "/api/v1/deadlines/d1/reminders"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			resp := s.doJSON(t, tc.role, tc.method, tc.path, "")
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body ErrorResponse
			decode(t, resp, &body)
			assert.Equal(t, "BAD_REQUEST", body.Code)
		})
	}
	assert.Empty(t, s.gate.reason, "consent gate never reached")
}

func TestReceiptWithoutProviderIDIsBadRequest(t *testing.T) {
	s := newTestServer()
	s.handlers.Receipts = outbox.NewReceipts(nil, nil, logger.Discard())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/outbox/receipts", strings.NewReader(`{"providerMessageId":"","status":"delivered"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(ReceiptSecretHeader, "hook-secret")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "BAD_REQUEST", body.Code)
	assert.Contains(t, body.Message, "missing provider message id")
}

func TestServiceValidationErrorsAreBadRequest(t *testing.T) {
	for _, err := range []error{consent.ErrInvalidInput, deadline.ErrInvalidInput, reminder.ErrInvalidInput, outbox.ErrInvalidInput} {
		status, ok := statusFor(fmt.Errorf("%w: missing id", err))
		require.True(t, ok, err.Error())
		assert.Equal(t, http.StatusBadRequest, status)
	}
}
