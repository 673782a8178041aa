package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"psych-agent/internal/usecase"
)

type stubChat struct {
	out usecase.ChatOutput
	err error
	in  usecase.ChatInput
}

func (s *stubChat) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.in = in
	return s.out, s.err
}

type stubUsers struct {
	login     usecase.LoginOutput
	summary   string
	persona   string
	err       error
	lastName  string
	lastID    int64
	lastText  string
	lastCalls []string
}

func (s *stubUsers) Login(_ context.Context, username string) (usecase.LoginOutput, error) {
	s.lastCalls = append(s.lastCalls, "Login")
	s.lastName = username
	return s.login, s.err
}

func (s *stubUsers) GetSummary(_ context.Context, userID int64) (string, error) {
	s.lastCalls = append(s.lastCalls, "GetSummary")
	s.lastID = userID
	return s.summary, s.err
}

func (s *stubUsers) GetPersona(_ context.Context, userID int64) (string, error) {
	s.lastCalls = append(s.lastCalls, "GetPersona")
	s.lastID = userID
	return s.persona, s.err
}

func (s *stubUsers) SetPersona(_ context.Context, userID int64, text string) (string, error) {
	s.lastCalls = append(s.lastCalls, "SetPersona")
	s.lastID = userID
	s.lastText = text
	return text, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, chat *stubChat, users *stubUsers) *Handler {
	t.Helper()
	h, err := NewHandler(chat, users)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubUsers{})
	require.Error(t, err)
	_, err = NewHandler(&stubChat{}, nil)
	require.Error(t, err)
}

func TestHandle_Login(t *testing.T) {
	summary := "so far"
	users := &stubUsers{login: usecase.LoginOutput{UserID: 1, Summary: &summary}}
	h := newTestHandler(t, &stubChat{}, users)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/login", `{"username":"alice"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "alice", users.lastName)
	require.JSONEq(t, `{"user_id":1,"summary":"so far"}`, resp.Body)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_LoginWithoutSummaryReturnsNull(t *testing.T) {
	users := &stubUsers{login: usecase.LoginOutput{UserID: 1}}
	h := newTestHandler(t, &stubChat{}, users)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/login", `{"username":"alice"}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"user_id":1,"summary":null}`, resp.Body)
}

func TestHandle_GetPromptIsPlainText(t *testing.T) {
	users := &stubUsers{persona: "You are kind."}
	h := newTestHandler(t, &stubChat{}, users)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/prompt/7", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "You are kind.", resp.Body)
	require.Contains(t, resp.Headers["Content-Type"], "text/plain")
	require.Equal(t, int64(7), users.lastID)
}

func TestHandle_SetPrompt(t *testing.T) {
	users := &stubUsers{}
	h := newTestHandler(t, &stubChat{}, users)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/prompt/7", `{"new_prompt":"Be brief."}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"prompt":"Be brief."}`, resp.Body)
	require.Equal(t, "Be brief.", users.lastText)
}

func TestHandle_SetPromptBlankIsInvalidInput(t *testing.T) {
	users := &stubUsers{err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_prompt"}}
	h := newTestHandler(t, &stubChat{}, users)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/prompt/7", `{"new_prompt":" "}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.JSONEq(t, `{"error":"INVALID_INPUT"}`, resp.Body)
}

func TestHandle_GetSummary(t *testing.T) {
	users := &stubUsers{summary: "Alice feels stuck."}
	h := newTestHandler(t, &stubChat{}, users)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/summary/1/", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"summary":"Alice feels stuck."}`, resp.Body)
}

func TestHandle_Chat(t *testing.T) {
	chat := &stubChat{out: usecase.ChatOutput{Reply: "Let's explore that.", UserID: 1}}
	h := newTestHandler(t, chat, &stubUsers{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"user_id":1,"message":"I feel stuck"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{UserID: 1, Message: "I feel stuck"}, chat.in)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "Let's explore that.", out.Reply)
	require.Equal(t, int64(1), out.UserID)
}

func TestHandle_Base64Body(t *testing.T) {
	chat := &stubChat{out: usecase.ChatOutput{Reply: "ok", UserID: 2}}
	h := newTestHandler(t, chat, &stubUsers{})

	event := makeEvent(http.MethodPost, "/chat", base64.StdEncoding.EncodeToString([]byte(`{"user_id":2,"message":"hi"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(2), chat.in.UserID)
}

func TestHandle_Health(t *testing.T) {
	h := newTestHandler(t, &stubChat{}, &stubUsers{})
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/health", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body)
}

func TestHandle_RoutingErrors(t *testing.T) {
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, "NOT_FOUND"},
		{"nested unknown", http.MethodGet, "/summary/1/extra", "", http.StatusNotFound, "NOT_FOUND"},
		{"wrong method login", http.MethodGet, "/login", "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"wrong method summary", http.MethodDelete, "/summary/1", "", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"non numeric id", http.MethodGet, "/prompt/abc", "", http.StatusBadRequest, "INVALID_INPUT"},
		{"bad json login", http.MethodPost, "/login", "not-json", http.StatusBadRequest, "INVALID_INPUT"},
		{"bad json chat", http.MethodPost, "/chat", `{"user_id":"one"}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad json prompt", http.MethodPost, "/prompt/1", `{`, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users := &stubUsers{}
			h := newTestHandler(t, &stubChat{}, users)

			resp, err := h.Handle(context.Background(), makeEvent(tc.method, tc.path, tc.body))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, parseBody[errorResponse](t, resp.Body).Error)
			require.Empty(t, users.lastCalls)
		})
	}
}

func TestHandle_MethodNotAllowedListsAllowed(t *testing.T) {
	h := newTestHandler(t, &stubChat{}, &stubUsers{})
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPut, "/prompt/1", ""))
	require.NoError(t, err)
	require.Equal(t, "GET, POST", resp.Headers["Allow"])
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "unauthorized", err: &usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "unknown_user"}, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "user_not_found"}, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "generation_reply_error", Err: errors.New("sk-secret leaked?")}, status: http.StatusInternalServerError, code: "INTERNAL"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "INTERNAL"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubChat{err: tc.err}, &stubUsers{})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"user_id":1,"message":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.JSONEq(t, `{"error":"`+tc.code+`"}`, resp.Body)
		})
	}
}

func TestHandle_NotFoundFromUserUseCases(t *testing.T) {
	notFound := &usecase.Error{Code: usecase.ErrorNotFound, Reason: "summary_not_found"}
	h := newTestHandler(t, &stubChat{}, &stubUsers{err: notFound})

	for _, ev := range []events.APIGatewayProxyRequest{
		makeEvent(http.MethodGet, "/summary/9", ""),
		makeEvent(http.MethodGet, "/prompt/9", ""),
		makeEvent(http.MethodPost, "/prompt/9", `{"new_prompt":"x"}`),
	} {
		resp, err := h.Handle(context.Background(), ev)
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, ev.HTTPMethod+" "+ev.Path)
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubChat{out: usecase.ChatOutput{Reply: "ok", UserID: 1}}, &stubUsers{})

	event := makeEvent(http.MethodPost, "/chat", `{"user_id":1,"message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_CorrelationIDOnErrors(t *testing.T) {
	h := newTestHandler(t, &stubChat{}, &stubUsers{})
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/nope", ""))
	require.NoError(t, err)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}
