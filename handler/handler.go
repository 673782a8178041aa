// Package handler exposes the usecases as an API Gateway proxy integration.
//
// Routes:
//
//	GET  /health
//	POST /login        {"username"}            -> {"user_id","summary"}
//	GET  /prompt/{id}                          -> persona as text/plain
//	POST /prompt/{id}  {"new_prompt"}          -> {"prompt"}
//	GET  /summary/{id}                         -> {"summary"}
//	POST /chat         {"user_id","message"}   -> {"reply","user_id"}
//
// Errors are {"error": CODE}. A blank username, message or new_prompt is
// rejected with 400 INVALID_INPUT and nothing is stored. Unknown users and
// missing summaries are 404, a chat turn for an unknown user is 401, and any
// other failure is an opaque 500 INTERNAL.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"psych-agent/internal/observe"
	"psych-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Error codes produced by the router itself rather than a usecase.
const (
	codeRouteNotFound    = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	codeBodyTooLarge     = "PAYLOAD_TOO_LARGE"
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type UserUseCase interface {
	Login(ctx context.Context, username string) (usecase.LoginOutput, error)
	GetSummary(ctx context.Context, userID int64) (string, error)
	GetPersona(ctx context.Context, userID int64) (string, error)
	SetPersona(ctx context.Context, userID int64, text string) (string, error)
}

type Handler struct {
	chat  ChatUseCase
	users UserUseCase
}

func NewHandler(chat ChatUseCase, users UserUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat usecase must not be nil")
	}
	if users == nil {
		return nil, errors.New("handler: user usecase must not be nil")
	}
	return &Handler{chat: chat, users: users}, nil
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	UserID  int64   `json:"user_id"`
	Summary *string `json:"summary"`
}

type promptUpdateRequest struct {
	NewPrompt string `json:"new_prompt"`
}

type promptResponse struct {
	Prompt string `json:"prompt"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

type chatRequest struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply  string `json:"reply"`
	UserID int64  `json:"user_id"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle routes one proxy request. Failures are always expressed as HTTP
// responses, so the returned error is nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ctx, span := observe.StartSpan(ctx, "HTTP "+req.HTTPMethod+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("correlation_id", correlationID)),
	)
	defer span.End()

	resp := h.route(ctx, req)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	observe.Logger(ctx).Info("request handled",
		"method", req.HTTPMethod,
		"path", req.Path,
		"status", resp.StatusCode,
		"correlation_id", correlationID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	segments := strings.Split(strings.Trim(req.Path, "/"), "/")

	switch {
	case len(segments) == 1 && segments[0] == "health":
		return allow(req, []string{http.MethodGet}, func() events.APIGatewayProxyResponse {
			return jsonResponse(http.StatusOK, healthResponse{Status: "ok"})
		})
	case len(segments) == 1 && segments[0] == "login":
		return allow(req, []string{http.MethodPost}, func() events.APIGatewayProxyResponse {
			return h.login(ctx, req)
		})
	case len(segments) == 1 && segments[0] == "chat":
		return allow(req, []string{http.MethodPost}, func() events.APIGatewayProxyResponse {
			return h.chatTurn(ctx, req)
		})
	case len(segments) == 2 && segments[0] == "prompt":
		return allow(req, []string{http.MethodGet, http.MethodPost}, func() events.APIGatewayProxyResponse {
			id, ok := parseUserID(segments[1])
			if !ok {
				return errorCodeResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput))
			}
			if req.HTTPMethod == http.MethodGet {
				return h.getPrompt(ctx, id)
			}
			return h.setPrompt(ctx, id, req)
		})
	case len(segments) == 2 && segments[0] == "summary":
		return allow(req, []string{http.MethodGet}, func() events.APIGatewayProxyResponse {
			id, ok := parseUserID(segments[1])
			if !ok {
				return errorCodeResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput))
			}
			return h.getSummary(ctx, id)
		})
	}
	return errorCodeResponse(http.StatusNotFound, codeRouteNotFound)
}

func allow(req events.APIGatewayProxyRequest, methods []string, next func() events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	for _, m := range methods {
		if req.HTTPMethod == m {
			return next()
		}
	}
	resp := errorCodeResponse(http.StatusMethodNotAllowed, codeMethodNotAllowed)
	resp.Headers["Allow"] = strings.Join(methods, ", ")
	return resp
}

func (h *Handler) login(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in loginRequest
	if err := decodeBody(req, &in); err != nil {
		return errorCodeResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput))
	}
	out, err := h.users.Login(ctx, in.Username)
	if err != nil {
		return errorResponseFor(ctx, err)
	}
	return jsonResponse(http.StatusOK, loginResponse{UserID: out.UserID, Summary: out.Summary})
}

func (h *Handler) getPrompt(ctx context.Context, userID int64) events.APIGatewayProxyResponse {
	persona, err := h.users.GetPersona(ctx, userID)
	if err != nil {
		return errorResponseFor(ctx, err)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       persona,
	}
}

func (h *Handler) setPrompt(ctx context.Context, userID int64, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in promptUpdateRequest
	if err := decodeBody(req, &in); err != nil {
		return errorCodeResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput))
	}
	prompt, err := h.users.SetPersona(ctx, userID, in.NewPrompt)
	if err != nil {
		return errorResponseFor(ctx, err)
	}
	return jsonResponse(http.StatusOK, promptResponse{Prompt: prompt})
}

func (h *Handler) getSummary(ctx context.Context, userID int64) events.APIGatewayProxyResponse {
	summary, err := h.users.GetSummary(ctx, userID)
	if err != nil {
		return errorResponseFor(ctx, err)
	}
	return jsonResponse(http.StatusOK, summaryResponse{Summary: summary})
}

func (h *Handler) chatTurn(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := decodeBody(req, &in); err != nil {
		return errorCodeResponse(http.StatusBadRequest, string(usecase.ErrorInvalidInput))
	}
	out, err := h.chat.Chat(ctx, usecase.ChatInput{UserID: in.UserID, Message: in.Message})
	if err != nil {
		return errorResponseFor(ctx, err)
	}
	return jsonResponse(http.StatusOK, chatResponse{Reply: out.Reply, UserID: out.UserID})
}

func decodeBody(req events.APIGatewayProxyRequest, dst any) error {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return err
		}
		body = decoded
	}
	return json.Unmarshal(body, dst)
}

func parseUserID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// errorResponseFor maps usecase errors to status codes. Details stay in the
// log; the body only carries the code.
func errorResponseFor(ctx context.Context, err error) events.APIGatewayProxyResponse {
	ue, ok := usecase.AsError(err)
	if !ok {
		observe.Logger(ctx).Error("unexpected error", "err", err)
		return errorCodeResponse(http.StatusInternalServerError, string(usecase.ErrorInternal))
	}

	status := http.StatusInternalServerError
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorUnauthorized:
		status = http.StatusUnauthorized
	}

	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	observe.Logger(ctx).Log(ctx, level, "request failed", "code", ue.Code, "reason", ue.Reason, "err", ue.Err)

	if status == http.StatusInternalServerError {
		return errorCodeResponse(status, string(usecase.ErrorInternal))
	}
	return errorCodeResponse(status, string(ue.Code))
}

func errorCodeResponse(status int, code string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code})
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
