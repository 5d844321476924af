package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/temirov/repolens/internal/ingestion"
	"github.com/temirov/repolens/internal/repository"
)

const (
	sessionContextKey = "repolens.session"
	errorFieldName    = "error"
	healthStatusOK    = "ok"

	internalErrorMessage    = "Internal server error."
	unavailableErrorMessage = "Service is shutting down."
	timeoutErrorMessage     = "Request timed out."
	handlerFailedMessage    = "request failed"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Response string `json:"response"`
}

// GenerateResponse is the body returned by POST /generate.
type GenerateResponse struct {
	Markdown string `json:"markdown"`
}

// sessionMiddleware resolves the caller's session, generating one when the header is absent,
// and echoes it back so that clients can keep it.
func sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(echoContext echo.Context) error {
		identifier := echoContext.Request().Header.Get(HeaderSessionID)
		if identifier == "" {
			identifier = uuid.NewString()
		}
		echoContext.Set(sessionContextKey, identifier)
		echoContext.Response().Header().Set(HeaderSessionID, identifier)
		return next(echoContext)
	}
}

func sessionID(echoContext echo.Context) string {
	identifier, _ := echoContext.Get(sessionContextKey).(string)
	return identifier
}

func (server *Server) handleHealth(echoContext echo.Context) error {
	return echoContext.JSON(http.StatusOK, HealthResponse{Status: healthStatusOK})
}

func (server *Server) handleStructure(echoContext echo.Context) error {
	var request StructureRequest
	if bindError := bindAndValidate(echoContext, &request); bindError != nil {
		return bindError
	}
	structure, structureError := server.analyzer.Structure(echoContext.Request().Context(), sessionID(echoContext), request.URL)
	if structureError != nil {
		return structureError
	}
	return echoContext.JSON(http.StatusOK, structure)
}

func (server *Server) handleOverview(echoContext echo.Context) error {
	var request StructureRequest
	if bindError := bindAndValidate(echoContext, &request); bindError != nil {
		return bindError
	}
	overview, overviewError := server.analyzer.Overview(echoContext.Request().Context(), sessionID(echoContext), request.URL)
	if overviewError != nil {
		return overviewError
	}
	return echoContext.JSON(http.StatusOK, overview)
}

func (server *Server) handleChat(echoContext echo.Context) error {
	var request ChatRequest
	if bindError := bindAndValidate(echoContext, &request); bindError != nil {
		return bindError
	}
	answer, chatError := server.analyzer.Chat(echoContext.Request().Context(), sessionID(echoContext), request.RepoURL, request.Message)
	if chatError != nil {
		return chatError
	}
	return echoContext.JSON(http.StatusOK, ChatResponse{Response: answer})
}

func (server *Server) handleGenerate(echoContext echo.Context) error {
	var request GenerateRequest
	if bindError := bindAndValidate(echoContext, &request); bindError != nil {
		return bindError
	}
	markdown, generateError := server.analyzer.Generate(echoContext.Request().Context(), sessionID(echoContext), request.URL, request.DocType)
	if generateError != nil {
		return generateError
	}
	return echoContext.JSON(http.StatusOK, GenerateResponse{Markdown: markdown})
}

func (server *Server) handleSecurity(echoContext echo.Context) error {
	var request SecurityRequest
	if bindError := bindAndValidate(echoContext, &request); bindError != nil {
		return bindError
	}
	report, securityError := server.analyzer.Security(echoContext.Request().Context(), sessionID(echoContext), request.RepoURL)
	if securityError != nil {
		return securityError
	}
	return echoContext.JSON(http.StatusOK, report)
}

func (server *Server) handleEndSession(echoContext echo.Context) error {
	if server.sessions != nil {
		server.sessions.EndSession(sessionID(echoContext))
	}
	return echoContext.NoContent(http.StatusNoContent)
}

// handleError renders every failure as {"error": "..."} with the status that matches its cause.
func (server *Server) handleError(handlerError error, echoContext echo.Context) {
	if echoContext.Response().Committed {
		return
	}
	statusCode, message := server.statusFromError(handlerError)
	if statusCode >= http.StatusInternalServerError {
		server.logger.Error(handlerFailedMessage, zap.String("uri", echoContext.Request().RequestURI), zap.Error(handlerError))
	}
	var writeError error
	if echoContext.Request().Method == http.MethodHead {
		writeError = echoContext.NoContent(statusCode)
	} else {
		writeError = echoContext.JSON(statusCode, map[string]string{errorFieldName: message})
	}
	if writeError != nil {
		server.logger.Debug(handlerFailedMessage, zap.Error(writeError))
	}
}

func (server *Server) statusFromError(handlerError error) (int, string) {
	var httpError *echo.HTTPError
	if errors.As(handlerError, &httpError) {
		if message, isString := httpError.Message.(string); isString {
			return httpError.Code, message
		}
		return httpError.Code, http.StatusText(httpError.Code)
	}
	var fetchError *repository.FetchError
	if errors.As(handlerError, &fetchError) {
		return statusForFetchError(fetchError.Kind), fetchError.Error()
	}
	switch {
	case errors.Is(handlerError, ingestion.ErrEmptySessionID):
		return http.StatusBadRequest, handlerError.Error()
	case errors.Is(handlerError, ingestion.ErrClosed):
		return http.StatusServiceUnavailable, unavailableErrorMessage
	case errors.Is(handlerError, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, timeoutErrorMessage
	default:
		return http.StatusInternalServerError, internalErrorMessage
	}
}

func statusForFetchError(kind repository.ErrorKind) int {
	switch kind {
	case repository.KindInvalidURL:
		return http.StatusBadRequest
	case repository.KindAuthenticationRequired:
		return http.StatusUnauthorized
	case repository.KindRemoteNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
