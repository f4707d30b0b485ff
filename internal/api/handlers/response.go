// Package handlers implements the HTTP endpoints of the tower controller.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/narvanalabs/tower-controller/internal/api/errors"
	"github.com/narvanalabs/tower-controller/internal/archive"
	"github.com/narvanalabs/tower-controller/internal/controller"
	"github.com/narvanalabs/tower-controller/internal/dispatch"
	"github.com/narvanalabs/tower-controller/internal/models"
	"github.com/narvanalabs/tower-controller/internal/protocol"
	"github.com/narvanalabs/tower-controller/internal/transport"
)

// Controller is the part of the control loop the API drives.
type Controller interface {
	Status(ctx context.Context) (models.SystemStatus, error)
	SetPump(ctx context.Context, towerID uint8, on bool) error
	SetMode(ctx context.Context, mode models.Mode) error
	History(ctx context.Context, towerID uint8, since time.Time) ([]models.HistorySample, error)
	Towers(ctx context.Context) ([]models.Tower, error)
	Tower(ctx context.Context, towerID uint8) (models.Tower, error)
	QueryTower(ctx context.Context, towerID uint8) error
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	apierrors.WriteJSON(w, status, data)
}

// WriteError writes err with the request id attached.
func WriteError(w http.ResponseWriter, r *http.Request, err *apierrors.APIError) {
	apierrors.WriteErrorWithRequestID(w, err, chimiddleware.GetReqID(r.Context()))
}

// WriteBadRequest writes a 400 response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteError(w, r, apierrors.NewValidationError(message))
}

// WriteInvalidParam writes a 400 response naming the offending parameter.
func WriteInvalidParam(w http.ResponseWriter, r *http.Request, param, value, message string) {
	WriteError(w, r, apierrors.NewValidationError(message).WithDetails(map[string]any{
		"param": param,
		"value": value,
	}))
}

// APIError maps a controller error onto the API taxonomy.
func APIError(err error) *apierrors.APIError {
	var apiErr *apierrors.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, dispatch.ErrUnknownTower):
		return apierrors.NewNotFoundError(err.Error())
	case errors.Is(err, dispatch.ErrInvalidParams):
		return apierrors.NewValidationError(err.Error())
	case errors.Is(err, dispatch.ErrWellShortage):
		return apierrors.NewConflictError(err.Error())
	case errors.Is(err, transport.ErrTimeout),
		errors.Is(err, transport.ErrTransport),
		errors.Is(err, transport.ErrHardwareFault),
		errors.Is(err, transport.ErrClosed),
		errors.Is(err, controller.ErrStopped),
		errors.Is(err, archive.ErrDisabled),
		errors.Is(err, context.DeadlineExceeded):
		return apierrors.NewUnavailableError(err.Error())
	default:
		return apierrors.NewInternalError("internal error")
	}
}

// writeDomainError logs server-side failures and writes the mapped error.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	apiErr := APIError(err)
	if apiErr.HTTPStatusCode() >= http.StatusInternalServerError {
		logger.Error("request failed",
			"error", err,
			"error_code", apiErr.Code,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"path", r.URL.Path,
		)
	}
	WriteError(w, r, apiErr)
}

// parseTowerID accepts a decimal node address in 1..254.
func parseTowerID(s string) (uint8, error) {
	if s == "" {
		return 0, fmt.Errorf("tower id is required")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("tower id %q is not a number", s)
	}
	if n <= int(protocol.ControllerID) || n > int(protocol.MaxNodeID) {
		return 0, fmt.Errorf("tower id %d out of range 1..%d", n, protocol.MaxNodeID)
	}
	return uint8(n), nil
}
