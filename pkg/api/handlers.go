package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/inteldesk/pkg/delivery"
	"github.com/odvcencio/inteldesk/pkg/errors"
)

type operationsResponse struct {
	Operations []string `json:"operations"`
}

type deliveriesResponse struct {
	Deliveries delivery.View `json:"deliveries"`
}

type selectedResponse struct {
	Selected any `json:"selected"`
}

type scheduleAttemptRequest struct {
	ChannelID string `json:"channel_id"`
}

type cancelRequest struct {
	Success bool   `json:"success"`
	Note    string `json:"note"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	ops := s.coord.SubscribedOperations()
	if ops == nil {
		ops = []string{}
	}
	writeJSON(w, http.StatusOK, operationsResponse{Operations: ops})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	operationID := strings.TrimSpace(chi.URLParam(r, "operationID"))
	if err := s.coord.SubscribeForOperation(operationID); err != nil {
		s.respondErr(w, err)
		return
	}
	s.handleListOperations(w, r)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	operationID := strings.TrimSpace(chi.URLParam(r, "operationID"))
	if err := s.coord.UnsubscribeForOperation(operationID); err != nil {
		s.respondErr(w, err)
		return
	}
	s.handleListOperations(w, r)
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deliveriesResponse{Deliveries: nonNil(s.coord.OpenDeliveries())})
}

func (s *Server) handleDeliveriesByImportance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deliveriesResponse{Deliveries: nonNil(s.coord.OpenDeliveriesByImportance())})
}

func (s *Server) handleDeliveriesByAge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, deliveriesResponse{Deliveries: nonNil(s.coord.OpenDeliveriesByAge())})
}

func (s *Server) handleSelected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, selectedResponse{Selected: selectedData(s.coord.Selected())})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")
	if !s.coord.Select(deliveryID) {
		writeError(w, http.StatusNotFound, string(errors.ErrCodeNotFound), "delivery is not open: "+deliveryID)
		return
	}
	s.handleSelected(w, r)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")
	if !s.coord.RemoveDeliveryAndSelectNext(deliveryID) {
		writeError(w, http.StatusNotFound, string(errors.ErrCodeNotFound), "delivery is not open: "+deliveryID)
		return
	}
	s.handleSelected(w, r)
}

func (s *Server) handleScheduleAttempt(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")
	var req scheduleAttemptRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesSmall, false); err != nil {
		writeError(w, status, string(errors.ErrCodeDecode), err.Error())
		return
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		writeError(w, http.StatusBadRequest, string(errors.ErrCodeInvalidInput), "channel_id is required")
		return
	}
	if err := s.coord.ScheduleAttemptAndSelectNext(r.Context(), deliveryID, req.ChannelID); err != nil {
		s.respondErr(w, err)
		return
	}
	s.handleSelected(w, r)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")
	var req cancelRequest
	if status, err := decodeJSONBody(w, r, &req, maxBodyBytesSmall, true); err != nil {
		writeError(w, status, string(errors.ErrCodeDecode), err.Error())
		return
	}
	if err := s.coord.CancelAndSelectNext(r.Context(), deliveryID, req.Success, req.Note); err != nil {
		s.respondErr(w, err)
		return
	}
	s.handleSelected(w, r)
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed", "error", err.Error())
	}
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	writeError(w, status, string(code), err.Error())
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeDecode:
		return http.StatusBadRequest
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrCodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(v delivery.View) delivery.View {
	if v == nil {
		return delivery.View{}
	}
	return v
}
