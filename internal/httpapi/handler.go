// Package httpapi exposes the allocation core over HTTP: ticket issuance,
// slot booking, staff actions, status reads and realtime events.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"talon/internal/allocator"
	"talon/internal/database"
	"talon/internal/events"
	"talon/internal/models"
	"talon/internal/report"
	"talon/internal/slots"

	"github.com/rs/zerolog"
)

type Handler struct {
	alloc    *allocator.Allocator
	db       *database.DB
	hub      *events.Hub
	exporter *report.Exporter
	logger   *zerolog.Logger
}

func NewHandler(alloc *allocator.Allocator, db *database.DB, hub *events.Hub, logger *zerolog.Logger) *Handler {
	return &Handler{
		alloc:    alloc,
		db:       db,
		hub:      hub,
		exporter: report.NewExporter(db),
		logger:   logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicketSubpaths)
	mux.HandleFunc("/api/bookings", h.handleBookings)
	mux.HandleFunc("/api/bookings/", h.handleBookingSubpaths)
	mux.HandleFunc("/api/slots", h.handleSlots)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/providers", h.handleProviders)
	mux.HandleFunc("/api/providers/", h.handleProviderSubpaths)
	mux.HandleFunc("/api/export/queues/", h.handleExportQueue)
	mux.HandleFunc("/api/export/providers/", h.handleExportProvider)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createTicketRequest struct {
	QueueID      int64  `json:"queue_id"`
	VisitorName  string `json:"visitor_name"`
	VisitorPhone string `json:"visitor_phone"`
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.QueueID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "queue_id is required")
		return
	}

	ticket, err := h.alloc.IssueTicket(r.Context(), database.CreateTicketInput{
		QueueID:      req.QueueID,
		VisitorName:  strings.TrimSpace(req.VisitorName),
		VisitorPhone: strings.TrimSpace(req.VisitorPhone),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// handleTicketSubpaths dispatches /api/tickets/{id}, /{id}/position and
// /{id}/actions/{action}.
func (h *Handler) handleTicketSubpaths(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "position":
		h.handleTicketPosition(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleTicketAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ticket, err := h.alloc.GetTicket(r.Context(), id)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type positionResponse struct {
	TicketID             string `json:"ticket_id"`
	Position             int    `json:"position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
}

func (h *Handler) handleTicketPosition(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	position, minutes, err := h.alloc.EstimatedWait(r.Context(), id)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		TicketID:             id,
		Position:             position,
		EstimatedWaitMinutes: minutes,
	})
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch action {
	case models.ActionCall, models.ActionServe, models.ActionComplete, models.ActionSkip, models.ActionCancel:
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ticket, err := h.alloc.TransitionTicket(r.Context(), id, action)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

type createBookingRequest struct {
	ProviderID  int64  `json:"provider_id"`
	SlotStart   string `json:"slot_start"` // RFC3339
	SlotEnd     string `json:"slot_end,omitempty"`
	ClientName  string `json:"client_name"`
	ClientPhone string `json:"client_phone"`
	Comment     string `json:"comment,omitempty"`
}

func (h *Handler) handleBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ProviderID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "provider_id is required")
		return
	}

	start, err := time.Parse(time.RFC3339, req.SlotStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "slot_start must be an RFC3339 timestamp")
		return
	}

	var end time.Time
	if req.SlotEnd != "" {
		end, err = time.Parse(time.RFC3339, req.SlotEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "slot_end must be an RFC3339 timestamp")
			return
		}
	} else {
		end, err = h.slotEnd(r, req.ProviderID, start)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "invalid_request", "slot_end must be after slot_start")
		return
	}

	booking, err := h.alloc.BookSlot(r.Context(), database.CreateBookingInput{
		ProviderID:  req.ProviderID,
		SlotStart:   start,
		SlotEnd:     end,
		ClientName:  strings.TrimSpace(req.ClientName),
		ClientPhone: strings.TrimSpace(req.ClientPhone),
		Comment:     strings.TrimSpace(req.Comment),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// slotEnd derives the end of a slot from the provider's schedule when the
// client did not send one.
func (h *Handler) slotEnd(r *http.Request, providerID int64, start time.Time) (time.Time, error) {
	duration := 30
	schedule, err := h.db.GetScheduleForDate(r.Context(), providerID, start)
	if err == nil && schedule.SlotDuration > 0 {
		duration = schedule.SlotDuration
	}
	return start.Add(time.Duration(duration) * time.Minute), nil
}

func (h *Handler) handleBookingSubpaths(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/bookings/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		h.handleGetBooking(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		h.handleBookingAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetBooking(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	booking, err := h.db.GetBooking(r.Context(), id)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) handleBookingAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch action {
	case "confirm", "start", "complete", "reject", "cancel":
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	booking, err := h.alloc.TransitionBooking(r.Context(), id, action)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	providerID, ok := queryInt64(w, r, "provider_id")
	if !ok {
		return
	}
	date, err := time.Parse(models.DayFormat, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	generated, err := h.alloc.AvailableSlots(r.Context(), providerID, date)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, slots.ToSlotInfo(generated))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	queueID, ok := queryInt64(w, r, "queue_id")
	if !ok {
		return
	}
	day := r.URL.Query().Get("day")
	if day == "" {
		day = database.Day(time.Now())
	} else if _, err := time.Parse(models.DayFormat, day); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "day must be YYYY-MM-DD")
		return
	}

	stats, err := h.alloc.Stats(r.Context(), queueID, day)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type createQueueRequest struct {
	Name              string `json:"name"`
	DailyLimit        int    `json:"daily_limit"`
	AvgServiceMinutes int    `json:"avg_service_minutes"`
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		queues, err := h.db.ListQueues(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, queues)
	case http.MethodPost:
		var req createQueueRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}
		queue := &models.Queue{
			Name:              req.Name,
			IsActive:          true,
			DailyLimit:        req.DailyLimit,
			AvgServiceMinutes: req.AvgServiceMinutes,
		}
		if err := h.db.CreateQueue(r.Context(), queue); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, queue)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type createProviderRequest struct {
	Name       string `json:"name"`
	DailyLimit int    `json:"daily_limit"`
}

func (h *Handler) handleProviders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		providers, err := h.db.ListProviders(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, providers)
	case http.MethodPost:
		var req createProviderRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}
		provider := &models.Provider{Name: req.Name, IsActive: true, DailyLimit: req.DailyLimit}
		if err := h.db.CreateProvider(r.Context(), provider); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, provider)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type scheduleRequest struct {
	DayOfWeek    int    `json:"day_of_week"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	BreakStart   string `json:"break_start,omitempty"`
	BreakEnd     string `json:"break_end,omitempty"`
	SlotDuration int    `json:"slot_duration"`
}

// handleProviderSubpaths dispatches /api/providers/{id}/schedule.
func (h *Handler) handleProviderSubpaths(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/providers/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "schedule" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	providerID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "provider id must be an integer")
		return
	}
	if _, err := h.db.GetProvider(r.Context(), providerID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	var req scheduleRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !validClock(req.StartTime) || !validClock(req.EndTime) {
		writeError(w, http.StatusBadRequest, "invalid_request", "start_time and end_time must be HH:MM")
		return
	}
	if (req.BreakStart == "") != (req.BreakEnd == "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "break_start and break_end must both be set")
		return
	}

	schedule := &models.Schedule{
		ProviderID:   providerID,
		DayOfWeek:    req.DayOfWeek,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		BreakStart:   req.BreakStart,
		BreakEnd:     req.BreakEnd,
		SlotDuration: req.SlotDuration,
		IsActive:     true,
	}
	if err := h.db.UpsertSchedule(r.Context(), schedule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (h *Handler) handleExportQueue(w http.ResponseWriter, r *http.Request) {
	queueID, day, ok := exportParams(w, r, "/api/export/queues/")
	if !ok {
		return
	}

	// Render to a buffer first so a failed export can still produce an
	// error response instead of a half-written download.
	var buf bytes.Buffer
	if err := h.exporter.DailyRegister(r.Context(), &buf, queueID, day); err != nil {
		h.logger.Error().Err(err).Int64("queue_id", queueID).Msg("queue export failed")
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeWorkbook(w, fmt.Sprintf("queue-%d-%s.xlsx", queueID, day), buf.Bytes())
}

func (h *Handler) handleExportProvider(w http.ResponseWriter, r *http.Request) {
	providerID, day, ok := exportParams(w, r, "/api/export/providers/")
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.ProviderRegister(r.Context(), &buf, providerID, day); err != nil {
		h.logger.Error().Err(err).Int64("provider_id", providerID).Msg("provider export failed")
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeWorkbook(w, fmt.Sprintf("provider-%d-%s.xlsx", providerID, day), buf.Bytes())
}

func writeWorkbook(w http.ResponseWriter, filename string, payload []byte) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	_, _ = w.Write(payload)
}

func exportParams(w http.ResponseWriter, r *http.Request, prefix string) (int64, string, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return 0, "", false
	}
	idRaw := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	id, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be an integer")
		return 0, "", false
	}
	day := r.URL.Query().Get("day")
	if day == "" {
		day = database.Day(time.Now())
	} else if _, err := time.Parse(models.DayFormat, day); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "day must be YYYY-MM-DD")
		return 0, "", false
	}
	return id, day, true
}

func queryInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" must be a positive integer")
		return 0, false
	}
	return value, true
}

func validClock(value string) bool {
	_, err := time.Parse(models.TimeFormat, value)
	return err == nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, database.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, database.ErrProviderNotFound):
		return http.StatusNotFound, "provider_not_found", "provider not found"
	case errors.Is(err, database.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, database.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found", "booking not found"
	case errors.Is(err, database.ErrResourceInactive):
		return http.StatusConflict, "resource_inactive", "resource is not accepting allocations"
	case errors.Is(err, database.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded", "daily capacity reached"
	case errors.Is(err, database.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable", "slot is already taken"
	case errors.Is(err, database.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "current status does not allow this action"
	case errors.Is(err, allocator.ErrAllocationFailed):
		return http.StatusServiceUnavailable, "allocation_contention", "allocation failed under contention, retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
