package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/recurring-service/internal/middleware"
	"github.com/Dan9191/recurring-service/internal/models"
	"github.com/Dan9191/recurring-service/internal/recurrence"
	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RuleManager is the rule lifecycle the handler exposes.
type RuleManager interface {
	CreateRule(ctx context.Context, userID int64, in service.CreateRuleInput) (*models.RecurringRule, error)
	GetRule(ctx context.Context, userID, ruleID int64) (*models.RecurringRule, error)
	ListRules(ctx context.Context, userID int64) ([]models.RecurringRule, error)
	UpdateRule(ctx context.Context, userID, ruleID int64, in service.UpdateRuleInput) (*models.RecurringRule, error)
	ToggleRule(ctx context.Context, userID, ruleID int64) (*models.RecurringRule, error)
	DeleteRule(ctx context.Context, userID, ruleID int64, cascade bool) error
}

// BatchRunner runs one recurring batch pass.
type BatchRunner interface {
	Run(ctx context.Context) (*service.RunReport, error)
}

type Handler struct {
	rules RuleManager
	batch BatchRunner
	log   *logrus.Logger
	loc   *time.Location
}

// NewHandler creates the HTTP handlers. Date-only request fields are read in loc.
func NewHandler(rules RuleManager, batch BatchRunner, log *logrus.Logger, loc *time.Location) *Handler {
	return &Handler{rules: rules, batch: batch, log: log, loc: loc}
}

// Routes registers all endpoints on r. Rule endpoints require a JWT; the cron
// endpoint requires the shared cron secret.
func (h *Handler) Routes(r *mux.Router, auth, cron mux.MiddlewareFunc) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api/recurring").Subrouter()
	api.Use(auth)
	api.HandleFunc("", h.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}", h.GetRule).Methods(http.MethodGet)
	api.HandleFunc("/{id:[0-9]+}", h.UpdateRule).Methods(http.MethodPatch)
	api.HandleFunc("/{id:[0-9]+}/toggle", h.ToggleRule).Methods(http.MethodPost)
	api.HandleFunc("/{id:[0-9]+}", h.DeleteRule).Methods(http.MethodDelete)

	c := r.PathPrefix("/api/cron").Subrouter()
	c.Use(cron)
	c.HandleFunc("/process-recurring", h.ProcessRecurring).Methods(http.MethodGet)
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ruleRequest struct {
	AccountID         *int64                  `json:"account_id"`
	CategoryID        *int64                  `json:"category_id"`
	Description       *string                 `json:"description"`
	Amount            *decimal.Decimal        `json:"amount"`
	Type              *models.TransactionType `json:"type"`
	Notes             *string                 `json:"notes"`
	StartDate         *string                 `json:"start_date"`
	FrequencyUnit     *recurrence.Unit        `json:"frequency_unit"`
	FrequencyInterval *int                    `json:"frequency_interval"`
	FrequencyDays     *int                    `json:"frequency_days"`
	DayOfWeek         *int                    `json:"day_of_week"`
	DayOfMonth        *int                    `json:"day_of_month"`
	EndDate           *string                 `json:"end_date"`
	TotalOccurrences  *int                    `json:"total_occurrences"`
	IsInstallment     *bool                   `json:"is_installment"`
}

// CreateRule handles rule creation
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	in, err := h.createInput(req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), userID, in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, rule)
}

// ListRules returns the caller's rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	rules, err := h.rules.ListRules(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if rules == nil {
		rules = []models.RecurringRule{}
	}
	middleware.WriteJSON(w, http.StatusOK, rules)
}

// GetRule returns one rule
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	ruleID, ok := ruleIDFromPath(w, r)
	if !ok {
		return
	}
	rule, err := h.rules.GetRule(r.Context(), userID, ruleID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rule)
}

// UpdateRule applies a partial update
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	ruleID, ok := ruleIDFromPath(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	in, err := h.updateInput(req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, err := h.rules.UpdateRule(r.Context(), userID, ruleID, in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rule)
}

// ToggleRule pauses or resumes a rule
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	ruleID, ok := ruleIDFromPath(w, r)
	if !ok {
		return
	}
	rule, err := h.rules.ToggleRule(r.Context(), userID, ruleID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rule)
}

// DeleteRule deletes a rule; ?cascade=true also deletes its transactions
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	ruleID, ok := ruleIDFromPath(w, r)
	if !ok {
		return
	}

	cascade := false
	if v := r.URL.Query().Get("cascade"); v != "" {
		var err error
		if cascade, err = strconv.ParseBool(v); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid cascade flag")
			return
		}
	}

	if err := h.rules.DeleteRule(r.Context(), userID, ruleID, cascade); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type processResponse struct {
	Success bool `json:"success"`
	*service.RunReport
}

// ProcessRecurring runs one batch pass and returns its report
func (h *Handler) ProcessRecurring(w http.ResponseWriter, r *http.Request) {
	report, err := h.batch.Run(r.Context())
	if err != nil {
		h.log.WithError(err).Error("Recurring batch failed")
		middleware.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to process recurring transactions",
			"details": err.Error(),
		})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, processResponse{Success: true, RunReport: report})
}

func (h *Handler) createInput(req ruleRequest) (service.CreateRuleInput, error) {
	in := service.CreateRuleInput{
		CategoryID:       req.CategoryID,
		Notes:            req.Notes,
		FrequencyDays:    req.FrequencyDays,
		DayOfWeek:        req.DayOfWeek,
		DayOfMonth:       req.DayOfMonth,
		TotalOccurrences: req.TotalOccurrences,
	}
	if req.AccountID == nil {
		return in, errors.New("account_id is required")
	}
	in.AccountID = *req.AccountID
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.Amount == nil {
		return in, errors.New("amount is required")
	}
	in.Amount = *req.Amount
	if req.Type != nil {
		in.Type = *req.Type
	}
	if req.FrequencyUnit != nil {
		in.FrequencyUnit = *req.FrequencyUnit
	}
	if req.FrequencyInterval != nil {
		in.FrequencyInterval = *req.FrequencyInterval
	} else if in.FrequencyUnit != "" {
		in.FrequencyInterval = 1
	}
	if in.FrequencyUnit == "" && in.FrequencyDays == nil {
		return in, errors.New("frequency_unit or frequency_days is required")
	}
	if req.IsInstallment != nil {
		in.IsInstallment = *req.IsInstallment
	}

	if req.StartDate == nil {
		return in, errors.New("start_date is required")
	}
	start, err := h.parseDate(*req.StartDate)
	if err != nil {
		return in, fmt.Errorf("invalid start_date: %w", err)
	}
	in.StartDate = start

	if req.EndDate != nil {
		end, err := h.parseDate(*req.EndDate)
		if err != nil {
			return in, fmt.Errorf("invalid end_date: %w", err)
		}
		end = endOfDay(end)
		in.EndDate = &end
	}
	return in, nil
}

func (h *Handler) updateInput(req ruleRequest) (service.UpdateRuleInput, error) {
	if req.StartDate != nil {
		return service.UpdateRuleInput{}, errors.New("start_date cannot be changed")
	}
	in := service.UpdateRuleInput{
		AccountID:         req.AccountID,
		CategoryID:        req.CategoryID,
		Description:       req.Description,
		Amount:            req.Amount,
		Type:              req.Type,
		Notes:             req.Notes,
		FrequencyUnit:     req.FrequencyUnit,
		FrequencyInterval: req.FrequencyInterval,
		FrequencyDays:     req.FrequencyDays,
		DayOfWeek:         req.DayOfWeek,
		DayOfMonth:        req.DayOfMonth,
		TotalOccurrences:  req.TotalOccurrences,
		IsInstallment:     req.IsInstallment,
	}
	if req.EndDate != nil {
		end, err := h.parseDate(*req.EndDate)
		if err != nil {
			return in, fmt.Errorf("invalid end_date: %w", err)
		}
		end = endOfDay(end)
		in.EndDate = &end
	}
	return in, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func (h *Handler) parseDate(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, h.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	return t.In(h.loc), nil
}

// endOfDay makes an end date inclusive. Microsecond precision matches what
// postgres stores.
func endOfDay(t time.Time) time.Time {
	return recurrence.Midnight(t).AddDate(0, 0, 1).Add(-time.Microsecond)
}

func ruleIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid rule id")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrBadRequest):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).Error("Request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
