package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arpitdalal/tax-calculator/internal/batch"
	"github.com/arpitdalal/tax-calculator/internal/domain"
	"github.com/arpitdalal/tax-calculator/internal/tax"
)

// Calculator resolves a single calculation, from cache or by computing.
type Calculator interface {
	GetOrCompute(ctx context.Context, salary float64, year int) (domain.CalculationResult, bool, error)
}

// Batcher accepts batches and reports job state.
type Batcher interface {
	Submit(ctx context.Context, calcs []batch.Calculation, webhookURL string) (string, error)
	Status(ctx context.Context, jobID string) (*domain.Job, error)
}

type TaxHandler struct {
	calc   Calculator
	batch  Batcher
	years  tax.Years
	logger *slog.Logger
}

func NewTaxHandler(calc Calculator, batcher Batcher, years tax.Years, logger *slog.Logger) *TaxHandler {
	return &TaxHandler{
		calc:   calc,
		batch:  batcher,
		years:  years,
		logger: logger.With("component", "tax_handler"),
	}
}

// Calculate handles GET /calculate-tax. A missing year falls back to the
// configured default; the X-Cache-Hit header reports whether the result
// was served from cache.
func (h *TaxHandler) Calculate(c *gin.Context) {
	salary, err := tax.ParseSalary(c.Query("salary"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if err := tax.CheckSalary(salary); err != nil {
		writeError(c, h.logger, err)
		return
	}

	year := h.years.Default
	if raw := c.Query("year"); raw != "" {
		if year, err = tax.ParseYear(raw); err != nil {
			writeError(c, h.logger, err)
			return
		}
	}
	if err := h.years.Check(year); err != nil {
		writeError(c, h.logger, err)
		return
	}

	res, hit, err := h.calc.GetOrCompute(c.Request.Context(), salary, year)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.Header("X-Cache-Hit", strconv.FormatBool(hit))
	c.JSON(http.StatusOK, res)
}

// looseNumber accepts a JSON number or a numeric string with digit
// separators. An unparsable string leaves the value nil and keeps the
// parse error so it surfaces as a per-item error instead of rejecting
// the whole batch; any other JSON type is a malformed request.
type looseNumber struct {
	v   *float64
	err error
}

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		n.v = &f
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("salary must be a number or a string")
	}
	parsed, err := tax.ParseSalary(s)
	if err != nil {
		n.err = err
		return nil
	}
	n.v = &parsed
	return nil
}

// looseInt is the year counterpart of looseNumber.
type looseInt struct {
	v   *int
	err error
}

func (n *looseInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		n.v = &i
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("year must be a number or a string")
	}
	parsed, err := tax.ParseYear(s)
	if err != nil {
		n.err = err
		return nil
	}
	n.v = &parsed
	return nil
}

type batchItem struct {
	Salary looseNumber `json:"salary"`
	Year   looseInt    `json:"year"`
}

type batchRequest struct {
	Calculations []batchItem `json:"calculations"`
	WebhookURL   string      `json:"webhook_url" binding:"omitempty,url"`
}

// SubmitBatch handles POST /calculate-tax. Batch-shape problems are 400;
// item-level problems become per-item errors inside the accepted job.
func (h *TaxHandler) SubmitBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	calcs := make([]batch.Calculation, len(req.Calculations))
	for i, item := range req.Calculations {
		calcs[i] = batch.Calculation{Salary: item.Salary.v, Year: item.Year.v}
		if item.Salary.err != nil {
			calcs[i].Err = item.Salary.err
		} else if item.Year.err != nil {
			calcs[i].Err = item.Year.err
		}
	}

	jobID, err := h.batch.Submit(c.Request.Context(), calcs, req.WebhookURL)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"message": "Tax calculations queued successfully",
	})
}

type jobItemResponse struct {
	Salary float64                   `json:"salary"`
	Year   int                       `json:"year"`
	Result *domain.CalculationResult `json:"result,omitempty"`
	Error  *domain.ItemError         `json:"error,omitempty"`
}

type jobResponse struct {
	JobID           string                 `json:"job_id"`
	Status          domain.Status          `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	FailureReason   string                 `json:"failure_reason,omitempty"`
	WebhookDelivery domain.WebhookDelivery `json:"webhook_delivery,omitempty"`
	Results         []jobItemResponse      `json:"results"`
}

// JobStatus handles GET /calculate-tax/:job_id.
func (h *TaxHandler) JobStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	job, err := h.batch.Status(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := jobResponse{
		JobID:           job.ID,
		Status:          job.Status,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
		FailureReason:   job.FailureReason,
		WebhookDelivery: job.WebhookDelivery,
		Results:         make([]jobItemResponse, 0, len(job.Items)),
	}
	for _, item := range job.Items {
		resp.Results = append(resp.Results, jobItemResponse{
			Salary: item.Salary,
			Year:   item.Year,
			Result: item.Result,
			Error:  item.Error,
		})
	}

	c.JSON(http.StatusOK, resp)
}
