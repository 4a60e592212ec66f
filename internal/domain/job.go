package domain

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// validTransitions is the forward-only job lifecycle. A COMPLETED or
// FAILED job never changes status again.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// WebhookDelivery tracks the outcome of notifying a job's webhook URL.
// It is empty for jobs submitted without one.
type WebhookDelivery string

const (
	WebhookPending   WebhookDelivery = "pending"
	WebhookDelivered WebhookDelivery = "delivered"
	WebhookFailed    WebhookDelivery = "failed"
)

// Item is one slot of a batch job. Salary and Year echo the submitted
// values; exactly one of Result and Error is set once the slot resolves.
type Item struct {
	Salary float64
	Year   int

	Result *CalculationResult
	Error  *ItemError
}

// Resolved reports whether the slot holds an outcome.
func (i Item) Resolved() bool {
	return i.Result != nil || i.Error != nil
}

// ItemOutcome is the resolution written into a job slot: a result or an
// item error, never both.
type ItemOutcome struct {
	Result *CalculationResult
	Error  *ItemError
}

// Matches reports whether the outcome is equivalent to the one already in
// the slot. ComputedAt is ignored: a duplicate computation of the same key
// legitimately carries a fresh timestamp.
func (o ItemOutcome) Matches(item Item) bool {
	switch {
	case o.Result != nil && item.Result != nil:
		return o.Result.Salary == item.Result.Salary &&
			o.Result.Year == item.Result.Year &&
			o.Result.Tax == item.Result.Tax &&
			o.Result.EffectiveRate == item.Result.EffectiveRate
	case o.Error != nil && item.Error != nil:
		return o.Error.Code == item.Error.Code
	default:
		return false
	}
}

// Job is a batch of tax calculations processed asynchronously. Items keep
// their submission order for the life of the job.
type Job struct {
	ID     string
	Status Status
	Items  []Item

	WebhookURL      string
	WebhookDelivery WebhookDelivery
	FailureReason   string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Remaining counts the unresolved item slots.
func (j *Job) Remaining() int {
	n := 0
	for _, item := range j.Items {
		if !item.Resolved() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand outside the job store.
func (j *Job) Clone() *Job {
	items := make([]Item, len(j.Items))
	copy(items, j.Items)

	c := *j
	c.Items = items
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
