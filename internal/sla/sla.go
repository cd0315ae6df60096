// Package sla derives service-level deadlines and risk status for work
// orders. Everything here is a pure function of its inputs; callers pass
// the reference time explicitly.
package sla

import (
	"fmt"
	"math"
	"time"

	"github.com/zulandar/otyard/internal/models"
)

// Status is the three-valued SLA risk classification.
type Status string

const (
	StatusOK       Status = "OK"
	StatusAtRisk   Status = "AT_RISK"
	StatusBreached Status = "BREACHED"
)

// DefaultRiskFraction marks the final quarter of the window as at risk.
const DefaultRiskFraction = 0.25

// DefaultHours is the resolution window per tier used when no policy is configured.
var DefaultHours = map[models.Priority]float64{
	models.PriorityP1: 4,
	models.PriorityP2: 24,
	models.PriorityP3: 72,
	models.PriorityP4: 168,
}

// Policy holds hours-to-resolve per priority tier and the at-risk threshold
// expressed as a fraction of the whole window.
type Policy struct {
	Hours        map[models.Priority]float64
	RiskFraction float64
}

// DefaultPolicy returns a Policy built from DefaultHours and DefaultRiskFraction.
func DefaultPolicy() Policy {
	hours := make(map[models.Priority]float64, len(DefaultHours))
	for p, h := range DefaultHours {
		hours[p] = h
	}
	return Policy{Hours: hours, RiskFraction: DefaultRiskFraction}
}

// Validate checks that every tier has a positive window and the fraction is in (0,1).
func (p Policy) Validate() error {
	for _, tier := range models.Priorities {
		h, ok := p.Hours[tier]
		if !ok {
			return fmt.Errorf("sla: policy missing hours for %s", tier)
		}
		if h <= 0 {
			return fmt.Errorf("sla: policy hours for %s must be positive, got %v", tier, h)
		}
	}
	if p.RiskFraction <= 0 || p.RiskFraction >= 1 {
		return fmt.Errorf("sla: risk fraction must be between 0 and 1, got %v", p.RiskFraction)
	}
	return nil
}

// Window returns the resolution window for a priority. Unknown tiers fall
// back to the least urgent configured window.
func (p Policy) Window(priority models.Priority) time.Duration {
	h, ok := p.Hours[priority]
	if !ok || h <= 0 {
		h = p.Hours[models.PriorityP4]
	}
	if h <= 0 {
		h = DefaultHours[models.PriorityP4]
	}
	return time.Duration(h * float64(time.Hour))
}

// Projection is the read-time SLA view of a single work order.
type Projection struct {
	DueAt          time.Time `json:"slaDueAt"`
	HoursRemaining int       `json:"slaHoursRemaining"`
	Status         Status    `json:"slaStatus"`
	Overdue        bool      `json:"overdue"`
	OverdueHours   int       `json:"overdueHours"`
}

// Compute projects the SLA state of a work order created at createdAt with
// the given priority, as seen at now.
func (p Policy) Compute(priority models.Priority, createdAt, now time.Time) Projection {
	window := p.Window(priority)
	due := createdAt.Add(window)
	remaining := due.Sub(now)

	proj := Projection{
		DueAt:          due,
		HoursRemaining: roundHours(remaining),
	}

	fraction := p.RiskFraction
	if fraction <= 0 || fraction >= 1 {
		fraction = DefaultRiskFraction
	}
	threshold := time.Duration(float64(window) * fraction)

	switch {
	case now.After(due):
		proj.Status = StatusBreached
		proj.Overdue = true
		proj.OverdueHours = roundHours(-remaining)
	case remaining <= threshold:
		proj.Status = StatusAtRisk
	default:
		proj.Status = StatusOK
	}
	return proj
}

// ComputeFor is Compute over a stored work order.
func (p Policy) ComputeFor(wo *models.WorkOrder, now time.Time) Projection {
	return p.Compute(wo.Priority, wo.CreatedAt, now)
}

// roundHours rounds a duration to the nearest whole hour, halves away from zero.
func roundHours(d time.Duration) int {
	return int(math.Round(d.Hours()))
}
