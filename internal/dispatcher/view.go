// Package dispatcher builds the bucketed planning board of open work orders.
package dispatcher

import (
	"sort"
	"strings"
	"time"

	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/sla"
)

// Bucket names as they appear on the board.
const (
	BucketEntrantes   = "entrantes"
	BucketAPlanificar = "aPlanificar"
	BucketInProgress  = "inProgress"
	BucketWaiting     = "waiting"
)

// Card is one work order on the board with its read-time projections.
type Card struct {
	ID                          uint                 `json:"id"`
	MachineID                   *uint                `json:"machineId,omitempty"`
	Title                       string               `json:"title"`
	Priority                    models.Priority      `json:"priority"`
	PriorityLabel               string               `json:"priorityLabel"`
	Status                      models.Status        `json:"status"`
	AssignedTo                  string               `json:"assignedTo,omitempty"`
	CreatedAt                   time.Time            `json:"createdAt"`
	StartedDate                 *time.Time           `json:"startedDate,omitempty"`
	WaitingReason               models.WaitingReason `json:"waitingReason,omitempty"`
	WaitingETA                  *time.Time           `json:"waitingEta,omitempty"`
	WaitingOverdue              bool                 `json:"waitingOverdue"`
	RequiresReturnToProduction  bool                 `json:"requiresReturnToProduction"`
	ReturnToProductionConfirmed bool                 `json:"returnToProductionConfirmed"`
	AgeHours                    int                  `json:"ageHours"`
	sla.Projection
}

// Execution groups the two running lanes.
type Execution struct {
	InProgress []Card `json:"inProgress"`
	Waiting    []Card `json:"waiting"`
}

// Summary holds the board counters.
type Summary struct {
	Entrantes      int `json:"entrantes"`
	APlanificar    int `json:"aPlanificar"`
	InProgress     int `json:"inProgress"`
	Waiting        int `json:"waiting"`
	Total          int `json:"total"`
	SLABreached    int `json:"slaBreached"`
	SLAAtRisk      int `json:"slaAtRisk"`
	WaitingOverdue int `json:"waitingOverdue"`
}

// View is the full board.
type View struct {
	Entrantes   []Card    `json:"entrantes"`
	APlanificar []Card    `json:"aPlanificar"`
	EnEjecucion Execution `json:"enEjecucion"`
	Summary     Summary   `json:"summary"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Build partitions the open orders into the four lanes. Terminal orders are
// ignored, so every open order lands in exactly one lane. It is pure.
func Build(orders []models.WorkOrder, policy sla.Policy, now time.Time) View {
	v := View{
		Entrantes:   []Card{},
		APlanificar: []Card{},
		EnEjecucion: Execution{InProgress: []Card{}, Waiting: []Card{}},
		GeneratedAt: now,
	}

	for i := range orders {
		wo := &orders[i]
		if wo.Status.IsTerminal() {
			continue
		}
		c := newCard(wo, policy, now)
		switch wo.Status {
		case models.StatusPending:
			if strings.TrimSpace(wo.AssignedTo) == "" {
				v.Entrantes = append(v.Entrantes, c)
			} else {
				v.APlanificar = append(v.APlanificar, c)
			}
		case models.StatusInProgress:
			v.EnEjecucion.InProgress = append(v.EnEjecucion.InProgress, c)
		case models.StatusWaiting:
			v.EnEjecucion.Waiting = append(v.EnEjecucion.Waiting, c)
		default:
			continue
		}

		switch c.Projection.Status {
		case sla.StatusBreached:
			v.Summary.SLABreached++
		case sla.StatusAtRisk:
			v.Summary.SLAAtRisk++
		}
		if c.WaitingOverdue {
			v.Summary.WaitingOverdue++
		}
	}

	sortByUrgency(v.Entrantes)
	sortByUrgency(v.APlanificar)
	sortByUrgency(v.EnEjecucion.InProgress)
	sortByETA(v.EnEjecucion.Waiting)

	v.Summary.Entrantes = len(v.Entrantes)
	v.Summary.APlanificar = len(v.APlanificar)
	v.Summary.InProgress = len(v.EnEjecucion.InProgress)
	v.Summary.Waiting = len(v.EnEjecucion.Waiting)
	v.Summary.Total = v.Summary.Entrantes + v.Summary.APlanificar + v.Summary.InProgress + v.Summary.Waiting
	return v
}

func newCard(wo *models.WorkOrder, policy sla.Policy, now time.Time) Card {
	c := Card{
		ID:                          wo.ID,
		MachineID:                   wo.MachineID,
		Title:                       wo.Title,
		Priority:                    wo.Priority,
		PriorityLabel:               wo.Priority.Label(),
		Status:                      wo.Status,
		AssignedTo:                  wo.AssignedTo,
		CreatedAt:                   wo.CreatedAt,
		StartedDate:                 wo.StartedDate,
		RequiresReturnToProduction:  wo.RequiresReturnToProduction,
		ReturnToProductionConfirmed: wo.ReturnToProductionConfirmed,
		Projection:                  policy.ComputeFor(wo, now),
	}
	if wo.Status == models.StatusWaiting {
		c.WaitingReason = wo.WaitingReason
		c.WaitingETA = wo.WaitingETA
		c.WaitingOverdue = wo.WaitingETA != nil && wo.WaitingETA.Before(now)
	}
	if age := now.Sub(wo.CreatedAt); age > 0 {
		c.AgeHours = int(age / time.Hour)
	}
	return c
}

// sortByUrgency orders by priority tier, then oldest first.
func sortByUrgency(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i], cards[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra < rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// sortByETA puts the soonest-due blocker first. Orders without an ETA,
// which only legacy rows can have, go last.
func sortByETA(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i].WaitingETA, cards[j].WaitingETA
		switch {
		case a == nil && b == nil:
			return cards[i].ID < cards[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return cards[i].ID < cards[j].ID
	})
}
