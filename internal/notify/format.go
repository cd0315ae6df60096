package notify

import (
	"fmt"
	"strings"

	"github.com/zulandar/otyard/internal/models"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// slaDueLayout renders SLA deadlines in chat.
const slaDueLayout = "02 Jan 15:04 MST"

func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// statusVerb returns a human-friendly verb for the status a work order moved to.
func statusVerb(to models.Status) string {
	switch to {
	case models.StatusPending:
		return "queued"
	case models.StatusInProgress:
		return "in progress"
	case models.StatusWaiting:
		return "on hold"
	case models.StatusClosed:
		return "closed"
	case models.StatusCancelled:
		return "cancelled"
	default:
		return strings.ToLower(string(to))
	}
}

func transitionSeverity(evt Event) string {
	switch evt.To {
	case models.StatusClosed:
		return "success"
	case models.StatusWaiting:
		return "warning"
	}
	return "info"
}

// FormatEvent renders an Event for chat delivery.
func FormatEvent(evt Event) FormattedEvent {
	var (
		title    string
		severity string
		body     []string
	)

	switch evt.Type {
	case EventTransition:
		severity = transitionSeverity(evt)
		switch {
		case evt.Transition == "assign":
			title = fmt.Sprintf("OT #%d assigned", evt.WorkOrderID)
		case evt.Transition == "confirm_rtp":
			title = fmt.Sprintf("OT #%d back in production", evt.WorkOrderID)
			severity = "success"
		case evt.From == evt.To:
			title = fmt.Sprintf("OT #%d %s", evt.WorkOrderID, evt.Transition)
		default:
			title = fmt.Sprintf("OT #%d %s", evt.WorkOrderID, statusVerb(evt.To))
		}
		if evt.From != "" && evt.From != evt.To {
			body = append(body, fmt.Sprintf("%s → %s", evt.From, evt.To))
		}
	case EventFollow:
		title = fmt.Sprintf("%s is following OT #%d", evt.Actor, evt.WorkOrderID)
		severity = "info"
	case EventUnfollow:
		title = fmt.Sprintf("%s stopped following OT #%d", evt.Actor, evt.WorkOrderID)
		severity = "info"
	case EventSLAAtRisk:
		title = fmt.Sprintf("OT #%d SLA at risk", evt.WorkOrderID)
		severity = "warning"
	case EventSLABreached:
		title = fmt.Sprintf("OT #%d SLA breached", evt.WorkOrderID)
		severity = "error"
	case EventWaitingOverdue:
		title = fmt.Sprintf("OT #%d waiting past its ETA", evt.WorkOrderID)
		severity = "warning"
	default:
		title = fmt.Sprintf("OT #%d %s", evt.WorkOrderID, evt.Type)
		severity = "info"
	}

	if evt.Title != "" {
		body = append([]string{evt.Title}, body...)
	}
	if evt.Note != "" {
		body = append(body, evt.Note)
	}

	fields := []Field{
		{Name: "Work order", Value: fmt.Sprintf("#%d", evt.WorkOrderID), Short: true},
	}
	if evt.Priority != "" {
		fields = append(fields, Field{Name: "Priority", Value: evt.Priority.Label(), Short: true})
	}
	if evt.To != "" {
		fields = append(fields, Field{Name: "Status", Value: string(evt.To), Short: true})
	}
	if evt.Actor != "" && evt.Type != EventFollow && evt.Type != EventUnfollow {
		fields = append(fields, Field{Name: "By", Value: evt.Actor, Short: true})
	}
	if evt.SLADue != nil {
		fields = append(fields, Field{Name: "SLA due", Value: evt.SLADue.UTC().Format(slaDueLayout), Short: true})
	}
	if len(evt.Watchers) > 0 {
		fields = append(fields, Field{Name: "Watchers", Value: strings.Join(evt.Watchers, ", ")})
	}

	return FormattedEvent{
		Title:    title,
		Body:     strings.Join(body, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,

		Kind:        evt.Type,
		WorkOrderID: evt.WorkOrderID,
		Priority:    evt.Priority,
		SLADue:      evt.SLADue,
		At:          evt.At,
	}
}
