package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/otyard/internal/dispatcher"
	"github.com/zulandar/otyard/internal/failure"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/workorder"
)

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, fmt.Sprintf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return uint(id), true
}

// queryUint parses an optional unsigned query parameter.
func queryUint(c *gin.Context, name string) (*uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		badRequest(c, fmt.Sprintf("invalid %s %q", name, raw))
		return nil, false
	}
	u := uint(v)
	return &u, true
}

func requiredCompany(c *gin.Context) (uint, bool) {
	company, ok := queryUint(c, "companyId")
	if !ok {
		return 0, false
	}
	if company == nil || *company == 0 {
		badRequest(c, "companyId is required")
		return 0, false
	}
	return *company, true
}

func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// respond writes a mutated work order and drops the company's cached board.
func (s *Server) respond(c *gin.Context, wo *models.WorkOrder, err error) {
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.dispatcher.Invalidate(c.Request.Context(), wo.CompanyID)
	c.JSON(http.StatusOK, wo)
}

func (s *Server) handleDispatcher(c *gin.Context) {
	company, ok := requiredCompany(c)
	if !ok {
		return
	}
	machine, ok := queryUint(c, "machineId")
	if !ok {
		return
	}
	view, err := s.dispatcher.View(c.Request.Context(), dispatcher.Scope{CompanyID: company, MachineID: machine})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type reportFailureRequest struct {
	CompanyID         uint       `json:"companyId"`
	MachineID         *uint      `json:"machineId"`
	ComponentID       *uint      `json:"componentId"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	CausedDowntime    bool       `json:"causedDowntime"`
	IsSafetyRelated   bool       `json:"isSafetyRelated"`
	IsObservation     bool       `json:"isObservation"`
	DowntimeStartedAt *time.Time `json:"downtimeStartedAt"`
}

func (s *Server) handleReportFailure(c *gin.Context) {
	var req reportFailureRequest
	if !bind(c, &req) {
		return
	}
	f, err := failure.Report(s.db.WithContext(c.Request.Context()), failure.ReportOpts{
		CompanyID:         req.CompanyID,
		MachineID:         req.MachineID,
		ComponentID:       req.ComponentID,
		Title:             req.Title,
		Description:       req.Description,
		CausedDowntime:    req.CausedDowntime,
		IsSafetyRelated:   req.IsSafetyRelated,
		IsObservation:     req.IsObservation,
		DowntimeStartedAt: req.DowntimeStartedAt,
		ReportedBy:        actorFrom(c).ID,
		ReportedAt:        s.workOrders.Now(),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (s *Server) handleListFailures(c *gin.Context) {
	company, ok := requiredCompany(c)
	if !ok {
		return
	}
	machine, ok := queryUint(c, "machineId")
	if !ok {
		return
	}
	out, err := failure.List(s.db.WithContext(c.Request.Context()), company, failure.ListFilters{MachineID: machine, Limit: 200})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetFailure(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	company, ok := requiredCompany(c)
	if !ok {
		return
	}
	f, err := failure.Get(s.db.WithContext(c.Request.Context()), company, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

type createRequest struct {
	CompanyID     uint       `json:"companyId"`
	MachineID     *uint      `json:"machineId"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Priority      string     `json:"priority"`
	FailureIDs    []uint     `json:"failureIds"`
	AssignedTo    string     `json:"assignedTo"`
	ScheduledDate *time.Time `json:"scheduledDate"`
	RequiresQA    bool       `json:"requiresQa"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if !bind(c, &req) {
		return
	}
	wo, err := s.workOrders.Create(c.Request.Context(), workorder.CreateOpts{
		CompanyID:     req.CompanyID,
		MachineID:     req.MachineID,
		Title:         req.Title,
		Description:   req.Description,
		Priority:      req.Priority,
		FailureIDs:    req.FailureIDs,
		AssignedTo:    req.AssignedTo,
		ScheduledDate: req.ScheduledDate,
		RequiresQA:    req.RequiresQA,
	}, actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.dispatcher.Invalidate(c.Request.Context(), wo.CompanyID)
	c.JSON(http.StatusCreated, wo)
}

func (s *Server) handleList(c *gin.Context) {
	company, ok := queryUint(c, "companyId")
	if !ok {
		return
	}
	machine, ok := queryUint(c, "machineId")
	if !ok {
		return
	}
	f := workorder.ListFilters{MachineID: machine, AssignedTo: c.Query("assignedTo")}
	if company != nil {
		f.CompanyID = *company
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := models.ParseStatus(part)
			if err != nil {
				badRequest(c, err.Error())
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		f.Limit = n
	}

	orders, err := s.workOrders.List(c.Request.Context(), f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleDetail(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	d, err := s.workOrders.Detail(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	h, err := s.workOrders.History(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handlePriorSolutions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	out, err := s.workOrders.PriorSolutions(c.Request.Context(), id, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleWatchers(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ws, err := s.workOrders.Watchers(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ws)
}

func (s *Server) handleFollow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.workOrders.Follow(c.Request.Context(), id, actorFrom(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUnfollow(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := s.workOrders.Unfollow(c.Request.Context(), id, actorFrom(c)); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAssign(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		AssignedTo string `json:"assignedTo"`
	}
	if !bind(c, &req) {
		return
	}
	wo, err := s.workOrders.Assign(c.Request.Context(), id, req.AssignedTo, actorFrom(c))
	s.respond(c, wo, err)
}

func (s *Server) handleStart(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	wo, err := s.workOrders.Start(c.Request.Context(), id, actorFrom(c))
	s.respond(c, wo, err)
}

func (s *Server) handleWait(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Reason      string     `json:"reason"`
		Description string     `json:"description"`
		ETA         *time.Time `json:"eta"`
	}
	if !bind(c, &req) {
		return
	}
	wo, err := s.workOrders.EnterWaiting(c.Request.Context(), id, workorder.WaitingInput{
		Reason:      req.Reason,
		Description: req.Description,
		ETA:         req.ETA,
	}, actorFrom(c))
	s.respond(c, wo, err)
}

func (s *Server) handleResume(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	wo, err := s.workOrders.Resume(c.Request.Context(), id, actorFrom(c))
	s.respond(c, wo, err)
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bind(c, v)
}

func (s *Server) handleConfirmRTP(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		DowntimeLogID *uint  `json:"downtimeLogId"`
		Notes         string `json:"notes"`
	}
	if !bindOptional(c, &req) {
		return
	}
	wo, err := s.workOrders.ConfirmReturnToProduction(c.Request.Context(), id, workorder.ConfirmInput{
		DowntimeLogID: req.DowntimeLogID,
		Notes:         req.Notes,
	}, actorFrom(c))
	s.respond(c, wo, err)
}

func (s *Server) handleClose(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req workorder.ClosePayload
	if !bind(c, &req) {
		return
	}
	wo, err := s.workOrders.Close(c.Request.Context(), id, req, actorFrom(c))
	s.respond(c, wo, err)
}

func (s *Server) handleCancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !bind(c, &req) {
		return
	}
	wo, err := s.workOrders.Cancel(c.Request.Context(), id, req.Reason, actorFrom(c))
	s.respond(c, wo, err)
}

func (s *Server) handleListDowntime(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	logs, err := s.workOrders.DowntimeLogs(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) handleOpenDowntime(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		StartedAt *time.Time `json:"startedAt"`
		Notes     string     `json:"notes"`
	}
	if !bindOptional(c, &req) {
		return
	}
	wo, err := s.workOrders.OpenDowntime(c.Request.Context(), id, workorder.OpenDowntimeInput{
		StartedAt: req.StartedAt,
		Notes:     req.Notes,
	}, actorFrom(c))
	s.respond(c, wo, err)
}

func (s *Server) handleListWorkLogs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entries, err := s.workOrders.WorkLogs(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleLogWork(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req struct {
		ActivityType  string     `json:"activityType"`
		Description   string     `json:"description"`
		PerformedBy   string     `json:"performedBy"`
		StartedAt     time.Time  `json:"startedAt"`
		EndedAt       *time.Time `json:"endedAt"`
		ActualMinutes *int       `json:"actualMinutes"`
	}
	if !bind(c, &req) {
		return
	}
	entry, err := s.workOrders.LogWork(c.Request.Context(), id, workorder.LogWorkInput{
		ActivityType:  req.ActivityType,
		Description:   req.Description,
		PerformedBy:   req.PerformedBy,
		StartedAt:     req.StartedAt,
		EndedAt:       req.EndedAt,
		ActualMinutes: req.ActualMinutes,
	}, actorFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}
