package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/crewline/crewd/internal/engagement"
	"github.com/crewline/crewd/internal/ledger"
	"github.com/crewline/crewd/internal/logging"
	"github.com/crewline/crewd/internal/workflows"
)

const ledgerContextKey = "crewd.ledger"

// requireOwner loads the project ledger and rejects callers that are not
// the project owner. The loaded ledger is stashed on the request context
// so handlers do not read it twice.
func (s *Server) requireOwner(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		projectID := c.Param("id")
		ctx := logging.WithProjectID(c.Request().Context(), projectID)
		c.SetRequest(c.Request().WithContext(ctx))

		l, err := s.deps.Ledger.Read(ctx, projectID)
		if err != nil {
			s.logger.Error(ctx, "failed to read ledger", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to load project")
		}

		// A ledger read never fails on absence; a project that was never
		// created comes back with no owner.
		if l.OwnerID == "" {
			return echo.NewHTTPError(http.StatusNotFound, "project not found")
		}
		if c.Request().Header.Get(ownerHeader) != l.OwnerID {
			return echo.NewHTTPError(http.StatusForbidden, "caller is not the project owner")
		}

		c.Set(ledgerContextKey, l)
		return next(c)
	}
}

func projectLedger(c echo.Context) *ledger.TaskLedger {
	return c.Get(ledgerContextKey).(*ledger.TaskLedger)
}

// CreateProjectRequest is the request body for POST /api/v1/projects.
type CreateProjectRequest struct {
	Name     string `json:"name"`
	Customer string `json:"customer"`
	OwnerID  string `json:"owner_id"`
	SOW      string `json:"sow,omitempty"`
}

// CreateProjectResponse is the response body for POST /api/v1/projects.
type CreateProjectResponse struct {
	ProjectID string `json:"project_id"`
}

// handleCreateProject creates the project ledger and starts the
// engagement workflow.
func (s *Server) handleCreateProject(c echo.Context) error {
	var req CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || req.OwnerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and owner_id fields are required")
	}

	projectID := uuid.NewString()
	ctx := logging.WithProjectID(c.Request().Context(), projectID)
	now := time.Now().UTC()

	l := ledger.NewTaskLedger(projectID)
	l.ProjectName = req.Name
	l.Customer = req.Customer
	l.OwnerID = req.OwnerID
	l.CreatedAt = now
	if req.SOW != "" {
		l.Facts = append(l.Facts, ledger.Fact{
			Description: req.SOW,
			Source:      "statement of work",
			Timestamp:   now,
		})
	}

	if err := s.deps.Ledger.Write(ctx, projectID, l); err != nil {
		s.logger.Error(ctx, "failed to create project ledger", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create project")
	}

	if err := s.deps.Engine.StartEngagement(ctx, workflows.EngagementInput{
		ProjectID:   projectID,
		ProjectName: req.Name,
		OwnerID:     req.OwnerID,
	}); err != nil {
		s.logger.Error(ctx, "failed to start engagement", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start engagement")
	}

	s.logger.Info(ctx, "project created", zap.String("owner_id", req.OwnerID))

	return c.JSON(http.StatusCreated, CreateProjectResponse{ProjectID: projectID})
}

// StatusResponse is the response body for GET /api/v1/projects/:id/status.
type StatusResponse struct {
	ProjectID    string    `json:"project_id"`
	ProjectName  string    `json:"project_name"`
	Customer     string    `json:"customer"`
	CurrentPhase string    `json:"current_phase"`
	PhaseStatus  string    `json:"phase_status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Server) handleStatus(c echo.Context) error {
	l := projectLedger(c)
	return c.JSON(http.StatusOK, StatusResponse{
		ProjectID:    l.ProjectID,
		ProjectName:  l.ProjectName,
		Customer:     l.Customer,
		CurrentPhase: l.CurrentPhase.String(),
		PhaseStatus:  string(l.PhaseStatus),
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	})
}

func (s *Server) handleDeliverables(c echo.Context) error {
	return c.JSON(http.StatusOK, projectLedger(c).Deliverables)
}

// handleDeliverableFile serves the current content of one artifact from
// the project's git-backed store.
func (s *Server) handleDeliverableFile(c echo.Context) error {
	path := c.Param("*")

	content, err := s.deps.Artifacts.ReadFile(c.Request().Context(), c.Param("id"), path)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "deliverable not found")
	}
	return c.Blob(http.StatusOK, echo.MIMEOctetStream, content)
}

// ReviseRequest is the request body for the revise action.
type ReviseRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleApprove(c echo.Context) error {
	return s.resolveGate(c, workflows.GateDecision{Approved: true})
}

func (s *Server) handleRevise(c echo.Context) error {
	var req ReviseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Feedback == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback field is required")
	}
	return s.resolveGate(c, workflows.GateDecision{Approved: false, Feedback: req.Feedback})
}

// resolveGate consumes the phase's approval token and completes the gate
// activity with the customer's decision. The token is deleted before the
// gate resolves, so a decision is delivered at most once.
func (s *Server) resolveGate(c echo.Context, decision workflows.GateDecision) error {
	ctx := c.Request().Context()
	projectID := c.Param("id")

	phase, err := engagement.ParsePhase(c.Param("phase"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	token, err := s.deps.Approvals.Fetch(ctx, projectID, phase)
	if err != nil {
		s.logger.Error(ctx, "failed to fetch approval token", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch approval token")
	}
	if token == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no approval pending for this phase")
	}

	if err := s.deps.Approvals.Delete(ctx, projectID, phase); err != nil {
		s.logger.Error(ctx, "failed to consume approval token", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to consume approval token")
	}

	if err := s.deps.Engine.CompleteGate(ctx, token.TaskToken, decision); err != nil {
		s.logger.Error(ctx, "failed to complete approval gate",
			zap.String("phase", phase.String()), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to deliver decision")
	}

	return c.NoContent(http.StatusAccepted)
}

// AnswerRequest is the request body for answering an interrupt.
type AnswerRequest struct {
	Response string `json:"response"`
}

func (s *Server) handleAnswerInterrupt(c echo.Context) error {
	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Response == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "response field is required")
	}

	ctx := c.Request().Context()
	projectID := c.Param("id")
	interruptID := c.Param("iid")

	record, err := s.deps.Interrupts.Get(ctx, projectID, interruptID)
	if err != nil {
		s.logger.Error(ctx, "failed to get interrupt", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load interrupt")
	}
	if record == nil {
		return echo.NewHTTPError(http.StatusNotFound, "interrupt not found")
	}

	if err := s.deps.Interrupts.Answer(ctx, projectID, interruptID, req.Response); err != nil {
		s.logger.Error(ctx, "failed to answer interrupt", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record answer")
	}

	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleBoard(c echo.Context) error {
	ctx := c.Request().Context()
	tasks, err := s.deps.Board.List(ctx, c.Param("id"), "")
	if err != nil {
		s.logger.Error(ctx, "failed to list board tasks", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list tasks")
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleChatList(c echo.Context) error {
	ctx := c.Request().Context()
	messages, err := s.deps.Chat.List(ctx, c.Param("id"))
	if err != nil {
		s.logger.Error(ctx, "failed to list chat messages", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list messages")
	}
	return c.JSON(http.StatusOK, messages)
}

// ChatPostRequest is the request body for POST /api/v1/projects/:id/chat.
type ChatPostRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

func (s *Server) handleChatPost(c echo.Context) error {
	var req ChatPostRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Author == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "author and content fields are required")
	}

	ctx := c.Request().Context()
	msg, err := s.deps.Chat.Append(ctx, c.Param("id"), req.Author, req.Content)
	if err != nil {
		s.logger.Error(ctx, "failed to append chat message", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store message")
	}
	return c.JSON(http.StatusCreated, msg)
}
