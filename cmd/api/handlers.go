package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"classtrack/internal/audit"
	"classtrack/internal/auth"
	"classtrack/internal/checkin"
	"classtrack/internal/queue"
	"classtrack/internal/report"
	"classtrack/internal/session"
	"classtrack/internal/token"
)

// Handler exposes the engine over HTTP. Error taxonomy maps to status codes
// here so clients get a specific rejection reason, not a generic failure.
type Handler struct {
	sessions *session.Manager
	tokens   *token.Generator
	coord    *checkin.Coordinator
	reports  *report.Service
	events   queue.Queue
}

// NewHandler wires the engine services into HTTP handlers.
func NewHandler(sessions *session.Manager, tokens *token.Generator, coord *checkin.Coordinator, reports *report.Service, events queue.Queue) *Handler {
	return &Handler{sessions: sessions, tokens: tokens, coord: coord, reports: reports, events: events}
}

// ---------- Sessions ----------

type createSessionRequest struct {
	CourseID      string    `json:"course_id" binding:"required"`
	StartTime     time.Time `json:"start_time" binding:"required"`
	EndTime       time.Time `json:"end_time" binding:"required"`
	LateThreshold string    `json:"late_threshold"`
	Location      string    `json:"location"`
}

// CreateSession creates a Scheduled session owned by the calling teacher.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var threshold time.Duration
	if req.LateThreshold != "" {
		var err error
		threshold, err = time.ParseDuration(req.LateThreshold)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "late_threshold must be a duration like 10m"})
			return
		}
	}
	claims := auth.ClaimsFrom(c)
	s, err := h.sessions.Create(c.Request.Context(), session.CreateInput{
		CourseID:      req.CourseID,
		TeacherID:     claims.Subject,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		LateThreshold: threshold,
		Location:      req.Location,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// ActivateSession transitions Scheduled -> Active and issues the initial token.
func (h *Handler) ActivateSession(c *gin.Context) {
	s, err := h.sessions.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	t, err := h.tokens.RotateIfNeeded(c.Request.Context(), s.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s, "token": t})
}

// CloseSession transitions Active -> Closed; closing a Closed session is a no-op.
func (h *Handler) CloseSession(c *gin.Context) {
	s, err := h.sessions.Close(c.Request.Context(), c.Param("id"), "explicit")
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// GetSession returns one session.
func (h *Handler) GetSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// CurrentToken returns the session's current token for display as a
// scannable code. Polled by the teacher's screen; rotation happens lazily
// here as well as on the sweep tick.
func (h *Handler) CurrentToken(c *gin.Context) {
	t, err := h.tokens.RotateIfNeeded(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": t.SessionID,
		"value":      t.Value,
		"expires_at": t.ExpiresAt,
	})
}

// ---------- Check-ins ----------

type submitCheckinRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Method    string `json:"method" binding:"required"`
	Token     string `json:"token"`
	Location  string `json:"location"`
}

// SubmitCheckin records one attendance attempt, QR or manual.
func (h *Handler) SubmitCheckin(c *gin.Context) {
	var req submitCheckinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := auth.ClaimsFrom(c)
	rec, err := h.coord.Submit(c.Request.Context(), checkin.SubmitInput{
		SessionID: c.Param("id"),
		StudentID: req.StudentID,
		Method:    checkin.Method(req.Method),
		Token:     req.Token,
		ActorID:   claims.Subject,
		Location:  req.Location,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(c.Request.Context(), audit.Event{
		Kind:       audit.KindCheckin,
		SessionID:  rec.SessionID,
		SubjectID:  rec.StudentID,
		ActorID:    claims.Subject,
		Detail:     string(rec.Status),
		OccurredAt: rec.CheckInTime,
	})
	c.JSON(http.StatusCreated, rec)
}

type overrideRequest struct {
	Remark string `json:"remark" binding:"required"`
}

// OverrideCheckin applies a teacher's status override to an existing record.
func (h *Handler) OverrideCheckin(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims := auth.ClaimsFrom(c)
	rec, err := h.coord.Override(c.Request.Context(), c.Param("id"), c.Param("student"), claims.Subject, req.Remark)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.publish(c.Request.Context(), audit.Event{
		Kind:       audit.KindOverride,
		SessionID:  rec.SessionID,
		SubjectID:  rec.StudentID,
		ActorID:    claims.Subject,
		Detail:     req.Remark,
		OccurredAt: time.Now().UTC(),
	})
	c.JSON(http.StatusOK, rec)
}

// ---------- Reporting ----------

// SessionRate returns present/late/absent counts for a Closed session.
func (h *Handler) SessionRate(c *gin.Context) {
	rate, err := h.reports.Rate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rate)
}

// SessionAbsentees lists enrolled students without a record, Closed sessions only.
func (h *Handler) SessionAbsentees(c *gin.Context) {
	absent, err := h.reports.Absentees(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"absent": absent})
}

// History returns one student's records across a course.
func (h *Handler) History(c *gin.Context) {
	studentID := c.Query("student_id")
	courseID := c.Query("course_id")
	if studentID == "" || courseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "student_id and course_id are required"})
		return
	}
	recs, err := h.reports.HistoryFor(c.Request.Context(), studentID, courseID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// ---------- Helpers ----------

func (h *Handler) publish(ctx context.Context, e audit.Event) {
	body, err := e.Encode()
	if err != nil {
		log.Printf("audit encode failed: %v", err)
		return
	}
	if err := h.events.Publish(ctx, queue.Message{Type: e.Kind, Body: body}); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrInvalidWindow):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrForbidden), errors.Is(err, checkin.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, session.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNotFound), errors.Is(err, checkin.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, checkin.ErrSessionNotActive), errors.Is(err, token.ErrSessionNotActive):
		status = http.StatusConflict
	case errors.Is(err, checkin.ErrInvalidToken):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, checkin.ErrNotEnrolled):
		status = http.StatusForbidden
	case errors.Is(err, checkin.ErrAlreadyCheckedIn):
		status = http.StatusConflict
	case errors.Is(err, report.ErrSessionNotClosed):
		status = http.StatusConflict
	case errors.Is(err, checkin.ErrDependencyTimeout):
		status = http.StatusGatewayTimeout
	default:
		log.Printf("request failed: %v", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
