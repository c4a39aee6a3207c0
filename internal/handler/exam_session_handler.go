package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/response"
	"github.com/examhall/examhall-backend/internal/service"
	"github.com/examhall/examhall-backend/internal/session"
	"github.com/examhall/examhall-backend/internal/validator"
)

// ExamSessionHandler drives a student's live exam attempt over HTTP.
type ExamSessionHandler struct {
	sessions *service.SessionService
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(sessions *service.SessionService) *ExamSessionHandler {
	return &ExamSessionHandler{sessions: sessions}
}

// AnswerBody records, overwrites or clears a choice. An empty ans clears.
type AnswerBody struct {
	QID string `json:"q_id" binding:"required,uuid"`
	Ans string `json:"ans" binding:"omitempty,oneof=A B C D"`
}

// GotoBody moves the cursor to an absolute question index.
type GotoBody struct {
	Index int `json:"index" binding:"min=0"`
}

// Start godoc
// POST /api/v1/student/exams/:exam_id/session
// Begins an exam attempt, or resumes the running one on reconnect.
func (h *ExamSessionHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if _, err := h.sessions.Start(c.Request.Context(), claims.UserID, examID); err != nil {
		switch {
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		case errors.Is(err, session.ErrNoQuestions):
			response.Fail(c, http.StatusConflict, response.ErrNoQuestions)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	state, err := h.sessions.State(claims.UserID, examID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": state})
}

// GetState godoc
// GET /api/v1/student/exams/:exam_id/session
// Snapshots the live session: countdown, cursor, answer map.
func (h *ExamSessionHandler) GetState(c *gin.Context) {
	claims, examID, ok := h.sessionScope(c)
	if !ok {
		return
	}

	state, err := h.sessions.State(claims.UserID, examID)
	if err != nil {
		h.failSessionErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": state})
}

// Answer godoc
// POST /api/v1/student/exams/:exam_id/session/answer
func (h *ExamSessionHandler) Answer(c *gin.Context) {
	claims, examID, ok := h.sessionScope(c)
	if !ok {
		return
	}

	var body AnswerBody
	if fields := validator.Bind(c, &body); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questionID, err := uuid.Parse(body.QID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.sessions.Answer(claims.UserID, examID, questionID, session.Label(body.Ans)); err != nil {
		h.failSessionErr(c, err)
		return
	}

	state, err := h.sessions.State(claims.UserID, examID)
	if err != nil {
		h.failSessionErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"answered_count": state.AnsweredCount,
	})
}

// Goto godoc
// POST /api/v1/student/exams/:exam_id/session/goto
func (h *ExamSessionHandler) Goto(c *gin.Context) {
	claims, examID, ok := h.sessionScope(c)
	if !ok {
		return
	}

	var body GotoBody
	if fields := validator.Bind(c, &body); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.Goto(claims.UserID, examID, body.Index); err != nil {
		h.failSessionErr(c, err)
		return
	}
	h.respondCursor(c, claims.UserID, examID)
}

// Next godoc
// POST /api/v1/student/exams/:exam_id/session/next
func (h *ExamSessionHandler) Next(c *gin.Context) {
	claims, examID, ok := h.sessionScope(c)
	if !ok {
		return
	}
	if err := h.sessions.Next(claims.UserID, examID); err != nil {
		h.failSessionErr(c, err)
		return
	}
	h.respondCursor(c, claims.UserID, examID)
}

// Previous godoc
// POST /api/v1/student/exams/:exam_id/session/previous
func (h *ExamSessionHandler) Previous(c *gin.Context) {
	claims, examID, ok := h.sessionScope(c)
	if !ok {
		return
	}
	if err := h.sessions.Previous(claims.UserID, examID); err != nil {
		h.failSessionErr(c, err)
		return
	}
	h.respondCursor(c, claims.UserID, examID)
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/session/submit
// Finalizes the attempt and returns the score.
func (h *ExamSessionHandler) Submit(c *gin.Context) {
	claims, examID, ok := h.sessionScope(c)
	if !ok {
		return
	}

	res, err := h.sessions.Submit(claims.UserID, examID)
	if err != nil {
		h.failSessionErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"score_percent": res.ScorePercent,
		"submitted_at":  res.SubmittedAt,
	})
}

// GetReview godoc
// GET /api/v1/student/exams/:exam_id/session/review
// Returns the per-question breakdown of a finished attempt.
func (h *ExamSessionHandler) GetReview(c *gin.Context) {
	claims, examID, ok := h.sessionScope(c)
	if !ok {
		return
	}

	state, err := h.sessions.State(claims.UserID, examID)
	if err != nil {
		h.failSessionErr(c, err)
		return
	}
	if state.Status == session.StatusActive {
		response.Fail(c, http.StatusConflict, response.ErrSessionStillOpen)
		return
	}

	items, err := h.sessions.Review(claims.UserID, examID)
	if err != nil {
		h.failSessionErr(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"status":        state.Status,
		"score_percent": scoreOf(h.sessions, claims.UserID, examID),
		"review":        items,
	})
}

func scoreOf(sessions *service.SessionService, studentID int, examID uuid.UUID) float64 {
	sess, err := sessions.Get(studentID, examID)
	if err != nil {
		return 0
	}
	res, ok := sess.Result()
	if !ok {
		return 0
	}
	return res.ScorePercent
}

// sessionScope extracts the claims and exam id shared by every session route.
func (h *ExamSessionHandler) sessionScope(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, examID, true
}

func (h *ExamSessionHandler) respondCursor(c *gin.Context, studentID int, examID uuid.UUID) {
	state, err := h.sessions.State(studentID, examID)
	if err != nil {
		h.failSessionErr(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"current_index": state.CurrentIndex})
}

// failSessionErr maps session errors onto the API error taxonomy.
func (h *ExamSessionHandler) failSessionErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoActiveSession):
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
	case errors.Is(err, session.ErrSessionClosed):
		response.Fail(c, http.StatusConflict, response.ErrSessionClosed)
	case errors.Is(err, session.ErrInvalidLabel):
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidLabel)
	case errors.Is(err, session.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
