package handler

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/service"
	"github.com/examhall/examhall-backend/internal/session"
	ws "github.com/examhall/examhall-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live exam attempt: countdown ticks flow out once per
// second while answer and navigation actions flow in.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// wsConn serializes writes; the tick pusher and the action loop both write
// to the same connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) write(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ws.WriteTyped(w.conn, v)
}

func (w *wsConn) writeError(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = ws.WriteError(w.conn, msg)
}

// ExamSessionStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
// Upgrades to WebSocket for countdown push and real-time answering.
func (h *WSHandler) ExamSessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exam ID"})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer raw.Close()

	conn := &wsConn{conn: raw}
	studentID := claims.UserID

	if _, err := h.sessions.Get(studentID, examID); err != nil {
		conn.writeError("no active session for this exam")
		return
	}

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	done := make(chan struct{})
	defer close(done)
	go h.pushTicks(conn, studentID, examID, done)

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(raw, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, studentID, examID, &msg)
		case ws.ActionGoto:
			h.handleMove(conn, studentID, examID, func() error {
				return h.sessions.Goto(studentID, examID, msg.Index)
			})
		case ws.ActionNext:
			h.handleMove(conn, studentID, examID, func() error {
				return h.sessions.Next(studentID, examID)
			})
		case ws.ActionPrevious:
			h.handleMove(conn, studentID, examID, func() error {
				return h.sessions.Previous(studentID, examID)
			})
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, studentID, examID)
		case ws.ActionPing:
			_ = conn.write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.writeError("unknown action: " + string(msg.Action))
		}
	}
}

// pushTicks streams the countdown once per second. When the session turns
// terminal, including expiry under the server clock, the final score is
// pushed and the stream ends.
func (h *WSHandler) pushTicks(conn *wsConn, studentID int, examID uuid.UUID, done <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sess, err := h.sessions.Get(studentID, examID)
			if err != nil {
				return
			}

			if sess.Status() != session.StatusActive {
				if res, ok := sess.Result(); ok {
					_ = conn.write(ws.SubmittedResponse{
						Event:  ws.EventSubmitted,
						Status: string(sess.Status()),
						Score:  res.ScorePercent,
					})
				}
				return
			}

			if err := conn.write(ws.TickResponse{
				Event:            ws.EventTick,
				RemainingSeconds: sess.RemainingSeconds(),
			}); err != nil {
				return
			}
		}
	}
}

// handleAnswer records, overwrites or clears a choice for one question.
func (h *WSHandler) handleAnswer(conn *wsConn, studentID int, examID uuid.UUID, msg *ws.RequestPayload) {
	if msg.QID == "" {
		conn.writeError("q_id is required")
		return
	}

	// Reject malformed ids before they reach the session.
	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		conn.writeError("invalid q_id format")
		return
	}

	if err := h.sessions.Answer(studentID, examID, questionID, session.Label(msg.Ans)); err != nil {
		conn.writeError(sessionErrMessage(err))
		return
	}

	state, err := h.sessions.State(studentID, examID)
	if err != nil {
		conn.writeError(sessionErrMessage(err))
		return
	}
	_ = conn.write(ws.SavedResponse{
		Event:         ws.EventSaved,
		CurrentIndex:  state.CurrentIndex,
		AnsweredCount: state.AnsweredCount,
	})
}

// handleMove runs a navigation action and acknowledges the new cursor.
func (h *WSHandler) handleMove(conn *wsConn, studentID int, examID uuid.UUID, move func() error) {
	if err := move(); err != nil {
		conn.writeError(sessionErrMessage(err))
		return
	}
	state, err := h.sessions.State(studentID, examID)
	if err != nil {
		conn.writeError(sessionErrMessage(err))
		return
	}
	_ = conn.write(ws.SavedResponse{
		Event:         ws.EventSaved,
		CurrentIndex:  state.CurrentIndex,
		AnsweredCount: state.AnsweredCount,
	})
}

// handleSubmit finalizes the attempt and pushes the score.
func (h *WSHandler) handleSubmit(conn *wsConn, wsLog zerolog.Logger, studentID int, examID uuid.UUID) {
	res, err := h.sessions.Submit(studentID, examID)
	if err != nil {
		conn.writeError(sessionErrMessage(err))
		return
	}

	wsLog.Info().Float64("score", res.ScorePercent).Msg("Exam submitted over WebSocket")

	_ = conn.write(ws.SubmittedResponse{
		Event:  ws.EventSubmitted,
		Status: string(session.StatusSubmitted),
		Score:  res.ScorePercent,
	})
}

func sessionErrMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrNoActiveSession):
		return "no active session for this exam"
	case errors.Is(err, session.ErrSessionClosed):
		return "session is already finished"
	case errors.Is(err, session.ErrInvalidLabel):
		return "answer must be A, B, C, D or empty"
	case errors.Is(err, session.ErrUnknownQuestion):
		return "question does not belong to this exam"
	default:
		return "request failed"
	}
}
