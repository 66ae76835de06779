package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"exam-session-engine/internal/app"
	"exam-session-engine/internal/domain"
)

// RESTHandler exposes the read and instructor operations over plain HTTP for
// clients that do not hold a websocket.
type RESTHandler struct {
	service *app.ExamService
	log     zerolog.Logger
}

func NewRESTHandler(service *app.ExamService, log zerolog.Logger) *RESTHandler {
	return &RESTHandler{service: service, log: log}
}

// Register mounts the routes on the mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/exams/{id}", h.getExam)
	mux.HandleFunc("GET /api/exams/code/{code}", h.getExamByCode)
	mux.HandleFunc("POST /api/exams/{id}/start", h.startExam)
	mux.HandleFunc("POST /api/exams/{id}/questions/{index}/push", h.pushQuestion)
	mux.HandleFunc("POST /api/exams/{id}/end", h.endExam)
	mux.HandleFunc("POST /api/exams/{id}/reset", h.resetSession)
	mux.HandleFunc("GET /api/questions/{id}/stats", h.questionStats)
	mux.HandleFunc("GET /api/exams/{id}/stats", h.cumulativeStats)
	mux.HandleFunc("GET /api/exams/{id}/leaderboard", h.leaderboard)
}

func (h *RESTHandler) getExam(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, domain.ErrExamNotFound)
		return
	}
	exam, err := h.service.ExamByID(r.Context(), examID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *RESTHandler) getExamByCode(w http.ResponseWriter, r *http.Request) {
	exam, err := h.service.ExamByAccessCode(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *RESTHandler) startExam(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, domain.ErrExamNotFound)
		return
	}
	token, exam, err := h.service.Start(r.Context(), examID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "exam": exam})
}

func (h *RESTHandler) pushQuestion(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, domain.ErrExamNotFound)
		return
	}
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, domain.ErrInvalidIndex)
		return
	}
	exam, err := h.service.PushQuestion(r.Context(), examID, instructorToken(r), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *RESTHandler) endExam(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, domain.ErrExamNotFound)
		return
	}
	exam, err := h.service.End(r.Context(), examID, instructorToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *RESTHandler) resetSession(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, domain.ErrExamNotFound)
		return
	}
	if err := h.service.ResetSession(r.Context(), examID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RESTHandler) questionStats(w http.ResponseWriter, r *http.Request) {
	questionID, err := pathID(r, "id")
	if err != nil {
		writeError(w, domain.ErrQuestionNotFound)
		return
	}
	stats, err := h.service.QuestionStats(r.Context(), questionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *RESTHandler) cumulativeStats(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, domain.ErrExamNotFound)
		return
	}
	stats, err := h.service.CumulativeStats(r.Context(), examID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *RESTHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	examID, err := pathID(r, "id")
	if err != nil {
		writeError(w, domain.ErrExamNotFound)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	leaderboard, err := h.service.Leaderboard(r.Context(), examID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaderboard)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.PathValue(key), 10, 64)
}

func instructorToken(r *http.Request) string {
	return r.Header.Get("X-Instructor-Token")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrExamNotFound),
		errors.Is(err, domain.ErrStudentNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrOptionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyStarted),
		errors.Is(err, domain.ErrAlreadyPushed),
		errors.Is(err, domain.ErrAnswerAlreadyExists),
		errors.Is(err, domain.ErrAccessCodeTaken):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrExamNotStarted),
		errors.Is(err, domain.ErrWrongQuestion),
		errors.Is(err, domain.ErrTimeExpired),
		errors.Is(err, domain.ErrInvalidIndex),
		errors.Is(err, domain.ErrInvalidSelection):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
