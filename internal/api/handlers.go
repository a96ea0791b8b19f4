package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/quiz"
	"github.com/p-n-ai/pai-progress/internal/report"
)

type completeNodesRequest struct {
	RoadmapID string   `json:"roadmapId" validate:"required"`
	NodeIDs   []string `json:"nodeIds" validate:"required,min=1,dive,required"`
}

// techStackRequest names the branch by stack label or by one of its
// elective roadmaps.
type techStackRequest struct {
	MasterID  string `json:"masterId" validate:"required"`
	TechStack string `json:"techStack" validate:"required_without=RoadmapID"`
	RoadmapID string `json:"roadmapId" validate:"required_without=TechStack"`
}

type startQuizRequest struct {
	RoadmapID string `json:"roadmapId" validate:"required"`
}

type submitQuizRequest struct {
	AttemptID string        `json:"attemptId" validate:"required"`
	Answers   []quiz.Answer `json:"answers" validate:"dive"`
}

type certificateRequest struct {
	RoadmapID string `json:"roadmapId" validate:"required"`
}

// GET /progress/unlock-status?masterId=&userId=
// userId defaults to the caller; only admins may ask about someone else.
func (s *Server) handleUnlockStatus(w http.ResponseWriter, r *http.Request, id Identity) {
	q := r.URL.Query()
	masterID := q.Get("masterId")
	if masterID == "" {
		writeError(w, apperr.Validation("masterId is required"))
		return
	}
	userID := q.Get("userId")
	switch {
	case userID == "":
		userID = id.UserID
	case userID != id.UserID && !id.Admin:
		writeError(w, apperr.New(apperr.KindForbidden, "cannot read another user's progress"))
		return
	}

	st, err := s.engine.UnlockStatus(r.Context(), userID, masterID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// POST /progress/nodes/complete
func (s *Server) handleCompleteNodes(w http.ResponseWriter, r *http.Request, id Identity) {
	var req completeNodesRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.engine.CompleteNodes(r.Context(), id.UserID, req.RoadmapID, req.NodeIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// POST /progress/tech-stack
func (s *Server) handleChooseTechStack(w http.ResponseWriter, r *http.Request, id Identity) {
	var req techStackRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	choice := req.TechStack
	if choice == "" {
		choice = req.RoadmapID
	}
	st, err := s.engine.ChooseTechStack(r.Context(), id.UserID, req.MasterID, choice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRoadmapProgress(w http.ResponseWriter, r *http.Request, id Identity) {
	p, err := s.engine.RoadmapProgress(r.Context(), id.UserID, r.PathValue("roadmapId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleMasterProgress(w http.ResponseWriter, r *http.Request, id Identity) {
	p, err := s.engine.MasterProgress(r.Context(), id.UserID, r.PathValue("masterId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /quiz/start
func (s *Server) handleStartQuiz(w http.ResponseWriter, r *http.Request, id Identity) {
	var req startQuizRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.engine.StartQuiz(r.Context(), id.UserID, req.RoadmapID)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if session.Resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, session)
}

// POST /quiz/submit
func (s *Server) handleSubmitQuiz(w http.ResponseWriter, r *http.Request, id Identity) {
	var req submitQuizRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.engine.SubmitQuiz(r.Context(), id.UserID, req.AttemptID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request, id Identity) {
	a, err := s.engine.Attempt(r.Context(), id.UserID, r.PathValue("attemptId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GET /quiz/results?roadmapId=
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request, id Identity) {
	roadmapID := r.URL.Query().Get("roadmapId")
	if roadmapID == "" {
		writeError(w, apperr.Validation("roadmapId is required"))
		return
	}
	results, err := s.engine.Results(r.Context(), id.UserID, roadmapID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": nonNil(results)})
}

// GET /quiz/weak-topics?limit=
func (s *Server) handleWeakTopics(w http.ResponseWriter, r *http.Request, id Identity) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	topics, err := s.engine.WeakTopics(r.Context(), id.UserID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": nonNil(topics)})
}

// GET /certificate?roadmapId=
func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request, id Identity) {
	roadmapID := r.URL.Query().Get("roadmapId")
	if roadmapID == "" {
		writeError(w, apperr.Validation("roadmapId is required"))
		return
	}
	c, err := s.engine.Certificate(r.Context(), id.UserID, roadmapID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// POST /certificate
func (s *Server) handleIssueCertificate(w http.ResponseWriter, r *http.Request, id Identity) {
	var req certificateRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.engine.IssueCertificate(r.Context(), id.UserID, req.RoadmapID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleListCertificates(w http.ResponseWriter, r *http.Request, id Identity) {
	certs, err := s.engine.Certificates(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": nonNil(certs)})
}

// GET /certificates/{certificateId}/verify?code=
// Public: anyone holding the printed code can check it.
func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperr.Validation("code is required"))
		return
	}
	c, err := s.engine.VerifyCertificate(r.Context(), r.PathValue("certificateId"), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "certificate": c})
}

// GET /admin/reports/quiz-results?roadmapId=
func (s *Server) handleQuizResultsReport(w http.ResponseWriter, r *http.Request, _ Identity) {
	roadmapID := r.URL.Query().Get("roadmapId")
	results, err := s.engine.AllResults(r.Context(), roadmapID)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteQuizResults(&buf, results); err != nil {
		writeError(w, err)
		return
	}

	name := "quiz-results"
	if roadmapID != "" {
		name += "-" + roadmapID
	}
	name += "-" + time.Now().UTC().Format("20060102") + ".xlsx"

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// DELETE /admin/users/{userId}
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, _ Identity) {
	if err := s.engine.DeleteUser(r.Context(), r.PathValue("userId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /ws/progress
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, id Identity) {
	s.hub.Serve(w, r, id.UserID)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
