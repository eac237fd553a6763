package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/auth"
	"live-quiz-service/internal/domain"
)

// API serves the JSON endpoints. The caller is always taken from the request context.
type API struct {
	coord Coordinator
}

type joinRequest struct {
	DisplayName string `json:"displayName"`
}

type joinResponse struct {
	app.JoinResult
	Session sessionView `json:"session"`
}

type answerRequest struct {
	QuestionIndex *int `json:"questionIndex"`
	Option        *int `json:"option"`
}

type selectRequest struct {
	Item string `json:"item"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	var req app.CreateSessionRequest
	if err := readJSON(r.Body, &req); err != nil {
		respondError(w, err)
		return
	}
	s, err := a.coord.CreateSession(r.Context(), caller, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, a.view(s, caller), http.StatusCreated)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	s, err := a.coord.Session(r.Context(), caller, chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, a.view(s, caller), http.StatusOK)
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	s, err := a.coord.StartSession(r.Context(), caller, chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, a.view(s, caller), http.StatusOK)
}

func (a *API) advanceQuestion(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	s, err := a.coord.AdvanceQuestion(r.Context(), caller, chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, a.view(s, caller), http.StatusOK)
}

func (a *API) joinSession(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	var req joinRequest
	if err := readJSON(r.Body, &req); err != nil {
		respondError(w, err)
		return
	}
	res, err := a.coord.JoinSession(r.Context(), caller, chi.URLParam(r, "code"), req.DisplayName)
	if err != nil {
		respondError(w, err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyJoined {
		status = http.StatusOK
	}
	respondJSON(w, joinResponse{JoinResult: res, Session: a.view(res.Session, caller)}, status)
}

func (a *API) submitAnswer(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	var req answerRequest
	if err := readJSON(r.Body, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.QuestionIndex == nil || req.Option == nil {
		respondError(w, domain.New(domain.CodeInvalidArgument, "questionIndex and option are required"))
		return
	}
	res, err := a.coord.SubmitAnswer(r.Context(), caller, chi.URLParam(r, "code"), *req.QuestionIndex, *req.Option)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (a *API) settleCompletion(w http.ResponseWriter, r *http.Request) {
	caller := auth.FromContext(r.Context())
	res, err := a.coord.SettleCompletion(r.Context(), caller, chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (a *API) spinWheel(w http.ResponseWriter, r *http.Request) {
	res, err := a.coord.SpinPrizeWheel(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (a *API) wheelHistory(w http.ResponseWriter, r *http.Request) {
	grants, err := a.coord.Grants(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	if grants == nil {
		grants = []domain.RewardGrant{}
	}
	respondJSON(w, grants, http.StatusOK)
}

func (a *API) listQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := a.coord.Quizzes(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	if quizzes == nil {
		quizzes = []domain.Quiz{}
	}
	respondJSON(w, quizzes, http.StatusOK)
}

func (a *API) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.coord.Profile(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, p, http.StatusOK)
}

func (a *API) selectItem(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := readJSON(r.Body, &req); err != nil {
		respondError(w, err)
		return
	}
	p, err := a.coord.SelectItem(r.Context(), auth.FromContext(r.Context()), req.Item)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, p, http.StatusOK)
}

func (a *API) buyPack(w http.ResponseWriter, r *http.Request) {
	res, err := a.coord.BuyPack(r.Context(), auth.FromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, res, http.StatusOK)
}

func (a *API) view(s domain.Session, caller domain.Identity) sessionView {
	return newSessionView(s, caller, a.coord.JoinURL(s.Code))
}
