package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/remote"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

// RESTHandler serves the session REST API rooted at /sessions. Mount it
// under the API prefix with http.StripPrefix.
func RESTHandler(svc *Service) http.Handler {
	mux := http.NewServeMux()
	h := &restHandler{svc: svc}

	mux.HandleFunc("POST /sessions", h.create)
	mux.HandleFunc("POST /sessions/{code}/join", h.join)
	mux.HandleFunc("GET /sessions/{code}", h.get)
	mux.HandleFunc("DELETE /sessions/{code}/participants/{id}", h.leave)
	mux.HandleFunc("POST /sessions/{code}/start", h.action(svc.StartVoting))
	mux.HandleFunc("POST /sessions/{code}/vote", h.vote)
	mux.HandleFunc("POST /sessions/{code}/reveal", h.action(svc.RevealVotes))
	mux.HandleFunc("POST /sessions/{code}/next-round", h.action(svc.NextRound))
	mux.HandleFunc("POST /sessions/{code}/participants/{id}/remove", h.remove)
	return mux
}

type restHandler struct {
	svc *Service
}

func (h *restHandler) create(w http.ResponseWriter, r *http.Request) {
	var profile events.Profile
	if !decodeBody(w, r, &profile) {
		return
	}
	res, err := h.svc.CreateSession(r.Context(), profile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *restHandler) join(w http.ResponseWriter, r *http.Request) {
	var profile events.Profile
	if !decodeBody(w, r, &profile) {
		return
	}
	res, err := h.svc.JoinSession(r.Context(), r.PathValue("code"), profile)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *restHandler) get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetSession(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *restHandler) leave(w http.ResponseWriter, r *http.Request) {
	id, ok := participantID(w, r)
	if !ok {
		return
	}
	if err := h.svc.LeaveSession(r.Context(), r.PathValue("code"), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) remove(w http.ResponseWriter, r *http.Request) {
	id, ok := participantID(w, r)
	if !ok {
		return
	}
	if err := h.svc.RemoveParticipant(r.Context(), r.PathValue("code"), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) vote(w http.ResponseWriter, r *http.Request) {
	var req events.VoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := vote.Parse(req.CardValue)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.SubmitVote(r.Context(), r.PathValue("code"), req.ParticipantID, v); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandler) action(fn func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), r.PathValue("code")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func participantID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid participant id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrWrongPhase), errors.Is(err, ErrAlreadyVoted):
		return http.StatusConflict
	case errors.Is(err, vote.ErrInvalidValue):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("mock api request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func connectError(err error) error {
	code := connect.CodeInternal
	switch httpStatus(err) {
	case http.StatusNotFound:
		code = connect.CodeNotFound
	case http.StatusConflict:
		code = connect.CodeFailedPrecondition
	case http.StatusUnprocessableEntity:
		code = connect.CodeInvalidArgument
	}
	return connect.NewError(code, err)
}

// RegisterConnect mounts the Connect procedures of the session service on mux.
func RegisterConnect(mux *http.ServeMux, svc *Service) {
	opt := connect.WithCodec(remote.JSONCodec{})

	mux.Handle(remote.CreateSessionProcedure, connect.NewUnaryHandler(remote.CreateSessionProcedure,
		func(ctx context.Context, req *connect.Request[events.Profile]) (*connect.Response[events.JoinResult], error) {
			res, err := svc.CreateSession(ctx, *req.Msg)
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(res), nil
		}, opt))

	mux.Handle(remote.JoinSessionProcedure, connect.NewUnaryHandler(remote.JoinSessionProcedure,
		func(ctx context.Context, req *connect.Request[remote.JoinRequest]) (*connect.Response[events.JoinResult], error) {
			res, err := svc.JoinSession(ctx, req.Msg.Code, events.Profile{Name: req.Msg.Name, Emoji: req.Msg.Emoji})
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(res), nil
		}, opt))

	mux.Handle(remote.GetSessionProcedure, connect.NewUnaryHandler(remote.GetSessionProcedure,
		func(ctx context.Context, req *connect.Request[remote.CodeRequest]) (*connect.Response[events.Snapshot], error) {
			snap, err := svc.GetSession(ctx, req.Msg.Code)
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(snap), nil
		}, opt))

	mux.Handle(remote.LeaveSessionProcedure, connect.NewUnaryHandler(remote.LeaveSessionProcedure,
		func(ctx context.Context, req *connect.Request[remote.ParticipantRequest]) (*connect.Response[remote.Empty], error) {
			if err := svc.LeaveSession(ctx, req.Msg.Code, req.Msg.ParticipantID); err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(&remote.Empty{}), nil
		}, opt))

	mux.Handle(remote.RemoveParticipantProcedure, connect.NewUnaryHandler(remote.RemoveParticipantProcedure,
		func(ctx context.Context, req *connect.Request[remote.ParticipantRequest]) (*connect.Response[remote.Empty], error) {
			if err := svc.RemoveParticipant(ctx, req.Msg.Code, req.Msg.ParticipantID); err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(&remote.Empty{}), nil
		}, opt))

	mux.Handle(remote.SubmitVoteProcedure, connect.NewUnaryHandler(remote.SubmitVoteProcedure,
		func(ctx context.Context, req *connect.Request[remote.SubmitVoteRequest]) (*connect.Response[remote.Empty], error) {
			v, err := vote.Parse(req.Msg.CardValue)
			if err == nil {
				err = svc.SubmitVote(ctx, req.Msg.Code, req.Msg.ParticipantID, v)
			}
			if err != nil {
				return nil, connectError(err)
			}
			return connect.NewResponse(&remote.Empty{}), nil
		}, opt))

	for procedure, fn := range map[string]func(context.Context, string) error{
		remote.StartVotingProcedure: svc.StartVoting,
		remote.RevealVotesProcedure: svc.RevealVotes,
		remote.NextRoundProcedure:   svc.NextRound,
	} {
		mux.Handle(procedure, connect.NewUnaryHandler(procedure,
			func(ctx context.Context, req *connect.Request[remote.CodeRequest]) (*connect.Response[remote.Empty], error) {
				if err := fn(ctx, req.Msg.Code); err != nil {
					return nil, connectError(err)
				}
				return connect.NewResponse(&remote.Empty{}), nil
			}, opt))
	}
}
