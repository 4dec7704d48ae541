package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/estimate/go/internal/session/channel"
	"github.com/mcdev12/estimate/go/internal/session/mockapi"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/vote"
)

func withCORS(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(h)
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

type participantView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Emoji         string `json:"emoji"`
	HasVoted      bool   `json:"has_voted"`
	Vote          string `json:"vote,omitempty"`
	IsFacilitator bool   `json:"is_facilitator,omitempty"`
	IsUser        bool   `json:"is_user,omitempty"`
}

type resultsView struct {
	Average       *float64 `json:"average,omitempty"`
	Consensus     string   `json:"consensus"`
	Mode          string   `json:"mode,omitempty"`
	Participation int      `json:"participation"`
	Total         int      `json:"total"`
}

type stateView struct {
	Code          string            `json:"code,omitempty"`
	Phase         string            `json:"phase"`
	Round         int               `json:"round"`
	TimerSeconds  int               `json:"timer_seconds"`
	TimerProgress float64           `json:"timer_progress"`
	TimerColor    string            `json:"timer_color"`
	Voted         int               `json:"voted"`
	Participants  []participantView `json:"participants"`
	UserCard      string            `json:"user_card,omitempty"`
	Results       *resultsView      `json:"results,omitempty"`
}

func cardText(v *vote.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func newStateView(s state.State) stateView {
	view := stateView{
		Code:          s.Code,
		Phase:         string(s.Phase),
		Round:         s.Round,
		TimerSeconds:  s.TimerSeconds,
		TimerProgress: s.TimerProgress(),
		TimerColor:    string(s.TimerBand()),
		Voted:         s.VotedCount(),
		Participants:  make([]participantView, 0, len(s.Participants)),
		UserCard:      cardText(s.UserCard),
	}
	for _, p := range s.Participants {
		view.Participants = append(view.Participants, participantView{
			ID:            p.ID,
			Name:          p.Name,
			Emoji:         p.Emoji,
			HasVoted:      p.HasVoted,
			Vote:          cardText(p.Vote),
			IsFacilitator: p.IsFacilitator,
			IsUser:        p.IsUser,
		})
	}
	if r := s.Results(); r != nil {
		view.Results = &resultsView{
			Average:       r.Average,
			Consensus:     string(r.Consensus),
			Mode:          cardText(r.Mode),
			Participation: r.Participation,
			Total:         r.Total,
		}
	}
	return view
}

// statusHandler serves /health and a JSON view of the machine at /state.
func statusHandler(m *state.Machine) http.Handler {
	mux := http.NewServeMux()
	setupHealthCheck(mux)
	mux.HandleFunc("GET /state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(newStateView(m.State())); err != nil {
			log.Error().Err(err).Msg("failed to write state")
		}
	})
	return withCORS(mux)
}

func setupStatusServer(addr string, m *state.Machine) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           statusHandler(m),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// mockServerHandler exposes the mock service over REST under /api, over
// Connect, and its events over a websocket at /ws/session.
func mockServerHandler(svc *mockapi.Service, hub *channel.Hub) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", mockapi.RESTHandler(svc)))
	mockapi.RegisterConnect(mux, svc)
	mux.Handle("/ws/session", hub)
	setupHealthCheck(mux)

	return h2c.NewHandler(withCORS(mux), &http2.Server{})
}
