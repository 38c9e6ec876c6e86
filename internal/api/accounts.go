package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/parley/internal/auth"
)

func (s *Server) issueCaptcha(w http.ResponseWriter, r *http.Request) {
	ch, err := s.deps.Captcha.Issue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	JSON(w, http.StatusOK, ch)
}

func (s *Server) captchaStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Captcha.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.deps.Auth.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, resp)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.deps.Auth.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Auth.Me(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, info)
}
