// Package transport implements the HTTP/JSON surface in front of a
// Registry: a thin net/http.ServeMux adapter, no web framework. For a
// twelve-endpoint JSON API this is the proportionate choice — introducing
// a full RPC framework here would be the over-engineered outlier, not the
// idiomatic pick, next to how small and uniform every handler in this
// package is.
package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dmagro/querywatch/internal/config"
	"github.com/dmagro/querywatch/internal/monitor"
	"github.com/dmagro/querywatch/internal/registry"
)

// Server wires a Registry to the endpoints of spec.md §6.
type Server struct {
	reg *registry.Registry
	cfg *config.Config
	log *slog.Logger
	mux *http.ServeMux
}

// NewServer builds a Server and registers every route.
func NewServer(reg *registry.Registry, cfg *config.Config, log *slog.Logger) *Server {
	s := &Server{reg: reg, cfg: cfg, log: log, mux: http.NewServeMux()}
	s.routes()
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ping", s.handlePing)
	s.mux.HandleFunc("POST /auth", s.handleAuth)
	s.mux.HandleFunc("POST /add_query", s.withAuth(s.handleAddQuery))
	s.mux.HandleFunc("POST /edit_query", s.withAuth(s.handleEditQuery))
	s.mux.HandleFunc("POST /delete_query", s.withAuth(s.handleDeleteQuery))
	s.mux.HandleFunc("POST /get_query", s.withAuth(s.handleGetQuery))
	s.mux.HandleFunc("POST /get_all_queries", s.withAuth(s.handleGetAllQueries))
	s.mux.HandleFunc("POST /get_dashboard", s.withAuth(s.handleGetDashboard))
	s.mux.HandleFunc("POST /save", s.withAuth(s.handleSave))
	s.mux.HandleFunc("POST /clean", s.withAuth(s.handleClean))
	s.mux.HandleFunc("POST /refresh_data", s.withAuth(s.handleRefreshData))
	s.mux.HandleFunc("POST /get_sound", s.withAuth(s.handleGetSound))
	s.mux.HandleFunc("POST /reload_config", s.withAuth(s.handleReloadConfig))
}

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, out *envelope) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return false
	}
	if *out == nil {
		*out = envelope{}
	}
	return true
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"success": true})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var body envelope
	if !decodeBody(r, &body) {
		writeJSON(w, http.StatusBadRequest, envelope{"success": false, "msg": "bad request"})
		return
	}
	username, _ := body["username"].(string)
	password, _ := body["password"].(string)

	token, err := s.reg.Login(r.Context(), username, password)
	if err != nil {
		writeJSON(w, http.StatusOK, envelope{"username": username, "auth_success": false})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"username": username, "token": token, "auth_success": true})
}

// withAuth wraps a handler with the {username, token} verification every
// non-auth endpoint requires, the Go expression of the original's
// @require_login decorator.
func (s *Server) withAuth(next func(http.ResponseWriter, *http.Request, *monitor.Monitor, envelope)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body envelope
		if !decodeBody(r, &body) {
			writeJSON(w, http.StatusBadRequest, envelope{"success": false, "msg": "bad request"})
			return
		}
		username, _ := body["username"].(string)
		token, _ := body["token"].(string)

		if !s.reg.AuthUser(username, token) {
			writeJSON(w, http.StatusUnauthorized, envelope{"success": false, "msg": "Access Denied"})
			return
		}
		mon, ok := s.reg.Monitor(username)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, envelope{"success": false, "msg": "Access Denied"})
			return
		}
		next(w, r, mon, body)
	}
}

func (s *Server) handleAddQuery(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	ok, msg := mon.AddQuery(r.Context(), body)
	writeJSON(w, http.StatusOK, envelope{"success": ok, "msg": msg})
}

func (s *Server) handleEditQuery(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	ok, msg := mon.EditQuery(r.Context(), body)
	writeJSON(w, http.StatusOK, envelope{"success": ok, "msg": msg})
}

func (s *Server) handleDeleteQuery(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	uid, _ := body["uid"].(string)
	ok, msg := mon.DeleteQuery(r.Context(), uid)
	writeJSON(w, http.StatusOK, envelope{"success": ok, "msg": msg})
}

func (s *Server) handleGetQuery(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	uid, _ := body["uid"].(string)
	state, ok := mon.GetQuery(uid)
	if !ok {
		writeJSON(w, http.StatusOK, envelope{"success": false, "msg": monitor.ErrNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetAllQueries(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	writeJSON(w, http.StatusOK, mon.GetAllQueries())
}

func (s *Server) handleGetDashboard(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	snapshot, _ := mon.Scan(r.Context())
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	ok, msg := mon.Save(r.Context())
	writeJSON(w, http.StatusOK, envelope{"success": ok, "msg": msg})
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	ok, msg := mon.CleanQueries(r.Context())
	writeJSON(w, http.StatusOK, envelope{"success": ok, "msg": msg})
}

func (s *Server) handleRefreshData(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	raw, _ := body["cookies"].(map[string]any)
	cookies := make(map[string]map[string]string, len(raw))
	for filename, v := range raw {
		values := map[string]string{}
		if m, ok := v.(map[string]any); ok {
			for name, value := range m {
				if s, ok := value.(string); ok {
					values[name] = s
				}
			}
		}
		cookies[filename] = values
	}
	ok, msg := mon.ReloadCookies(r.Context(), cookies)
	writeJSON(w, http.StatusOK, envelope{"success": ok, "msg": msg})
}

func (s *Server) handleGetSound(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	name, _ := body["alert_sound"].(string)
	data, filename, err := mon.GetSoundFile(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusOK, envelope{"success": false, "msg": err.Error()})
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request, mon *monitor.Monitor, body envelope) {
	passphrase, _ := body["passphrase"].(string)
	if s.cfg.Auth.ReloadPassphrase == "" || passphrase != s.cfg.Auth.ReloadPassphrase {
		writeJSON(w, http.StatusForbidden, envelope{"success": false, "msg": "Access Denied"})
		return
	}
	fresh, err := config.Load(r.URL.Query().Get("config_path"))
	if err != nil {
		writeJSON(w, http.StatusOK, envelope{"success": false, "msg": err.Error()})
		return
	}
	s.cfg = fresh
	s.reg.ReloadConfig(fresh.Monitor.CaptchaKeywords, fresh.Monitor.DumpEnabled)
	s.log.Info("config reloaded via /reload_config")
	writeJSON(w, http.StatusOK, envelope{"success": true, "msg": "config reloaded"})
}
