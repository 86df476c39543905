// Package net exposes the registry over HTTP and hands websocket upgrades
// to the ws subpackage.
package net

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"

	server "blockwell/server"
	"blockwell/server/internal/challenge"
	"blockwell/server/internal/net/ws"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Handler serves the REST API. The websocket endpoint is mounted on the
// same router but owned by the ws package.
type Handler struct {
	registry   *server.Registry
	hub        *server.Hub
	challenger *challenge.Service
	logger     *log.Logger
	staticDir  string
}

func NewHandler(registry *server.Registry, hub *server.Hub, challenger *challenge.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{registry: registry, hub: hub, challenger: challenger, logger: logger, staticDir: "web"}
}

// SetStaticDir overrides the directory served at the root path.
func (h *Handler) SetStaticDir(dir string) {
	if dir != "" {
		h.staticDir = dir
	}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/player/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/api/player/check-nickname/{nickname}", h.checkNickname).Methods(http.MethodGet)
	r.HandleFunc("/api/players/playing", h.playingPlayers).Methods(http.MethodGet)
	r.HandleFunc("/api/player/{playerId}/gamestate", h.playerGameState).Methods(http.MethodGet)
	r.HandleFunc("/api/player/{playerId}", h.playerInfo).Methods(http.MethodGet)
	r.HandleFunc("/api/player/{playerId}", h.deletePlayer).Methods(http.MethodDelete)

	r.HandleFunc("/api/game/start", h.startGame).Methods(http.MethodPost)
	r.HandleFunc("/api/game/next-piece", h.nextPiece).Methods(http.MethodPost)
	r.HandleFunc("/api/game/update", h.updateGame).Methods(http.MethodPost)
	r.HandleFunc("/api/game/end", h.endGame).Methods(http.MethodPost)
	r.HandleFunc("/api/game/pause", h.pauseGame).Methods(http.MethodPost)
	r.HandleFunc("/api/game/resume", h.resumeGame).Methods(http.MethodPost)

	r.HandleFunc("/api/leaderboard", h.leaderboard).Methods(http.MethodGet)

	r.HandleFunc("/api/captcha/verify", h.verifyChallenge).Methods(http.MethodPost)
	r.HandleFunc("/api/captcha/{challengeId}", h.challengeImage).Methods(http.MethodGet)

	r.HandleFunc("/api/storage/stats", h.storageStats).Methods(http.MethodGet)
	r.HandleFunc("/api/storage/save", h.storageSave).Methods(http.MethodPost)
	r.HandleFunc("/api/storage/backup", h.storageBackup).Methods(http.MethodPost)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/diagnostics", h.diagnostics).Methods(http.MethodGet)

	r.HandleFunc("/ws", ws.NewHandler(h.registry, h.hub, h.logger).Serve)

	r.PathPrefix("/").Handler(http.FileServer(http.Dir(h.staticDir)))
	return r
}

type registerRequest struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	req.Nickname = strings.TrimSpace(req.Nickname)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Nickname == "" {
		writeError(w, http.StatusBadRequest, "nickname is required")
		return
	}
	if !emailPattern.MatchString(req.Email) {
		writeError(w, http.StatusBadRequest, "valid email is required")
		return
	}

	session, isNew, err := h.registry.Register(req.Nickname, req.Email)
	if err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player": session,
		"isNew":  isNew,
	})
}

func (h *Handler) checkNickname(w http.ResponseWriter, r *http.Request) {
	nickname := strings.TrimSpace(mux.Vars(r)["nickname"])
	if nickname == "" {
		writeError(w, http.StatusBadRequest, "nickname is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nickname":  nickname,
		"available": h.registry.NicknameAvailable(nickname),
	})
}

type sessionRequest struct {
	PlayerID string `json:"playerId"`
}

func (h *Handler) startGame(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.registry.StartSession(req.PlayerID)
	if err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) nextPiece(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.registry.AdvancePiece(req.PlayerID)
	if err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateRequest struct {
	PlayerID string           `json:"playerId"`
	State    server.GameState `json:"gameState"`
}

func (h *Handler) updateGame(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.registry.UpdateState(req.PlayerID, req.State)
	if err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) endGame(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := h.registry.EndSession(req.PlayerID, "player")
	if err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) pauseGame(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.registry.Pause(req.PlayerID); err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": true})
}

func (h *Handler) resumeGame(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.registry.Resume(req.PlayerID); err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": false})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Leaderboard())
}

func (h *Handler) playerInfo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["playerId"]
	session, ok := h.registry.SessionInfo(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown player")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player": session,
		"rank":   h.registry.Rank(id),
	})
}

func (h *Handler) playingPlayers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"players": h.registry.PlayingSessions()})
}

func (h *Handler) playerGameState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["playerId"]
	session, state, ok := h.registry.SessionGameState(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown player")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player":    session,
		"gameState": state,
	})
}

func (h *Handler) deletePlayer(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteSession(mux.Vars(r)["playerId"]); err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type verifyRequest struct {
	PlayerID    string `json:"playerId"`
	ChallengeID string `json:"challengeId"`
	Answer      string `json:"answer"`
}

func (h *Handler) verifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.registry.VerifyChallenge(req.PlayerID, req.ChallengeID, req.Answer); err != nil {
		h.writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

// challengeImage serves the rendered challenge. The answer itself never
// leaves the challenge service except through Verify.
func (h *Handler) challengeImage(w http.ResponseWriter, r *http.Request) {
	svg, ok := h.challenger.Render(mux.Vars(r)["challengeId"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown or expired challenge")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(svg)); err != nil {
		h.logger.Printf("failed to write challenge image: %v", err)
	}
}

func (h *Handler) storageStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.StorageStats())
}

func (h *Handler) storageSave(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Flush(); err != nil {
		h.logger.Printf("manual save failed: %v", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true})
}

func (h *Handler) storageBackup(w http.ResponseWriter, r *http.Request) {
	path, err := h.registry.Backup()
	if err != nil {
		h.logger.Printf("manual backup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup": path})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Telemetry())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) writeKindError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch server.KindOf(err) {
	case server.KindNotFound:
		status = http.StatusNotFound
	case server.KindInvalidTransition:
		status = http.StatusConflict
	case server.KindIdentityMismatch:
		status = http.StatusUnauthorized
	case server.KindChallengeRequired, server.KindCheatDetected:
		status = http.StatusForbidden
	default:
		h.logger.Printf("unclassified error: %v", err)
	}
	var serr *server.Error
	if errors.As(err, &serr) {
		writeJSON(w, status, map[string]any{"error": serr.Reason, "kind": serr.Kind})
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
