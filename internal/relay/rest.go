package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coderoom-live/coderoom/internal/launch"
	"github.com/coderoom-live/coderoom/internal/protocol"
	"github.com/coderoom-live/coderoom/internal/room"
)

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	created, err := s.store.CreateRoom()
	if err != nil {
		http.Error(w, `{"error":"could not create room"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms()
	if err != nil {
		http.Error(w, `{"error":"room store unavailable"}`, http.StatusInternalServerError)
		return
	}
	if rooms == nil {
		rooms = []*room.Room{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rooms)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	got, err := s.store.GetRoom(id)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"room store unavailable"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(got)
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req protocol.LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.RepoURL == "" {
		http.Error(w, `{"error":"repo_url is required"}`, http.StatusBadRequest)
		return
	}

	channelName, repo, err := s.launcher.Launch(r.Context(), id, req.RepoURL)
	if err != nil {
		writeLaunchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(protocol.LaunchResponse{
		ChannelName: channelName,
		Repository:  repo,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.store.GetRoom(id); err != nil {
		http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
		return
	}

	s.launcher.Stop(id)

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"stopped"}`))
}

// writeLaunchError maps the launch error taxonomy to HTTP statuses.
func writeLaunchError(w http.ResponseWriter, err error) {
	if errors.Is(err, room.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, protocol.ErrRoomNotFound, err)
		return
	}

	switch launch.ReasonOf(err) {
	case launch.ReasonAlreadyRunning:
		writeJSONError(w, http.StatusConflict, protocol.ErrAlreadyRunning, err)
	case launch.ReasonInvalidRepository:
		writeJSONError(w, http.StatusUnprocessableEntity, protocol.ErrInvalidRepository, err)
	case launch.ReasonRunnerUnavailable:
		writeJSONError(w, http.StatusBadGateway, protocol.ErrRunnerUnavailable, err)
	default:
		writeJSONError(w, http.StatusInternalServerError, protocol.ErrRunnerUnavailable, err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":  code,
		"error": err.Error(),
	})
}
