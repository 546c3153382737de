package http

import (
	"log/slog"
	"net/http"

	"timebooth/internal/booth"
	"timebooth/internal/call"
)

type sceneRequest struct {
	Year         int    `json:"year"`
	Location     string `json:"location"`
	CustomPrompt string `json:"custom_prompt"`
}

type backstoryRequest struct {
	Year     int           `json:"year"`
	Location string        `json:"location"`
	Persona  booth.Persona `json:"persona"`
}

type ringbackRequest struct {
	Year int `json:"year"`
}

type messageRequest struct {
	Text string `json:"text"`
}

type callResponse struct {
	Call        call.Snapshot `json:"call"`
	Year        int           `json:"year"`
	Location    string        `json:"location"`
	Persona     booth.Persona `json:"persona"`
	ImageURL    string        `json:"image_url"`
	RingbackURL string        `json:"ringback_url,omitempty"`
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	var req sceneRequest
	if err := s.decode(r, &req); err != nil {
		s.clientError(w, "invalid JSON body")
		return
	}

	scene, err := s.booths.Scene(r.Context(), booth.SceneRequest{
		Year:         req.Year,
		Location:     req.Location,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"image_url": scene.ImageURL})
}

func (s *Server) handleBackstory(w http.ResponseWriter, r *http.Request) {
	var req backstoryRequest
	if err := s.decode(r, &req); err != nil {
		s.clientError(w, "invalid JSON body")
		return
	}

	story, err := s.booths.Backstory(r.Context(), req.Year, req.Location, req.Persona)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"text": story.CombinedText})
}

func (s *Server) handleRingback(w http.ResponseWriter, r *http.Request) {
	var req ringbackRequest
	if err := s.decode(r, &req); err != nil {
		s.clientError(w, "invalid JSON body")
		return
	}

	tone, err := s.booths.Ringback(r.Context(), req.Year)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"audio_url": tone.AudioURL})
}

// handleCall prepares the artifacts and starts ringing the booth's phone.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	id := boothID(r)
	if id == "" {
		s.clientError(w, "booth id is required")
		return
	}

	var req backstoryRequest
	if err := s.decode(r, &req); err != nil {
		s.clientError(w, "invalid JSON body")
		return
	}

	setup, err := s.booths.Prepare(r.Context(), req.Year, req.Location, req.Persona)
	if err != nil {
		s.writeError(w, err)
		return
	}

	phone := s.phones.Phone(id)
	if err := phone.Dial(r.Context(), setup); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, callResponse{
		Call:        phone.Snapshot(),
		Year:        setup.Scene.Year,
		Location:    setup.Scene.Location,
		Persona:     setup.Backstory.Persona,
		ImageURL:    setup.Scene.ImageURL,
		RingbackURL: setup.Ringback.AudioURL,
	})
}

func (s *Server) handlePickup(w http.ResponseWriter, r *http.Request) {
	phone, ok := s.lookupPhone(w, r)
	if !ok {
		return
	}
	// Failures are recorded on the phone and reach the caller in the snapshot.
	if err := phone.Pickup(r.Context()); err != nil {
		s.logger.Warn("pickup failed", slog.String("booth", boothID(r)), slog.String("error", err.Error()))
	}
	s.writeJSON(w, http.StatusOK, phone.Snapshot())
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	phone, ok := s.lookupPhone(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := s.decode(r, &req); err != nil {
		s.clientError(w, "invalid JSON body")
		return
	}
	if err := phone.SendText(req.Text); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, phone.Snapshot())
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	phone, ok := s.lookupPhone(w, r)
	if !ok {
		return
	}
	phone.Hangup()
	s.writeJSON(w, http.StatusOK, phone.Snapshot())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	phone, ok := s.lookupPhone(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, phone.Snapshot())
}

func (s *Server) lookupPhone(w http.ResponseWriter, r *http.Request) (*call.Phone, bool) {
	phone, ok := s.phones.Lookup(boothID(r))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "booth not found"})
		return nil, false
	}
	return phone, true
}
