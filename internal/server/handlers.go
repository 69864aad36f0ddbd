// SPDX-License-Identifier: MIT
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"spectra/internal/dsp"
	applog "spectra/internal/log"
)

// Settings is the document served and accepted on /settings.
type Settings struct {
	VolumeThreshold float64      `json:"volume_threshold"`
	Smoothing       dsp.Settings `json:"smoothing"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Stats())
}

func (s *Server) current() Settings {
	var out Settings
	if s.cfg.Gate != nil {
		out.VolumeThreshold = s.cfg.Gate.VolumeThreshold()
	}
	if len(s.cfg.Surfaces) > 0 {
		out.Smoothing = s.cfg.Surfaces[0].Settings()
	} else {
		out.Smoothing = dsp.DefaultSettings()
	}
	return out
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.current())
}

// putSettings applies a partial update: fields missing from the body keep
// their current values.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid settings: %v", err))
		return
	}
	if next.VolumeThreshold < 0 || next.VolumeThreshold > 1 {
		writeError(w, http.StatusBadRequest, "volume_threshold must be within [0, 1]")
		return
	}
	next.Smoothing = next.Smoothing.Validate()

	if s.cfg.Gate != nil {
		s.cfg.Gate.SetVolumeThreshold(next.VolumeThreshold)
	}
	for _, sc := range s.cfg.Surfaces {
		sc.SetSettings(next.Smoothing)
	}
	applog.Infof("Server: settings updated (threshold %.3f, gain %.2f)", next.VolumeThreshold, next.Smoothing.Gain)

	writeJSON(w, http.StatusOK, s.current())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		applog.Warnf("Server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
