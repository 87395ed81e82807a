package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/voxbridge/internal/audio"
	"github.com/ent0n29/voxbridge/internal/config"
	"github.com/ent0n29/voxbridge/internal/speech"
)

const maxBodyBytes = 1 << 20

type speakRequest struct {
	Text        string `json:"text"`
	VoiceName   string `json:"voiceName"`
	APIKey      string `json:"apiKey"`
	ReturnAudio *bool  `json:"returnAudio"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "", "No text provided")
		return
	}

	sreq := speech.Request{
		Text:       req.Text,
		VoiceName:  req.VoiceName,
		APIKey:     req.APIKey,
		WantsAudio: s.wantsAudio(r, req),
	}
	if !sreq.WantsAudio {
		// The job outlives the request; its outcome goes to the events feed.
		res := s.speaker.Start(r.Context(), sreq)
		if res.Outcome == speech.OutcomeStarted {
			respondJSON(w, http.StatusOK, statusResponse{Status: "speaking"})
			return
		}
		s.respondResult(w, res)
		return
	}
	s.respondResult(w, s.speaker.Speak(r.Context(), sreq))
}

func (s *Server) respondResult(w http.ResponseWriter, res speech.Result) {
	switch res.Outcome {
	case speech.OutcomeAudio:
		writeAudio(w, res.Audio)
	case speech.OutcomeStarted:
		respondJSON(w, http.StatusOK, statusResponse{Status: "speaking"})
	case speech.OutcomeStopped:
		respondJSON(w, http.StatusOK, statusResponse{Status: "stopped"})
	default:
		status, code := statusForError(res.Err)
		msg := res.Message()
		if errors.Is(res.Err, speech.ErrValidation) {
			msg = "No text provided"
		}
		respondError(w, status, code, msg)
	}
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, speech.ErrValidation):
		return http.StatusBadRequest, ""
	case errors.Is(err, speech.ErrClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, speech.ErrTimeout):
		return http.StatusInternalServerError, "timeout"
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeAudio(w http.ResponseWriter, data []byte) {
	h := w.Header()
	h.Set("Content-Type", "audio/wav")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "speech.wav"}))
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(len(data)))
	if f, err := audio.ParseWAV(data); err == nil {
		h.Set("X-Audio-Format", f.Label())
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// wantsAudio resolves the response shape: an explicit returnAudio wins, then
// an Accept header naming audio/wav, then the configured default.
func (s *Server) wantsAudio(r *http.Request, req speakRequest) bool {
	if req.ReturnAudio != nil {
		return *req.ReturnAudio
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && (mt == "audio/wav" || mt == "audio/x-wav") {
			return true
		}
	}
	return s.cfg.SpeakMode == config.SpeakModeAudio
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.speaker.Stop(r.Context()); err != nil {
		s.log.Warn("stop speech", "error", err)
		respondError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.speaker.Status())
}
