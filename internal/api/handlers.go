package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/shehryarbajwa/detox/pkg/models"
)

// Runner starts detox runs and reports which are active
type Runner interface {
	Start(req models.DetoxRequest) string
	ActiveRuns() []models.Run
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	runner Runner
}

// NewHandler creates a new HTTP handler
func NewHandler(runner Runner) *Handler {
	return &Handler{
		runner: runner,
	}
}

// StartDetox handles POST /v1/detox. It only checks that the required fields
// are present; the run itself reports over the subscriber's websocket.
func (h *Handler) StartDetox(w http.ResponseWriter, r *http.Request) {
	var req models.DetoxRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if missing := missingFields(req); len(missing) > 0 {
		writeError(w, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
		return
	}

	runID := h.runner.Start(req)
	log.Printf("🧘 Detox run %s accepted for subscriber %s", shortID(runID), shortID(req.SubscriberID))

	writeJSON(w, http.StatusOK, models.DetoxResponse{
		Status:  "started",
		RunID:   runID,
		Message: "Detox process started",
	})
}

// ListRuns handles GET /v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.runner.ActiveRuns()
	if runs == nil {
		runs = []models.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func missingFields(req models.DetoxRequest) []string {
	var missing []string
	if strings.TrimSpace(req.Topic) == "" {
		missing = append(missing, "topic")
	}
	if strings.TrimSpace(req.UserCredentials) == "" {
		missing = append(missing, "userCredentials")
	}
	if strings.TrimSpace(req.SubscriberID) == "" {
		missing = append(missing, "subscriberId")
	}
	return missing
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
