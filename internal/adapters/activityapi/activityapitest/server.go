// Package activityapitest provides an in-memory activities service for tests
// and local development.
package activityapitest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"

	"signupboard/internal/domain/activity"
)

// Service is a fake activities service holding activities in insertion order.
// It answers the three routes the board consumes with the same status codes
// and bodies as the real service.
type Service struct {
	mu         sync.Mutex
	activities []activity.Activity

	failList bool
	calls map[string]int
}

// NewService creates a service seeded with list (deep-copied).
// PRE: activity names are unique
// POST: Returns a service ready to be mounted
func NewService(list ...activity.Activity) *Service {
	s := &Service{calls: map[string]int{}}
	for _, a := range list {
		a.Participants = slices.Clone(a.Participants)
		s.activities = append(s.activities, a)
	}
	return s
}

// Seed returns the activities the real service starts with.
func Seed() []activity.Activity {
	return []activity.Activity{
		{
			Name:            "Chess Club",
			Description:     "Learn strategies and compete in chess tournaments",
			Schedule:        "Fridays, 3:30 PM - 5:00 PM",
			MaxParticipants: 12,
			Participants:    []string{"michael@mergington.edu", "daniel@mergington.edu"},
		},
		{
			Name:            "Programming Class",
			Description:     "Learn programming fundamentals and build software projects",
			Schedule:        "Tuesdays and Thursdays, 3:30 PM - 4:30 PM",
			MaxParticipants: 20,
			Participants:    []string{"emma@mergington.edu", "sophia@mergington.edu"},
		},
		{
			Name:            "Gym Class",
			Description:     "Physical education and sports activities",
			Schedule:        "Mondays, Wednesdays, Fridays, 2:00 PM - 3:00 PM",
			MaxParticipants: 30,
			Participants:    []string{"john@mergington.edu", "olivia@mergington.edu"},
		},
	}
}

// Handler returns the HTTP routes of the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /activities", s.handleList)
	mux.HandleFunc("POST /activities/{name}/signup", s.handleSignup)
	mux.HandleFunc("DELETE /activities/{name}/participants/{email}", s.handleUnregister)
	return mux
}

// Start serves the service on a loopback port until the returned server is closed.
func (s *Service) Start() *httptest.Server {
	return httptest.NewServer(s.Handler())
}

// SetFailList makes GET /activities answer 500 while on is true.
func (s *Service) SetFailList(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failList = on
}

// Calls returns how many requests hit route ("list", "signup" or "unregister").
func (s *Service) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Participants returns a copy of the named activity's participants.
func (s *Service) Participants(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(name); i >= 0 {
		return slices.Clone(s.activities[i].Participants)
	}
	return nil
}

// Add appends or replaces an activity.
func (s *Service) Add(a activity.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Participants = slices.Clone(a.Participants)
	if i := s.indexLocked(a.Name); i >= 0 {
		s.activities[i] = a
		return
	}
	s.activities = append(s.activities, a)
}

func (s *Service) indexLocked(name string) int {
	return slices.IndexFunc(s.activities, func(a activity.Activity) bool { return a.Name == name })
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls["list"]++
	if s.failList {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "listing unavailable"})
		return
	}
	// Encode by hand so the object keeps insertion order.
	body := []byte("{")
	for i, a := range s.activities {
		if i > 0 {
			body = append(body, ',')
		}
		key, _ := json.Marshal(a.Name)
		value, _ := json.Marshal(map[string]any{
			"description":      a.Description,
			"schedule":         a.Schedule,
			"max_participants": a.MaxParticipants,
			"participants":     a.Participants,
		})
		body = append(body, key...)
		body = append(body, ':')
		body = append(body, value...)
	}
	body = append(body, '}')
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Service) handleSignup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	email := r.URL.Query().Get("email")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["signup"]++

	i := s.indexLocked(name)
	switch {
	case i < 0:
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Activity not found"})
	case email == "":
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Email is required"})
	case slices.Contains(s.activities[i].Participants, email):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Student already signed up"})
	case len(s.activities[i].Participants) >= s.activities[i].MaxParticipants:
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Activity is full"})
	default:
		s.activities[i].Participants = append(s.activities[i].Participants, email)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Signed up " + email + " for " + name})
	}
}

func (s *Service) handleUnregister(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	email := r.PathValue("email")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["unregister"]++

	i := s.indexLocked(name)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Activity not found"})
		return
	}
	j := slices.Index(s.activities[i].Participants, email)
	if j < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Participant not found"})
		return
	}
	s.activities[i].Participants = slices.Delete(s.activities[i].Participants, j, j+1)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Unregistered " + email + " from " + name})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("fake_api_write_failed", "error", err)
	}
}
