package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// FakeAuthority is an in-process stand-in for the license authority.
// Behavior is configured per-key; unknown keys get 404.
type FakeAuthority struct {
	t *testing.T

	// Licenses maps license keys to their canned wire state
	Licenses map[string]*FakeLicense

	// ValidateStatus and ActivateStatus force a fixed HTTP status on the
	// respective endpoint when non-zero, overriding per-key behavior
	ValidateStatus int
	ActivateStatus int

	// Hang simulates an unreachable authority by delaying past client timeouts
	Hang time.Duration

	validateCalls atomic.Int64
	activateCalls atomic.Int64
}

// FakeLicense describes one key's canned state
type FakeLicense struct {
	ID          string
	Valid       bool
	Status      string
	Email       string
	Tier        string
	Features    []string
	Expiry      *time.Time
	MaxMachines *int
	Machines    int

	// AtActivationLimit makes activate return 422 for this key
	AtActivationLimit bool
}

// NewFakeAuthority creates an empty fake authority
func NewFakeAuthority(t *testing.T) *FakeAuthority {
	return &FakeAuthority{
		t:        t,
		Licenses: make(map[string]*FakeLicense),
	}
}

// AddValidLicense registers a valid memory-tier license and returns it for
// further tweaking
func (f *FakeAuthority) AddValidLicense(key string) *FakeLicense {
	lic := &FakeLicense{
		ID:     "lic_" + key,
		Valid:  true,
		Status: "ACTIVE",
		Email:  "dev@example.com",
		Tier:   "memory",
	}
	f.Licenses[key] = lic
	return lic
}

// ValidateCalls returns how many validate-key requests were served
func (f *FakeAuthority) ValidateCalls() int64 { return f.validateCalls.Load() }

// ActivateCalls returns how many activate requests were served
func (f *FakeAuthority) ActivateCalls() int64 { return f.activateCalls.Load() }

// Server starts an httptest server for the fake and registers cleanup
func (f *FakeAuthority) Server() *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	f.t.Cleanup(srv.Close)
	return srv
}

func (f *FakeAuthority) handle(w http.ResponseWriter, r *http.Request) {
	if f.Hang > 0 {
		time.Sleep(f.Hang)
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/licenses/actions/validate-key"):
		f.validateCalls.Add(1)
		f.handleValidate(w, r)
	case strings.HasSuffix(r.URL.Path, "/licenses/actions/activate"):
		f.activateCalls.Add(1)
		f.handleActivate(w, r)
	default:
		http.NotFound(w, r)
	}
}

// requestKey pulls meta.key out of either request body shape
func requestKey(r *http.Request) string {
	var body struct {
		Meta struct {
			Key string `json:"key"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ""
	}
	return body.Meta.Key
}

func (f *FakeAuthority) handleValidate(w http.ResponseWriter, r *http.Request) {
	if f.ValidateStatus != 0 {
		w.WriteHeader(f.ValidateStatus)
		return
	}

	key := requestKey(r)
	lic, ok := f.Licenses[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	doc := map[string]any{
		"meta": map[string]any{"valid": lic.Valid},
		"data": licenseDoc(lic),
	}
	if lic.Machines > 0 {
		included := make([]map[string]any, lic.Machines)
		for i := range included {
			included[i] = map[string]any{
				"id":   fmt.Sprintf("mach_%d", i),
				"type": "machines",
				"attributes": map[string]any{
					"fingerprint": fmt.Sprintf("fp_%d", i),
				},
			}
		}
		doc["included"] = included
	}

	writeJSONAPI(w, http.StatusOK, doc)
}

func (f *FakeAuthority) handleActivate(w http.ResponseWriter, r *http.Request) {
	if f.ActivateStatus != 0 {
		w.WriteHeader(f.ActivateStatus)
		return
	}

	key := requestKey(r)
	lic, ok := f.Licenses[key]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if lic.AtActivationLimit {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	lic.Machines++
	writeJSONAPI(w, http.StatusCreated, map[string]any{
		"data": map[string]any{
			"id":   fmt.Sprintf("mach_%d", lic.Machines),
			"type": "machines",
			"attributes": map[string]any{
				"fingerprint": "fp_test",
				"created":     time.Now().UTC(),
			},
		},
	})
}

func licenseDoc(lic *FakeLicense) map[string]any {
	attrs := map[string]any{
		"status": lic.Status,
		"email":  lic.Email,
		"metadata": map[string]any{
			"tier":     lic.Tier,
			"features": lic.Features,
		},
	}
	if lic.Expiry != nil {
		attrs["expiry"] = lic.Expiry
	}
	if lic.MaxMachines != nil {
		attrs["maxMachines"] = *lic.MaxMachines
	}
	return map[string]any{
		"id":         lic.ID,
		"type":       "licenses",
		"attributes": attrs,
	}
}

func writeJSONAPI(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
