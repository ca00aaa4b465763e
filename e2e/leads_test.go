package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/leadpilot/api/internal/model"
)

func createLead(t *testing.T, ta *testApp) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/leads/",
		`{"address":"Hovedgaden 12","postalCode":"8000","city":"Aarhus","contactEmail":"ejer@example.dk"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	body := parseJSON(t, resp)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("no lead id in response: %v", body)
	}
	return id
}

func TestLeadLifecycleOverHTTP(t *testing.T) {
	ta := setupApp(t)
	id := createLead(t, ta)

	// Created leads start at stage new with source manual.
	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/leads/"+id, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	if body["stage"] != "new" || body["source"] != "manual" {
		t.Fatalf("created lead: stage=%v source=%v", body["stage"], body["source"])
	}

	// Walk the staging pipeline with explicit events.
	for _, event := range []string{"start_research", "research_ok"} {
		resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/leads/"+id+"/stage",
			fmt.Sprintf(`{"event":%q}`, event))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)
	}

	resp, _ = doAuthRequest(t, ta.app, http.MethodGet, "/api/leads/"+id, "")
	if body := parseJSON(t, resp); body["stage"] != "researched" {
		t.Fatalf("stage = %v after research_ok", body["stage"])
	}
}

func TestStageTransitionRejectsIllegalEvent(t *testing.T) {
	ta := setupApp(t)
	id := createLead(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/leads/"+id+"/stage",
		`{"event":"approve"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnprocessableEntity)

	body := parseJSON(t, resp)
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["code"] != "INVALID_STATE" {
		t.Fatalf("error code = %v", errObj["code"])
	}
}

func TestApproveRequiresDraft(t *testing.T) {
	ta := setupApp(t)
	id := createLead(t, ta)

	// Move the lead to researched without attaching a draft.
	lead, err := ta.leads.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load lead: %v", err)
	}
	lead.Stage = model.StageResearched
	if err := ta.leads.Upsert(context.Background(), lead); err != nil {
		t.Fatalf("store lead: %v", err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/leads/"+id+"/approve", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestApprovePushesAndIsIdempotent(t *testing.T) {
	ta := setupApp(t)
	id := createLead(t, ta)

	lead, err := ta.leads.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("load lead: %v", err)
	}
	lead.Stage = model.StageResearched
	lead.EmailDraftSubject = "Reklameplads"
	lead.EmailDraftBody = "Hej"
	lead.UpdatedAt = time.Now()
	if err := ta.leads.Upsert(context.Background(), lead); err != nil {
		t.Fatalf("store lead: %v", err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/leads/"+id+"/approve", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	if body["stage"] != "pushed" {
		t.Fatalf("stage = %v", body["stage"])
	}
	hubspotID, _ := body["hubspotId"].(string)
	if hubspotID == "" {
		t.Fatal("no hubspotId after push")
	}
	if body["outreachStatus"] != string(model.OutreachReady) {
		t.Fatalf("outreachStatus = %v", body["outreachStatus"])
	}

	// A second approve changes nothing.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/leads/"+id+"/approve", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["hubspotId"] != hubspotID {
		t.Fatalf("hubspotId changed on second approve: %v", body["hubspotId"])
	}
}

func TestLeadValidation(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/leads/", `{"city":"Aarhus"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestLeadNotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/leads/does-not-exist", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}
