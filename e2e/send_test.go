package e2e

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/leadpilot/api/internal/model"
)

func seedPromotedLead(t *testing.T, ta *testApp, id string) {
	t.Helper()
	now := time.Now()
	lead := &model.LeadRecord{
		ID:                id,
		Address:           "Hovedgaden 12",
		ContactEmail:      "ejer@example.dk",
		ContactPerson:     "Bo Jensen",
		EmailDraftSubject: "Reklameplads",
		EmailDraftBody:    "Hej",
		Source:            model.SourceManual,
		Stage:             model.StagePushed,
		HubspotID:         "hs-1",
		OutreachStatus:    model.OutreachReady,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := ta.leads.Upsert(context.Background(), lead); err != nil {
		t.Fatalf("seed lead: %v", err)
	}
}

func TestSendEnqueueDefaultsToDraft(t *testing.T) {
	ta := setupApp(t)
	seedPromotedLead(t, ta, "lead-send")

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/send",
		`{"leadId":"lead-send"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	body := parseJSON(t, resp)
	if body["status"] != "queued" {
		t.Fatalf("status = %v", body["status"])
	}

	items := ta.queue.Items()
	if len(items) != 1 {
		t.Fatalf("%d items queued", len(items))
	}
	item := items[0]
	if item.To != "ejer@example.dk" || item.Subject != "Reklameplads" || item.Body != "Hej" {
		t.Fatalf("item did not inherit draft defaults: %+v", item)
	}

	// The mock mail sender delivers it and the lead's outreach status moves.
	eventually(t, 2*time.Second, func() bool {
		return ta.queue.Stats().Sent == 1
	})
	lead, _ := ta.leads.Get(context.Background(), "lead-send")
	if lead.OutreachStatus != model.OutreachFirstMailSent {
		t.Fatalf("outreachStatus = %s", lead.OutreachStatus)
	}
}

func TestSendDuplicateConflict(t *testing.T) {
	ta := setupApp(t)
	seedPromotedLead(t, ta, "lead-dup")

	// Body without a draft default would drain instantly; enqueue two in a
	// row so the second hits the pending guard before the worker runs.
	first, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/send", `{"leadId":"lead-dup"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	second, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/send", `{"leadId":"lead-dup"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	// One of the two must be accepted; if the worker already delivered the
	// first, the second is a legal re-send rather than a duplicate.
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first enqueue status = %d", first.StatusCode)
	}
	if second.StatusCode != http.StatusConflict && second.StatusCode != http.StatusAccepted {
		t.Fatalf("second enqueue status = %d", second.StatusCode)
	}
	if second.StatusCode == http.StatusConflict {
		body := parseJSON(t, second)
		errObj, _ := body["error"].(map[string]interface{})
		if errObj["code"] != "CONFLICT" {
			t.Fatalf("error code = %v", errObj["code"])
		}
	} else {
		readBody(t, second)
	}
	readBody(t, first)
}

func TestSendRequiresLead(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/send",
		`{"leadId":"missing"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestSendStatsAndItems(t *testing.T) {
	ta := setupApp(t)
	for i := 0; i < 3; i++ {
		seedPromotedLead(t, ta, fmt.Sprintf("lead-%d", i))
		resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/send",
			fmt.Sprintf(`{"leadId":"lead-%d"}`, i))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusAccepted)
		readBody(t, resp)
	}

	eventually(t, 2*time.Second, func() bool {
		return ta.queue.Stats().Sent == 3
	})

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/send/stats", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	stats := parseJSON(t, resp)
	if stats["sent"] != float64(3) {
		t.Fatalf("stats = %v", stats)
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/send/items", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
}
