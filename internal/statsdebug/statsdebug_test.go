package statsdebug

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/galpt/cake-autorate-ctl/internal/cakestats"
	"github.com/galpt/cake-autorate-ctl/internal/routerclient/fake"
)

func TestHandleCakeStatsReturnsParsedStats(t *testing.T) {
	router := fake.New()
	router.QueueStats["wan1-dl"] = &cakestats.QueueStats{
		Bytes: 1000, Packets: 10, Dropped: 2, QueuedPackets: 3,
		Tiers: []cakestats.CakeTier{{Name: "Bulk", Pkts: 10, Bytes: 1000}},
	}
	reader := cakestats.New(router)
	resolve := func(wan string) (string, bool) {
		if wan == "wan1" {
			return "wan1-dl", true
		}
		return "", false
	}

	s := New(reader, resolve)

	req := httptest.NewRequest(http.MethodGet, "/debug/cake/wan1", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got cakestats.QueueStats
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Bytes != 1000 || len(got.Tiers) != 1 {
		t.Fatalf("unexpected decoded stats: %+v", got)
	}
}

func TestHandleCakeStatsUnknownWANReturns404(t *testing.T) {
	router := fake.New()
	reader := cakestats.New(router)
	s := New(reader, func(string) (string, bool) { return "", false })

	req := httptest.NewRequest(http.MethodGet, "/debug/cake/ghost", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleCakeStatsRejectsInvalidIdentifier(t *testing.T) {
	router := fake.New()
	reader := cakestats.New(router)
	s := New(reader, func(string) (string, bool) { return "", true })

	req := httptest.NewRequest(http.MethodGet, "/debug/cake/"+"bad%2Fname", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
