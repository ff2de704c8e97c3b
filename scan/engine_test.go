package scan

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/use-agent/domainrecon/config"
	"github.com/use-agent/domainrecon/models"
)

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{
		MaxRedirectSteps: 20,
		MaxDomains:       10,
		MaxRedirectLog:   5,
	}
}

func TestState_RecordHost_DedupesAndCaps(t *testing.T) {
	cfg := testScanConfig()
	cfg.MaxDomains = 2
	st := newState("example.com", cfg)

	st.recordHost("https://example.com/page")
	st.recordHost("https://cdn.example.com/app.js")
	st.recordHost("https://analytics.example.com/x") // exceeds cap, should be dropped

	if _, ok := st.seenDomains["cdn.example.com"]; !ok {
		t.Error("expected cdn.example.com to be recorded")
	}
	if _, ok := st.seenDomains["analytics.example.com"]; ok {
		t.Error("analytics.example.com should have been dropped past the domain cap")
	}
	if st.droppedDomains != 1 {
		t.Errorf("droppedDomains = %d, want 1", st.droppedDomains)
	}
}

func TestState_RelatedDomains_FiltersTrackersAndSortsWithOrigin(t *testing.T) {
	st := newState("example.com", testScanConfig())
	st.recordHost("https://example.com/")
	st.recordHost("https://zeta.example.com/")
	st.recordHost("https://stats.doubleclick.net/pixel")
	st.recordHost("https://ads.google.com/track")
	st.recordHost("https://alpha.example.com/")

	got := st.relatedDomains()
	want := []string{"alpha.example.com", "example.com", "zeta.example.com"}

	if len(got) != len(want) {
		t.Fatalf("relatedDomains() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("relatedDomains()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestState_RelatedDomains_PrependsOriginIfFiltered(t *testing.T) {
	// Origin itself matches a tracker substring — still must be present.
	st := newState("google.com", testScanConfig())
	st.recordHost("https://other.example.com/")

	got := st.relatedDomains()
	found := false
	for _, h := range got {
		if h == "google.com" {
			found = true
		}
	}
	if !found {
		t.Errorf("relatedDomains() = %v, expected origin host to be present even if tracker-like", got)
	}
}

func TestState_AppendRedirectHop_DedupesAndCaps(t *testing.T) {
	cfg := testScanConfig()
	cfg.MaxRedirectLog = 1
	st := newState("example.com", cfg)

	hop := models.RedirectStep{From: "https://example.com/", To: "https://example.com/home", Status: 301}
	st.redirectLog = append(st.redirectLog, hop)

	if !st.isDuplicateHop(hop) {
		t.Error("expected existing hop to be detected as duplicate")
	}

	other := models.RedirectStep{From: "https://example.com/home", To: "https://example.com/landing", Status: 302}
	if st.isDuplicateHop(other) {
		t.Error("distinct hop incorrectly flagged as duplicate")
	}

	st.appendRedirectHop(&proto.NetworkRequestWillBeSent{
		Request:          &proto.NetworkRequest{URL: other.To},
		RedirectResponse: &proto.NetworkResponse{URL: other.From, Status: other.Status},
	})
	if len(st.redirectLog) != 1 {
		t.Errorf("redirectLog grew past MaxRedirectLog=1: %v", st.redirectLog)
	}
}

func TestState_OnRequest_RecordsRedirectHopFromRequestWillBeSent(t *testing.T) {
	st := newState("example.com", testScanConfig())

	st.onRequest(&proto.NetworkRequestWillBeSent{
		Type:    proto.NetworkResourceTypeDocument,
		Request: &proto.NetworkRequest{URL: "https://example.com/new"},
		RedirectResponse: &proto.NetworkResponse{
			URL:    "https://example.com/old",
			Status: 301,
		},
	})

	if len(st.redirectLog) != 1 {
		t.Fatalf("redirectLog = %v, want 1 hop", st.redirectLog)
	}
	want := models.RedirectStep{From: "https://example.com/old", To: "https://example.com/new", Status: 301}
	if st.redirectLog[0] != want {
		t.Errorf("redirectLog[0] = %+v, want %+v", st.redirectLog[0], want)
	}

	// A plain request carries no RedirectResponse and must not add a hop.
	st.onRequest(&proto.NetworkRequestWillBeSent{
		Type:    proto.NetworkResourceTypeDocument,
		Request: &proto.NetworkRequest{URL: "https://example.com/plain"},
	})
	if len(st.redirectLog) != 1 {
		t.Errorf("redirectLog grew on a non-redirect request: %v", st.redirectLog)
	}

	// A redirected sub-resource (not the top-level document) must not add a hop.
	st.onRequest(&proto.NetworkRequestWillBeSent{
		Type:    proto.NetworkResourceTypeImage,
		Request: &proto.NetworkRequest{URL: "https://example.com/img-new.png"},
		RedirectResponse: &proto.NetworkResponse{
			URL:    "https://example.com/img-old.png",
			Status: 302,
		},
	})
	if len(st.redirectLog) != 1 {
		t.Errorf("redirectLog grew on a non-document redirect: %v", st.redirectLog)
	}
}

func TestIsTrackerDomain(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"doubleclick.net", true},
		{"stats.doubleclick.net", true},
		{"ads.google.com", true},
		{"google.com", true},
		{"example.com", false},
		{"googleusercontent-lookalike.example.com", true}, // substring match is intentionally broad
	}
	for _, tt := range tests {
		if got := isTrackerDomain(tt.host); got != tt.want {
			t.Errorf("isTrackerDomain(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
