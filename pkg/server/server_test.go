package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pepperlab/emofuse/pkg/buffer"
	"github.com/pepperlab/emofuse/pkg/delivery"
	"github.com/pepperlab/emofuse/pkg/emotion"
	"github.com/pepperlab/emofuse/pkg/fusion"
	"github.com/pepperlab/emofuse/pkg/gate"
)

func newTestServer() (*Server, buffer.Store, *gate.Gate) {
	store := buffer.NewMemory()
	g := gate.New()
	broker := delivery.NewBroker(g)
	engine := fusion.New(store, g, broker)
	return New(store, g, engine, broker, nil), store, g
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	fields := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			t.Fatalf("%s %s: non-object response %q", method, path, raw)
		}
	}
	return resp, fields
}

func ingestBody(room string, mod emotion.Modality, label string, conf float64) map[string]any {
	return map[string]any{
		"room":       room,
		"modality":   string(mod),
		"label":      label,
		"confidence": conf,
		"timestamp":  time.Now().Format(time.RFC3339Nano),
	}
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer()
	resp, fields := doJSON(t, s, "GET", "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var status string
	json.Unmarshal(fields["status"], &status)
	if status != "ok" {
		t.Errorf("status field = %q", status)
	}
}

func TestIngestValidDetection(t *testing.T) {
	s, store, _ := newTestServer()

	resp, _ := doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Face, "happy", 0.8))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	stats := store.Stats("lab")
	if stats.FaceCount != 1 {
		t.Errorf("face count = %d, want 1", stats.FaceCount)
	}
}

func TestIngestNormalizesSynonyms(t *testing.T) {
	s, store, _ := newTestServer()

	resp, _ := doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Speech, "joy", 0.7))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	det, ok := store.Latest("lab", emotion.Speech)
	if !ok {
		t.Fatal("expected buffered detection")
	}
	if det.Label != emotion.Happy {
		t.Errorf("label = %q, want happy", det.Label)
	}
}

func TestIngestRejectsInvalid(t *testing.T) {
	s, _, _ := newTestServer()

	cases := []map[string]any{
		// missing room
		{"modality": "face", "label": "happy", "confidence": 0.8},
		// unknown modality
		{"room": "lab", "modality": "smell", "label": "happy"},
	}
	for i, body := range cases {
		resp, _ := doJSON(t, s, "POST", "/api/detections", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, resp.StatusCode)
		}
	}
}

func TestStatsRequiresRoom(t *testing.T) {
	s, _, _ := newTestServer()
	resp, _ := doJSON(t, s, "GET", "/api/fusion/stats", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsReportsBufferAndGate(t *testing.T) {
	s, _, _ := newTestServer()
	doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Face, "happy", 0.8))

	resp, fields := doJSON(t, s, "GET", "/api/fusion/stats?room=lab", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var bufStats buffer.Stats
	if err := json.Unmarshal(fields["buffer"], &bufStats); err != nil {
		t.Fatalf("buffer field: %v", err)
	}
	if bufStats.FaceCount != 1 || bufStats.HasBoth {
		t.Errorf("unexpected buffer stats: %+v", bufStats)
	}

	var gateState gate.State
	if err := json.Unmarshal(fields["gate"], &gateState); err != nil {
		t.Fatalf("gate field: %v", err)
	}
	if gateState.Busy {
		t.Error("fresh room must start available")
	}
}

func TestFuseEndToEnd(t *testing.T) {
	s, _, g := newTestServer()
	doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Face, "happy", 0.8))
	doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Speech, "happy", 0.7))

	resp, fields := doJSON(t, s, "POST", "/api/fusion/fuse", map[string]any{"room": "lab"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var accepted bool
	json.Unmarshal(fields["accepted"], &accepted)
	if !accepted {
		t.Fatalf("expected accepted result, got %s", fields["reason"])
	}

	var res fusion.Result
	if err := json.Unmarshal(fields["result"], &res); err != nil {
		t.Fatal(err)
	}
	if res.Emotion != emotion.Happy {
		t.Errorf("emotion = %q, want happy", res.Emotion)
	}
	if res.Strategy != fusion.ConsensusWeighted {
		t.Errorf("strategy = %q", res.Strategy)
	}

	// Acceptance flips the gate.
	if g.Available("lab") {
		t.Error("gate must be busy after an accepted fusion")
	}
}

func TestFuseNoData(t *testing.T) {
	s, _, _ := newTestServer()
	resp, _ := doJSON(t, s, "POST", "/api/fusion/fuse", map[string]any{"room": "empty"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestFuseGateBusy(t *testing.T) {
	s, _, g := newTestServer()
	doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Face, "happy", 0.8))
	doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Speech, "happy", 0.7))
	g.SetBusy("lab", emotion.Happy)

	resp, _ := doJSON(t, s, "POST", "/api/fusion/fuse", map[string]any{"room": "lab"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestFuseRejectedReportsResult(t *testing.T) {
	s, _, g := newTestServer()
	// Low-confidence synthetic neutrals fuse under the floor.
	doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Face, "neutral", 0.2))
	doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Speech, "neutral", 0.2))

	resp, fields := doJSON(t, s, "POST", "/api/fusion/fuse", map[string]any{"room": "lab"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var accepted bool
	json.Unmarshal(fields["accepted"], &accepted)
	if accepted {
		t.Fatal("sub-floor fusion must be rejected")
	}
	var reason string
	json.Unmarshal(fields["reason"], &reason)
	if reason != "below_min_confidence" {
		t.Errorf("reason = %q", reason)
	}
	if !g.Available("lab") {
		t.Error("rejection must leave the gate available")
	}
}

func TestClearDropsBuffer(t *testing.T) {
	s, store, _ := newTestServer()
	doJSON(t, s, "POST", "/api/detections", ingestBody("lab", emotion.Face, "happy", 0.8))

	resp, _ := doJSON(t, s, "POST", "/api/fusion/clear", map[string]any{"room": "lab"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if stats := store.Stats("lab"); stats.FaceCount != 0 {
		t.Errorf("face count after clear = %d", stats.FaceCount)
	}
}

func TestGateLifecycleOverHTTP(t *testing.T) {
	s, _, _ := newTestServer()

	resp, fields := doJSON(t, s, "GET", "/api/gate/lab", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var busy bool
	json.Unmarshal(fields["busy"], &busy)
	if busy {
		t.Fatal("fresh gate must be available")
	}

	_, fields = doJSON(t, s, "POST", "/api/gate/lab/busy", map[string]any{"emotion": "happy"})
	json.Unmarshal(fields["busy"], &busy)
	if !busy {
		t.Fatal("busy signal must flip the gate")
	}

	_, fields = doJSON(t, s, "POST", "/api/gate/lab/complete", nil)
	json.Unmarshal(fields["busy"], &busy)
	if busy {
		t.Fatal("complete must release the gate")
	}

	doJSON(t, s, "POST", "/api/gate/lab/busy", nil)
	_, fields = doJSON(t, s, "POST", "/api/gate/lab/reset", nil)
	json.Unmarshal(fields["busy"], &busy)
	if busy {
		t.Fatal("reset must release the gate")
	}
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("GET", "/ws/fusion/lab", nil)
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}
