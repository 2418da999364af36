package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lactlink/config"
	"lactlink/engine"
)

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Reports.Path = t.TempDir() + "/reports.jsonl"
	eng := engine.New(engine.Config{AppConfig: cfg, ConfigPath: t.TempDir() + "/config.yaml"})
	if err := eng.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(eng.Stop)

	srv := NewServer(eng, nil)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, eng
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	var status map[string]interface{}
	if code := getJSON(t, ts.URL+"/api/status", &status); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if status["state"] != "IDLE" {
		t.Errorf("state = %v, want IDLE", status["state"])
	}
	if status["unit"] != "lact-01" {
		t.Errorf("unit = %v", status["unit"])
	}
}

func TestTagsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	var out []map[string]interface{}
	if code := getJSON(t, ts.URL+"/api/tags", &out); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if len(out) < 30 {
		t.Errorf("only %d tags in dump", len(out))
	}

	var one map[string]interface{}
	if code := getJSON(t, ts.URL+"/api/tags/DI_ESTOP", &one); code != http.StatusOK {
		t.Fatalf("single tag code %d", code)
	}
	if one["kind"] != "DI" {
		t.Errorf("DI_ESTOP kind = %v", one["kind"])
	}

	if code := getJSON(t, ts.URL+"/api/tags/NOT_A_TAG", nil); code != http.StatusNotFound {
		t.Errorf("unknown tag code %d, want 404", code)
	}
}

func TestSetpointsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	var sp map[string]float64
	if code := getJSON(t, ts.URL+"/api/setpoints", &sp); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if sp["meter_k_factor"] != 100.0 {
		t.Errorf("meter_k_factor = %v", sp["meter_k_factor"])
	}
}

func postCommand(t *testing.T, url string, body interface{}) int {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url+"/api/command", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestCommandEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	if code := postCommand(t, ts.URL, map[string]interface{}{"command": "START"}); code != http.StatusAccepted {
		t.Errorf("START code %d, want 202", code)
	}
	if code := postCommand(t, ts.URL, map[string]interface{}{"command": "FROBNICATE"}); code != http.StatusBadRequest {
		t.Errorf("unknown command code %d, want 400", code)
	}
	if code := postCommand(t, ts.URL, map[string]interface{}{
		"command": "SET", "key": "bsw_divert_pct", "value": 1.5,
	}); code != http.StatusAccepted {
		t.Errorf("SET code %d, want 202", code)
	}
}

func TestAlarmsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	var alarms []map[string]interface{}
	if code := getJSON(t, ts.URL+"/api/alarms", &alarms); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
}
