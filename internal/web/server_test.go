package web

import (
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"img-budget-go/internal/compressor"
	"img-budget-go/internal/config"

	"github.com/sirupsen/logrus"
)

type tinyEncoder struct{}

func (tinyEncoder) Encode(in, out string, s compressor.Setting) (compressor.Encoded, error) {
	if err := os.WriteFile(out, make([]byte, 100), 0644); err != nil {
		return compressor.Encoded{}, err
	}
	return compressor.Encoded{Width: 10, Height: 10}, nil
}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.SourceDirectory = filepath.Join(root, "img")
	cfg.OutputDirectory = filepath.Join(root, "img_compressed")
	cfg.BackupDirectory = filepath.Join(root, "img_original")
	if err := os.Mkdir(cfg.SourceDirectory, 0755); err != nil {
		t.Fatal(err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewServer(cfg, log, tinyEncoder{}, nil), cfg
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	return doWithType(t, s, method, target, "application/json", body)
}

func doWithType(t *testing.T, s *Server, method, target, contentType, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: body is not JSON: %v\n%s", method, target, err, rec.Body.String())
	}
	return rec, resp
}

func TestStatus_Idle(t *testing.T) {
	s, _ := newTestServer(t)
	rec, resp := do(t, s, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, success = %v", rec.Code, resp.Success)
	}
	data := resp.Data.(map[string]interface{})
	if data["running"] != false {
		t.Errorf("running = %v, want false", data["running"])
	}
}

func TestReport_NotAvailable(t *testing.T) {
	s, _ := newTestServer(t)
	rec, resp := do(t, s, http.MethodGet, "/api/report", "")
	if rec.Code != http.StatusNotFound || resp.Success {
		t.Errorf("status = %d, success = %v", rec.Code, resp.Success)
	}
}

func TestProbe(t *testing.T) {
	s, cfg := newTestServer(t)

	rec, _ := do(t, s, http.MethodGet, "/api/probe", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("probe without path: status = %d, want 400", rec.Code)
	}

	path := filepath.Join(cfg.SourceDirectory, "a.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 4))); err != nil {
		t.Fatal(err)
	}
	f.Close()

	rec, resp := do(t, s, http.MethodGet, "/api/probe?path="+url.QueryEscape(path), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("probe: status = %d, error = %s", rec.Code, resp.Error)
	}
	data := resp.Data.(map[string]interface{})
	if data["format"] != "png" || data["width"] != float64(8) || data["mode"] != "L" {
		t.Errorf("probe data = %v", data)
	}

	rec, _ = do(t, s, http.MethodGet, "/api/probe?path="+url.QueryEscape(path+".missing"), "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("probe missing file: status = %d, want 422", rec.Code)
	}
}

func TestRun_BadRequests(t *testing.T) {
	s, cfg := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed body", "{"},
		{"missing source", `{"source_directory": "` + filepath.ToSlash(filepath.Join(cfg.SourceDirectory, "nope")) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, s, http.MethodPost, "/api/run", tt.body)
			if rec.Code != http.StatusBadRequest || resp.Success {
				t.Errorf("status = %d, success = %v, error = %s", rec.Code, resp.Success, resp.Error)
			}
		})
	}
}

func TestRun_RequiresJSON(t *testing.T) {
	s, cfg := newTestServer(t)
	if err := os.WriteFile(filepath.Join(cfg.SourceDirectory, "a.png"), make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}

	for _, contentType := range []string{"", "text/plain", "application/x-www-form-urlencoded"} {
		rec, resp := doWithType(t, s, http.MethodPost, "/api/run", contentType, `{"dry_run": false}`)
		if rec.Code != http.StatusUnsupportedMediaType || resp.Success {
			t.Errorf("Content-Type %q: status = %d, success = %v", contentType, rec.Code, resp.Success)
		}
	}

	_, resp := do(t, s, http.MethodGet, "/api/status", "")
	if data := resp.Data.(map[string]interface{}); data["running"] != false || data["statistics"] != nil {
		t.Errorf("run started by a rejected request: %v", data)
	}
	if _, err := os.Stat(cfg.OutputDirectory); !os.IsNotExist(err) {
		t.Errorf("output directory created by a rejected request: %v", err)
	}
}

func TestRun_AcceptsJSONWithCharset(t *testing.T) {
	s, cfg := newTestServer(t)
	missing := filepath.Join(cfg.SourceDirectory, "nope")
	rec, resp := doWithType(t, s, http.MethodPost, "/api/run", "application/json; charset=utf-8",
		`{"source_directory": "`+filepath.ToSlash(missing)+`"}`)
	if rec.Code != http.StatusBadRequest || resp.Error != "Source directory does not exist" {
		t.Errorf("status = %d, error = %s", rec.Code, resp.Error)
	}
}

func TestRun_Completes(t *testing.T) {
	s, cfg := newTestServer(t)
	for _, name := range []string{"a.png", "b.png"} {
		if err := os.WriteFile(filepath.Join(cfg.SourceDirectory, name), make([]byte, 5000), 0644); err != nil {
			t.Fatal(err)
		}
	}

	rec, resp := do(t, s, http.MethodPost, "/api/run", `{"dry_run": true}`)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("run: status = %d, error = %s", rec.Code, resp.Error)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, resp = do(t, s, http.MethodGet, "/api/report", "")
		if rec.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no report after 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}

	data := resp.Data.(map[string]interface{})
	if data["swapped"] != false {
		t.Errorf("dry run swapped = %v", data["swapped"])
	}
	report := data["report"].(map[string]interface{})
	if report["success"] != true || report["final_bytes"] != float64(200) {
		t.Errorf("report = %v", report)
	}
	if _, err := os.Stat(filepath.Join(cfg.SourceDirectory, "a.png")); err != nil {
		t.Errorf("dry run moved the source: %v", err)
	}
}
