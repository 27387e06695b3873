package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"img-budget-go/internal/compressor"
	"img-budget-go/internal/config"
	"img-budget-go/internal/probe"
	"img-budget-go/internal/runner"
	"img-budget-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	encoder    compressor.Encoder
	stamper    compressor.Stamper
	prober     *probe.Prober
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	currentStats   *statistics.Statistics
	lastOutcome    *runner.Outcome
	lastError      string
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type RunRequest struct {
	SourceDirectory string `json:"source_directory,omitempty"`
	TargetBytes     int64  `json:"target_bytes,omitempty"`
	DryRun          bool   `json:"dry_run"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, encoder compressor.Encoder, stamper compressor.Stamper) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		encoder:   encoder,
		stamper:   stamper,
		prober:    probe.NewProber(log),
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/run", s.handleRun).Methods("POST")
	api.HandleFunc("/report", s.handleReport).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.HandleFunc("/probe", s.handleProbe).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	stats := s.currentStats
	lastErr := s.lastError
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"statistics": statsData,
			"last_error": lastErr,
		},
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		s.writeError(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	cfg := *s.cfg
	if req.SourceDirectory != "" {
		cfg.SourceDirectory = filepath.Clean(req.SourceDirectory)
	}
	if req.TargetBytes > 0 {
		cfg.Budget.TargetBytes = req.TargetBytes
	}
	cfg.Security.DryRun = cfg.Security.DryRun || req.DryRun

	if err := cfg.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(cfg.SourceDirectory); os.IsNotExist(err) {
		s.writeError(w, "Source directory does not exist", http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.currentStats = statistics.NewStatistics()
	stats := s.currentStats
	s.operationMutex.Unlock()

	go s.runAsync(&cfg, stats)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Compression started",
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	outcome := s.lastOutcome
	s.operationMutex.RUnlock()

	if outcome == nil || outcome.Report == nil {
		s.writeError(w, "No report available", http.StatusNotFound)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"run_id":  outcome.RunID,
			"swapped": outcome.Swapped,
			"report":  outcome.Report,
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  stats.GetSummary(),
			"errors":   stats.GetErrorSummary(),
			"counters": stats.Snapshot(),
		},
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "path is required", http.StatusBadRequest)
		return
	}

	info, err := s.prober.Inspect(path)
	if err != nil {
		s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    info,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

func (s *Server) runAsync(cfg *config.Config, stats *statistics.Statistics) {
	s.broadcastWSMessage("run_started", map[string]interface{}{
		"source_directory": cfg.SourceDirectory,
		"target_bytes":     cfg.Budget.TargetBytes,
		"dry_run":          cfg.Security.DryRun,
	})

	hook := func(level, message string) {
		s.broadcastWSMessage("log", map[string]interface{}{
			"level":   level,
			"message": message,
		})
	}
	r := runner.NewRunnerWithLogHook(cfg, s.log, stats, s.encoder, s.stamper, io.Discard, hook)

	outcome, err := r.Run(context.Background())

	s.operationMutex.Lock()
	s.isRunning = false
	s.lastOutcome = outcome
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.operationMutex.Unlock()

	if err != nil && !errors.Is(err, runner.ErrNoAssets) {
		s.broadcastWSMessage("run_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	data := map[string]interface{}{
		"statistics": stats.GetSummary(),
	}
	if outcome != nil && outcome.Report != nil {
		data["run_id"] = outcome.RunID
		data["success"] = outcome.Report.Success
		data["swapped"] = outcome.Swapped
	}
	s.broadcastWSMessage("run_completed", data)
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
