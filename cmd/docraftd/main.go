package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kartikbazzad/docraft/fsm"
	"github.com/kartikbazzad/docraft/gateway"
	"github.com/kartikbazzad/docraft/internal/appconfig"
	"github.com/kartikbazzad/docraft/internal/applog"
	"github.com/kartikbazzad/docraft/raft"
	"github.com/kartikbazzad/docraft/store"
)

func main() {
	var cfg appconfig.NodeConfig
	if err := appconfig.Load("DOCRAFT_", &cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	applog.Init(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger := applog.With(cfg.ServerID)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	sm := fsm.New(db)

	transport, err := raft.NewTransport(0)
	if err != nil {
		logger.Error("failed to start outbound transport", "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	peers := cfg.Peers()
	raftCfg := raft.Config{
		ServerID:              cfg.ServerID,
		Peers:                 peers,
		AllowAllDownPromotion: true,
	}
	node := raft.NewNode(raftCfg, transport, gateway.FSMAdapter{SM: sm})
	node.Start()
	defer node.Stop()

	peerAddr := fmt.Sprintf(":%d", cfg.GRPCPort)
	peerServer := raft.NewServer(peerAddr, node)
	if err := peerServer.Start(); err != nil {
		logger.Error("failed to start peer RPC listener", "error", err)
		os.Exit(1)
	}
	defer peerServer.Stop()

	gw := gateway.New(node, sm)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := gw.ServerStatus()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"server_id":%q,"state":%q,"current_term":%d,"leader_id":%q,"commit_index":%d,"last_applied":%d,"log_length":%d}`,
			status.ServerID, status.State, status.CurrentTerm, status.LeaderID, status.CommitIndex, status.LastApplied, status.LogLength)
	})
	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.GRPCPort+1000),
		Handler:      healthMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("status endpoint starting", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("status endpoint failed", "error", err)
		}
	}()

	logger.Info("docraftd started",
		"server_id", cfg.ServerID,
		"peer_addr", peerAddr,
		"peers", strings.Join(peers, ","),
		"db_path", cfg.DBPath,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.Warn("status endpoint did not shut down cleanly", "error", err)
	}
	logger.Info("stopped")
}
