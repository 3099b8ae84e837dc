// File path: cmd/phasegate/main.go
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nchandrav/phasegate/internal/api"
	"github.com/nchandrav/phasegate/internal/common"
	"github.com/nchandrav/phasegate/internal/llm"
	"github.com/nchandrav/phasegate/internal/store"
	"github.com/nchandrav/phasegate/internal/workflow"
)

func main() {
	logger := common.Logger()

	if err := godotenv.Load(); err != nil {
		logger.Warn("phasegate: .env file not loaded", "error", err)
	} else {
		logger.Info("phasegate: environment loaded from .env")
	}

	addr := flag.String("addr", ":8080", "listen address")
	dbPath := flag.String("db", defaultDBPath(), "path to the SQLite workflow database")
	dataRoot := flag.String("data-root", "", "base directory for session inputs, outputs and snapshots")
	generationTimeout := flag.String("generation-timeout", "", "timeout for a single artifact generation (e.g. 90s, 2m)")
	flag.Parse()

	logger.Info("phasegate: startup initiated", "addr", *addr, "db", *dbPath)

	storeCfg, err := store.LoadConfig()
	if err != nil {
		logger.Error("phasegate: store config load failed", "error", err)
		fmt.Println("store config error:", err)
		os.Exit(1)
	}
	if trimmed := strings.TrimSpace(*dbPath); trimmed != "" {
		storeCfg.Path = trimmed
	}

	st, err := store.OpenWithConfig(storeCfg)
	if err != nil {
		logger.Error("phasegate: store initialization failed", "error", err)
		fmt.Println("store error:", err)
		os.Exit(1)
	}
	defer st.Close()

	wfCfg := workflow.LoadConfig()
	if trimmed := strings.TrimSpace(*dataRoot); trimmed != "" {
		wfCfg.DataRoot = trimmed
	}
	if trimmed := strings.TrimSpace(*generationTimeout); trimmed != "" {
		dur, err := time.ParseDuration(trimmed)
		if err != nil {
			logger.Error("phasegate: invalid generation timeout", "value", trimmed, "error", err)
			fmt.Println("generation timeout error:", err)
			os.Exit(1)
		}
		wfCfg.GenerationTimeout = dur
	}

	provider := llm.NewProvider()
	logger.Info("phasegate: llm provider ready", "provider", provider.Name())

	manager := workflow.NewManager(st, provider, wfCfg)

	server, err := api.NewServer(manager)
	if err != nil {
		logger.Error("phasegate: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	logger.Info("phasegate: server listening", "addr", *addr, "health", "/healthz")
	fmt.Printf("Serving on %s\n", *addr)
	reachable := *addr
	if strings.HasPrefix(reachable, ":") {
		reachable = "localhost" + reachable
	}
	logger.Info("phasegate: verify reachability", "suggestion", fmt.Sprintf("curl http://%s/healthz", reachable))
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("phasegate: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}

func defaultDBPath() string {
	return filepath.Join("data", "phasegate.db")
}
