package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"chunk-relay/agent/internal/capture"
	"chunk-relay/agent/internal/config"
	"chunk-relay/agent/internal/db"
	"chunk-relay/agent/internal/logger"
	"chunk-relay/agent/internal/monitor"
	"chunk-relay/queue"
	"chunk-relay/transfer"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfgVals := config.Init(*cfgPath)
	// init logger (zerolog to file if provided)
	if err := logger.Init(cfgVals.LogPath); err != nil {
		_ = logger.Init("")
		logger.Warnf("Cannot open log file %s, logging to stdout: %v", cfgVals.LogPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init local sqlite db
	adb, err := db.Init(cfgVals.DBPath)
	if err != nil {
		logger.Error("Cannot open SQLite: ", err)
		return
	}

	transport, err := queue.Open(ctx, cfgVals.Queue)
	if err != nil {
		logger.Error("Cannot open transport: ", err)
		return
	}
	defer transport.Close()

	tokens := transfer.NewTokenSigner(cfgVals.Auth.Secret, cfgVals.Auth.Issuer, cfgVals.Queue.MessageTTL)
	encoder, err := transfer.NewEncoder(cfgVals.ChunkSize(), cfgVals.ChecksumAlgorithm, tokens)
	if err != nil {
		logger.Error("Invalid encoder settings: ", err)
		return
	}

	svc, err := capture.New(transport, encoder, adb, capture.Options{
		InputDir:      cfgVals.InputDir,
		SourceID:      cfgVals.SourceID,
		Extensions:    cfgVals.Extensions,
		MessageTTL:    cfgVals.Queue.MessageTTL,
		SettleDelay:   cfgVals.SettleDelay,
		ResultWait:    cfgVals.ResultWait,
		ErrorBackoff:  cfgVals.ErrorBackoff,
		ProgressEvery: cfgVals.ProgressEvery,
	})
	if err != nil {
		logger.Error("Cannot prepare input directory: ", err)
		return
	}

	fm, err := monitor.NewFileMonitor([]string{svc.InputDir()}, svc.ProcessedDir())
	if err != nil {
		logger.Error("Cannot start file monitor: ", err)
		return
	}
	defer fm.Close()

	logger.Infof("Agent %s watching %s (extensions %v, chunk size %d bytes, transport %s)",
		cfgVals.SourceID, svc.InputDir(), cfgVals.Extensions, encoder.ChunkSize(), cfgVals.Queue.Kind)
	svc.Run(ctx, fm.MonitorFiles())
	logger.Info("Shutdown signal received, exiting...")
}
