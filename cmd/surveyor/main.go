package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"surveyor/internal/config"
	"surveyor/internal/web"
)

func main() {
	var configPath string
	var summaryDir string
	flag.StringVar(&configPath, "config", "./surveyor.yaml", "Path to YAML config")
	flag.StringVar(&summaryDir, "summarize", "", "Print a summary of a record directory and exit")
	flag.Parse()

	if summaryDir != "" {
		if err := printRecordSummary(os.Stdout, summaryDir); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("surveyor starting vehicle=%s", cfg.Vehicle.Addr)
	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		log.Fatalf("vehicle session failed: %v", err)
	}

	if cfg.Web.Enable {
		go web.PumpState(ctx, rt.sess.Store(), rt.states, 5)
		go func() {
			err := web.Serve(ctx, cfg.Web.Listen, web.Handler(rt.webDeps(logs)))
			if err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
				cancel()
			}
		}()
	}

	if cfg.Nav.Mission != "" {
		go func() {
			if err := rt.runMission(ctx); err != nil && ctx.Err() == nil {
				log.Printf("mission failed: %v", err)
			}
		}()
	}

	exitCode := 0
	select {
	case <-ctx.Done():
	case <-rt.sess.Done():
		log.Printf("vehicle session ended err=%v", rt.sess.Err())
		exitCode = 1
	}
	log.Printf("surveyor stopping")
	cancel()
	if err := rt.Close(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	os.Exit(exitCode)
}
