// Command surveyor-sim serves a simulated vehicle on the vehicle TCP
// protocol, for bench testing without a boat.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"surveyor/internal/command"
	"surveyor/internal/config"
	"surveyor/internal/sim"
)

func main() {
	var configPath string
	var listen string
	var scenarioPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (sim section); optional")
	flag.StringVar(&listen, "listen", "", "Listen address, overrides sim.listen")
	flag.StringVar(&scenarioPath, "scenario", "", "Path to a scenario script (YAML)")
	flag.Parse()

	cfg := config.Config{Vehicle: config.VehicleConfig{Addr: "127.0.0.1:5000"}}
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
		cfg = c
	} else if err := config.DefaultAndValidate(&cfg); err != nil {
		log.Fatalf("config defaults failed: %v", err)
	}
	if listen != "" {
		cfg.Sim.Listen = listen
	}

	var scenario *sim.Scenario
	if scenarioPath != "" {
		script, err := sim.LoadScenarioScript(scenarioPath)
		if err != nil {
			log.Fatalf("scenario load failed: %v", err)
		}
		scenario, err = sim.NewScenario(script)
		if err != nil {
			log.Fatalf("scenario invalid: %v", err)
		}
		log.Printf("sim scenario path=%s events=%d", scenarioPath, scenario.Len())
	}

	srv, err := sim.Listen(sim.Config{
		Addr:     cfg.Sim.Listen,
		Start:    command.Waypoint{Lat: cfg.Sim.StartLat, Lon: cfg.Sim.StartLon},
		SpeedMPS: cfg.Sim.SpeedMPS,
		Period:   cfg.Sim.Period,
		Scenario: scenario,
	})
	if err != nil {
		log.Fatalf("sim listen failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("surveyor-sim listening addr=%s speed_mps=%.1f period=%s", srv.Addr(), cfg.Sim.SpeedMPS, cfg.Sim.Period)
	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("sim stopped: %v", err)
	}
	log.Printf("surveyor-sim stopping")
}
