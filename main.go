package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MUKE-coder/gauge/gauge"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	ingest := flag.String("ingest", "", "comma-separated metric files (.csv or JSON lines) to load at startup")
	flag.Parse()

	cfg, err := gauge.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	g, err := gauge.Mount(router, cfg)
	if err != nil {
		log.Fatalf("failed to start gauge: %v", err)
	}

	if *ingest != "" {
		report := g.Batch().ProcessFiles(context.Background(), strings.Split(*ingest, ","))
		for _, f := range report.Files {
			if !f.OK() {
				log.Printf("ingest %s failed after %d samples: %s", f.Path, f.Recorded, f.Error)
			}
		}
		log.Printf("ingested %d samples from %d files (%d failed, %d rejected lines)",
			report.Recorded, len(report.Files), report.Failed, report.Rejected)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Starting server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := g.Shutdown(); err != nil {
		log.Printf("gauge shutdown: %v", err)
	}
}
