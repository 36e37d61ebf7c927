package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/recipeworks/recipeforge/internal/config"
	"github.com/recipeworks/recipeforge/internal/db"
	"github.com/recipeworks/recipeforge/internal/httpapi"
	"github.com/recipeworks/recipeforge/internal/pipeline"
	"github.com/recipeworks/recipeforge/internal/sched"
	"github.com/recipeworks/recipeforge/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	// dev convenience: hash a plaintext admin password once at startup
	if cfg.AdminPasswordHash == "" && cfg.AdminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("hash admin password: %v", err)
		}
		cfg.AdminPasswordHash = string(hash)
	}

	gdb := db.Connect(cfg.DBDSN)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	scheduler := sched.New(pipeline.NewRepo(gdb), pub, cfg.StaleRunThreshold)
	if err := scheduler.Start(ctx, cfg.ScheduleSpec); err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	defer scheduler.Stop()

	router := httpapi.NewRouter(gdb, cfg, pub)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("server: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server: shutdown: %v", err)
	}
}
