package main

import (
	"context"
	"log"

	"ai-booking-caller-be/internal/bootstrap"
	"ai-booking-caller-be/internal/config"
	"ai-booking-caller-be/internal/server"
	"ai-booking-caller-be/internal/tracer"
	"ai-booking-caller-be/pkg/database"

	"gorm.io/gorm"
)

func main() {
	// 0. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Database (optional)
	var gormDB *gorm.DB
	if cfg.Database.Connection != "" {
		var err error
		gormDB, err = database.NewGormDBFromDSN(cfg.Database.Connection)
		if err != nil {
			log.Panicf("Unable to connect to GORM DB: %v", err)
		}
	}

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)

	// 4. Start Background Services
	ctx := context.Background()
	go container.WebSocketHub.Run(ctx)
	go container.NotificationService.Start()
	go func() {
		log.Println("Background: Starting Transcript Journal...")
		if err := container.Journal.Consume(ctx); err != nil {
			log.Printf("Background Journal Error: %v", err)
		}
	}()

	// 5. Initialize Server
	srv := server.New(cfg, container)

	// 6. Run Server
	log.Fatal(srv.Run())
}
