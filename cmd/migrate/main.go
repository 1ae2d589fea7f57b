package main

import (
	"log"
	"os"

	"ai-booking-caller-be/internal/model"
	"ai-booking-caller-be/pkg/database"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func main() {
	// 1. Load Environment Variables
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(dsn)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Starting GORM Migration...")

	// 3. Pre-Migration: Extensions
	log.Println("Step 1: Setting up Extensions...")

	setupSQL := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	}

	for _, sql := range setupSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to execute setup SQL: %v. Continuing...", err)
		}
	}

	// 4. AutoMigrate
	log.Println("Step 2: Running AutoMigrate...")

	models := []interface{}{
		&model.CallSession{},
		&model.NotificationType{},
		&model.Notification{},
		&model.UserNotificationPreference{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		log.Fatalf("Error: AutoMigrate failed: %v", err)
	}

	// 5. Post-Migration: Functions & Triggers
	log.Println("Step 3: Creating Functions...")

	postMigrationSQL := []string{
		`CREATE OR REPLACE FUNCTION set_current_timestamp_updated_at() RETURNS trigger LANGUAGE plpgsql AS $$
		DECLARE _new_value TIMESTAMP WITH TIME ZONE;
		BEGIN
		  _new_value := now();
		  IF NEW.updated_at IS DISTINCT FROM _new_value THEN NEW.updated_at = _new_value; END IF;
		  RETURN NEW;
		END; $$;`,

		`DROP TRIGGER IF EXISTS set_call_sessions_updated_at ON call_sessions;`,
		`CREATE TRIGGER set_call_sessions_updated_at BEFORE UPDATE ON call_sessions
		 FOR EACH ROW EXECUTE FUNCTION set_current_timestamp_updated_at();`,
	}

	for _, sql := range postMigrationSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Printf("Warn: Failed to execute post-migration SQL: %v", err)
		}
	}

	// 6. Seed
	log.Println("Step 4: Seeding notification types...")
	seedNotificationTypes(db)

	log.Println("✅ Success: Database migration completed successfully via GORM.")
}

func seedNotificationTypes(db *gorm.DB) {
	for _, t := range model.DefaultNotificationTypes {
		if err := db.Where("code = ?", t.Code).FirstOrCreate(&t).Error; err != nil {
			log.Printf("Error seeding notification type %s: %v", t.Code, err)
		}
	}
}
