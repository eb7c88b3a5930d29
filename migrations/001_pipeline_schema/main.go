package main

import (
	"flag"
	"log"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres"
	"gorm.io/gorm"
)

func main() {
	down := flag.Bool("down", false, "drop every pipeline table instead of creating them")
	flag.Parse()

	cfg := config.Load()
	db, err := postgres.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}

	if *down {
		log.Println("🔄 Rolling back migration 001: Pipeline Schema")
		if err := postgres.Drop(db); err != nil {
			log.Fatalf("❌ Rollback failed: %v", err)
		}
		log.Println("✅ Migration 001 rolled back")
		return
	}

	log.Println("🔄 Starting migration 001: Pipeline Schema")
	if err := migrateUp(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Migration 001 completed successfully")
}

func migrateUp(db *gorm.DB) error {
	log.Println("📊 Creating raw, staging and mart tables...")
	if err := postgres.Migrate(db); err != nil {
		return err
	}

	tables, err := db.Migrator().GetTables()
	if err != nil {
		return err
	}
	log.Printf("✅ %d tables present", len(tables))
	return nil
}
