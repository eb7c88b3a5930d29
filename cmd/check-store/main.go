package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/SiriusScan/breachwatch/breachwatch/config"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres"
)

// check-store never migrates; run migrations/001_pipeline_schema to create
// whatever it reports missing.
func main() {
	log.Println("Starting pipeline store check...")

	cfg := config.Load()
	missing, err := postgres.Check(cfg.DB)
	if err != nil {
		log.Fatalf("❌ Store check failed: %v", err)
	}
	if len(missing) > 0 {
		log.Fatalf("❌ Missing pipeline tables: %s", strings.Join(missing, ", "))
	}

	fmt.Println("✅ Pipeline store is reachable and every table exists")
}
