package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"tenantflow/config"
	"tenantflow/internal/repository"
	"tenantflow/pkg/database"

	"gorm.io/gorm"
)

const usage = `
Tenantflow - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Create extensions, tables, partial indexes and constraints
  status      Show database connection status and table row counts
  seed-dev    Seed a development organization with open checkout sources

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
  go run cmd/migrate/main.go seed-dev
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	// Load config and connect to database
	cfg := config.LoadConfig()
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer database.Close()

	switch command {
	case "up":
		runMigrationsUp(db)
	case "status":
		showStatus()
	case "seed-dev":
		runSeedDevelopment(db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

func runMigrationsUp(db *gorm.DB) {
	log.Println("🚀 Running migrations UP...")

	if err := repository.InitSchema(db); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}

	log.Println("✅ Migrations completed successfully!")
}

func showStatus() {
	log.Println("🔍 Checking database status...")

	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	log.Println("✅ Database connection: OK")

	tables := []string{
		"event_logs",
		"outbox_events",
		"outbox_event_deliveries",
		"payments",
		"ledger_entries",
		"checkout_sources",
		"search_index_items",
		"loyalty_notifications",
		"crm_contacts",
		"support_ticket_syncs",
	}
	for _, table := range tables {
		exists, err := database.TableExists(table)
		if err != nil {
			log.Printf("⚠️  Error checking table %s: %v", table, err)
			continue
		}
		if exists {
			count, _ := database.GetTableCount(table)
			log.Printf("✅ Table %-24s exists (%d rows)", table, count)
		} else {
			log.Printf("❌ Table %-24s does not exist", table)
		}
	}

	if err := database.HealthCheck(); err != nil {
		log.Printf("⚠️  Health check warning: %v", err)
	} else {
		log.Println("✅ Health check: PASSED")
	}
}

func runSeedDevelopment(db *gorm.DB) {
	log.Println("🌱 Seeding database (development mode)...")

	result, err := database.SeedDevelopment(db, nil)
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Println("📊 Seed Summary:")
	log.Printf("   - Organization: %s", result.FeeConfig.OrganizationID)
	for _, s := range result.Sources {
		log.Printf("   - Source: %s/%s (%s)", s.SourceType, s.SourceID, s.AccessMode)
	}
	log.Println("✅ Development seeding completed!")
}
