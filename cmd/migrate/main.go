// Command migrate applies the schema. Non-production servers migrate on
// connect; production deployments run this once per release.
package main

import (
	"log"

	"campusfeed/internal/config"
	"campusfeed/internal/database"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("schema up to date")
}
