// Command seed fills a development database with a fake campus.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"campusfeed/internal/config"
	"campusfeed/internal/database"
	"campusfeed/internal/middleware"
	"campusfeed/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()
	students := flag.Int("students", defaults.Students, "Number of students to create")
	teachers := flag.Int("teachers", defaults.Teachers, "Number of teachers to create")
	posts := flag.Int("posts", defaults.Posts, "Number of posts to create")
	comments := flag.Int("comments", defaults.CommentsPerPost, "Maximum comments per post")
	reactions := flag.Int("reactions", defaults.ReactionsPerPost, "Maximum reactions per post")
	clean := flag.Bool("clean", defaults.Clean, "Clean database before seeding")
	randomSeed := flag.Int64("seed", 0, "Random seed; 0 picks one")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	report, err := seed.NewSeeder(db).Run(context.Background(), seed.Options{
		Students:         *students,
		Teachers:         *teachers,
		Posts:            *posts,
		CommentsPerPost:  *comments,
		ReactionsPerPost: *reactions,
		Clean:            *clean,
		Seed:             *randomSeed,
		MaxDays:          defaults.MaxDays,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	token, err := middleware.IssueToken(cfg.JWTSecret, report.Admin.ID, 24*time.Hour)
	if err != nil {
		log.Fatalf("Failed to issue admin token: %v", err)
	}
	log.Printf("Seeded %d users, %d posts (%d pinned), %d comments, %d reactions",
		report.Users, report.Posts, report.Pinned, report.Comments, report.Reactions)
	log.Printf("Admin user %d token (24h): %s", report.Admin.ID, token)
}
