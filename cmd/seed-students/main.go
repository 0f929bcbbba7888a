package main

import (
	"context"
	"fmt"
	"time"

	"github.com/quizdesk/user-service/internal/config"
	"github.com/quizdesk/user-service/internal/database"
	"github.com/quizdesk/user-service/internal/logger"
	"github.com/quizdesk/user-service/internal/repository"
	"github.com/quizdesk/user-service/internal/service"
	"golang.org/x/crypto/bcrypt"
)

const seedCount = 50

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	userService := service.NewUserService(repository.NewUserRepository(pool))

	fmt.Printf("=== Seeding %d Students ===\n", seedCount)

	// All seed accounts share one password so dev logins are predictable.
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash seed password")
	}

	successCount := 0
	for i := 1; i <= seedCount; i++ {
		name := fmt.Sprintf("Seed Student %02d", i)
		email := fmt.Sprintf("student%02d@example.test", i)

		if _, err := userService.Register(ctx, name, email, string(hash)); err != nil {
			fmt.Printf("Error creating student %s: %v\n", email, err)
			continue
		}
		successCount++
		if i%10 == 0 {
			fmt.Printf("Created %d students...\n", i)
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d students.\n", successCount, seedCount)
}
