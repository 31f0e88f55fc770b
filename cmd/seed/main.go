package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/shenikar/emergency_response_system/internal/config"
	"github.com/shenikar/emergency_response_system/internal/models"
	"github.com/shenikar/emergency_response_system/internal/repository"
	"github.com/shenikar/emergency_response_system/internal/service"
	"github.com/shenikar/emergency_response_system/pkg/logger"
	"github.com/shenikar/emergency_response_system/pkg/postgres"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// lagosFacilities - демонстрационный реестр учреждений Лагоса
var lagosFacilities = []models.Facility{
	{
		Name:      "Lagos University Teaching Hospital",
		Address:   "Ishaga Road, Idi-Araba",
		City:      "Lagos",
		State:     "Lagos",
		Phone:     "+234 1 774 9190",
		Latitude:  6.5158,
		Longitude: 3.3540,
	},
	{
		Name:      "Lekki Central Clinic",
		Address:   "Admiralty Way, Lekki Phase 1",
		City:      "Lagos",
		State:     "Lagos",
		Latitude:  6.4385,
		Longitude: 3.4735,
	},
	{
		Name:      "Victoria Island Medical Centre",
		Address:   "Adeola Odeku Street, Victoria Island",
		City:      "Lagos",
		State:     "Lagos",
		Latitude:  6.4281,
		Longitude: 3.4219,
	},
}

type seedUser struct {
	Email string
	Name  string
	Role  models.Role
}

var demoUsers = []seedUser{
	{Email: "demo@example.com", Name: "Demo User", Role: models.RoleUser},
	{Email: "staff@example.com", Name: "Demo Staff", Role: models.RoleHospitalStaff},
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logger.ForComponent(logger.New(cfg.LogLevel), "seed")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbpool, err := postgres.NewPostgresDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbpool.Close()

	facilityRepo := repository.NewFacilityRepository(dbpool)
	for _, f := range lagosFacilities {
		facility := f
		err := facilityRepo.Create(ctx, &facility)
		switch {
		case errors.Is(err, service.ErrAlreadyExists):
			log.WithField("facility", facility.Name).Info("Facility already seeded")
		case err != nil:
			log.WithError(err).Fatal("Failed to seed facility")
		default:
			log.WithFields(logrus.Fields{"facility": facility.Name, "id": facility.ID}).Info("Facility seeded")
		}
	}

	password := os.Getenv("SEED_PASSWORD")
	if password == "" {
		password = "emergency123"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.WithError(err).Fatal("Failed to hash seed password")
	}

	userRepo := repository.NewUserRepository(dbpool)
	for _, u := range demoUsers {
		user := &models.User{Email: u.Email, Name: u.Name, Role: u.Role, PasswordHash: string(hash)}
		err := userRepo.Create(ctx, user)
		switch {
		case errors.Is(err, service.ErrAlreadyExists):
			log.WithField("email", u.Email).Info("User already seeded")
		case err != nil:
			log.WithError(err).Fatal("Failed to seed user")
		default:
			log.WithFields(logrus.Fields{"email": u.Email, "role": u.Role}).Info("User seeded")
		}
	}

	log.Info("Seed completed")
}
