package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/examhall/examhall-backend/internal/config"
	"github.com/examhall/examhall-backend/internal/database"
	"github.com/examhall/examhall-backend/internal/logger"
	"github.com/examhall/examhall-backend/internal/model"
	"github.com/examhall/examhall-backend/internal/repository"
	"github.com/examhall/examhall-backend/internal/service"
)

// Seeds a demo class of students plus one published exam so a fresh
// install has something to log into and take.
func main() {
	var studentCount int
	flag.IntVar(&studentCount, "students", 20, "Number of students to create")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	studentRepo := repository.NewStudentRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	authService := service.NewAuthService(cfg, rdb)

	fmt.Print("Password for all seeded students: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read password")
	}
	if len(raw) < 4 {
		fmt.Println("Password must be at least 4 characters.")
		os.Exit(1)
	}

	hash, err := authService.HashPassword(string(raw))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	fmt.Printf("=== Seeding %d students ===\n", studentCount)

	created := 0
	for i := 1; i <= studentCount; i++ {
		student := &model.Student{
			Username:     fmt.Sprintf("student%d", i),
			Name:         fmt.Sprintf("Student %d", i),
			ClassName:    "12-A",
			PasswordHash: hash,
		}
		if err := studentRepo.Create(ctx, student); err != nil {
			fmt.Printf("Error creating %s: %v\n", student.Username, err)
			continue
		}
		created++
	}
	fmt.Printf("Created %d/%d students.\n", created, studentCount)

	fmt.Println("=== Seeding sample exam ===")

	exam := &model.Exam{
		ID:              uuid.New(),
		Title:           "General Knowledge Trial",
		Subject:         "General Knowledge",
		DurationMinutes: 10,
		Status:          model.ExamStatusPublished,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	questions := []struct {
		text    string
		options [4]string
		correct string
	}{
		{"What is the capital of France?", [4]string{"Paris", "Lyon", "Marseille", "Nice"}, "A"},
		{"How many continents are there?", [4]string{"Five", "Six", "Seven", "Eight"}, "C"},
		{"Which planet is known as the Red Planet?", [4]string{"Venus", "Mars", "Jupiter", "Saturn"}, "B"},
		{"What is 12 x 12?", [4]string{"124", "132", "144", "156"}, "C"},
		{"Who wrote Romeo and Juliet?", [4]string{"Dickens", "Shakespeare", "Austen", "Tolstoy"}, "B"},
	}

	for _, q := range questions {
		question := &model.Question{
			ID:           uuid.New(),
			ExamID:       exam.ID,
			Text:         q.text,
			OptionA:      q.options[0],
			OptionB:      q.options[1],
			OptionC:      q.options[2],
			OptionD:      q.options[3],
			CorrectLabel: q.correct,
		}
		if err := questionRepo.Create(ctx, question); err != nil {
			log.Fatal().Err(err).Msg("Failed to create question")
		}
	}

	fmt.Printf("Created exam %q with %d questions.\n", exam.Title, len(questions))
	fmt.Println("Seed completed.")
}
