package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/joho/godotenv"

	"github.com/unclebandit/wa-campaigns-backend/internal/db"
	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/phone"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
)

func main() {
	contacts := flag.Int("contacts", 50, "number of fake contacts to create")
	optOutEvery := flag.Int("opt-out-every", 5, "every n-th contact is created opted out")
	seed := flag.Int64("seed", 0, "random seed, 0 for a random one")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on OS environment variables")
	}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is required")
	}
	appLogger := logger.New(os.Getenv("LOG_LEVEL"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal(err)
	}

	s := &seeder{
		store:       repository.NewPostgresStore(conn),
		faker:       gofakeit.New(*seed),
		region:      "KE",
		optOutEvery: *optOutEvery,
		logger:      appLogger,
	}
	report, err := s.run(ctx, *contacts)
	if err != nil {
		log.Fatal(err)
	}
	appLogger.Info("database seeding completed", "opted_in", report.optedIn, "opted_out", report.optedOut, "skipped", report.skipped)
}

type seeder struct {
	store       *repository.Store
	faker       *gofakeit.Faker
	region      string
	optOutEvery int
	logger      logger.Logger
}

type seedReport struct {
	optedIn, optedOut, skipped int
}

// demoTemplates are registered approved so a demo campaign can launch at once.
var demoTemplates = []model.WhatsAppTemplate{
	{ContentID: "HXb5b62575e6e4ff6129ad7c8efe1f983e", Name: "spring_sale", Language: "en", Category: "MARKETING",
		Body: "Hi {{1}}, our spring sale starts today with {{2}} off. Reply STOP to opt out.", IsApproved: true},
	{ContentID: "HX350d429d32e64a552466cafecbe95f3c", Name: "order_update", Language: "en", Category: "UTILITY",
		Body: "Hello {{1}}, your order {{2}} is on its way.", IsApproved: true},
}

func (s *seeder) run(ctx context.Context, n int) (seedReport, error) {
	var report seedReport
	for i := range demoTemplates {
		t := demoTemplates[i]
		if err := s.store.Templates.Create(ctx, &t); err != nil && !appErrors.IsValidation(err) {
			return report, err
		}
	}

	for i := 1; i <= n; i++ {
		e164, err := phone.Normalize(s.faker.Numerify("07########"), s.region)
		if err != nil {
			report.skipped++
			continue
		}
		optedIn := s.optOutEvery <= 0 || i%s.optOutEvery != 0
		c := &model.Contact{
			Phone:      e164,
			Name:       s.faker.Name(),
			HasOptedIn: optedIn,
			Tags:       s.faker.RandomString([]string{"vip", "nairobi", "mombasa", "wholesale", "retail"}),
		}
		if optedIn {
			at := s.faker.DateRange(time.Now().AddDate(-1, 0, 0), time.Now()).UTC()
			c.OptInDate = &at
		}
		if err := s.store.Contacts.Create(ctx, c); err != nil {
			// duplicate numbers from the generator
			if appErrors.IsValidation(err) {
				report.skipped++
				continue
			}
			return report, err
		}
		if optedIn {
			report.optedIn++
		} else {
			report.optedOut++
		}
	}
	s.logger.Debug("seeded contacts", "requested", n)
	return report, nil
}
