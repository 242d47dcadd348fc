// Seed the database with two funded traders, the fee schedule, and a small
// resting book for local development.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/config"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/db"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
)

func main() {
	ctx := context.Background()
	log := logrus.WithField("cmd", "seed")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("seed requires DATABASE_URL")
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("failed to migrate")
	}

	open, err := database.OpenOrders(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to check existing orders")
	}
	if len(open) > 0 {
		log.WithField("orders", len(open)).Info("database already seeded")
		os.Exit(0)
	}

	if err := database.SetFeeSchedule(ctx, models.FeeSchedule{
		MakerRatePct: cfg.MakerFeePct,
		TakerRatePct: cfg.TakerFeePct,
	}); err != nil {
		log.WithError(err).Fatal("failed to set fee schedule")
	}

	trader1 := ensureUser(ctx, database, log, "trader1", "password1")
	trader2 := ensureUser(ctx, database, log, "trader2", "password2")

	// Fee account wallet; created empty, fees accrue into it.
	if err := database.Deposit(ctx, cfg.FeeAccountID, decimal.Zero, decimal.Zero); err != nil {
		log.WithError(err).Fatal("failed to create fee account wallet")
	}

	for _, dep := range []struct {
		userID      int64
		quote, base string
	}{
		{trader1.ID, "10000", "100"},
		{trader2.ID, "10000", "100"},
	} {
		quote, _ := decimal.NewFromString(dep.quote)
		base, _ := decimal.NewFromString(dep.base)
		if err := database.Deposit(ctx, dep.userID, quote, base); err != nil {
			log.WithError(err).Fatal("failed to deposit")
		}
	}

	for _, o := range []struct {
		userID int64
		side   models.Side
		price  string
		amount string
	}{
		{trader1.ID, models.SideBuy, "0.95", "20"},
		{trader1.ID, models.SideBuy, "0.90", "30"},
		{trader2.ID, models.SideSell, "1.05", "20"},
		{trader2.ID, models.SideSell, "1.10", "30"},
	} {
		price, _ := decimal.NewFromString(o.price)
		amount, _ := decimal.NewFromString(o.amount)
		if _, err := database.CreateOrder(ctx, &models.Order{
			UserID: o.userID,
			Side:   o.side,
			Type:   models.TypeLimit,
			Price:  price,
			Amount: amount,
			Filled: decimal.Zero,
			Status: models.StatusPending,
		}); err != nil {
			log.WithError(err).Fatal("failed to create order")
		}
	}

	log.Info("seeded users, wallets, fee schedule, and resting orders")
}

func ensureUser(ctx context.Context, database *db.DB, log *logrus.Entry, username, password string) *models.User {
	user, err := database.GetUserByUsername(ctx, username)
	if err == nil {
		return user
	}
	if !errors.Is(err, db.ErrNotFound) {
		log.WithError(err).Fatal("failed to look up user")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.WithError(err).Fatal("failed to hash password")
	}
	user, err = database.CreateUser(ctx, username, string(hash))
	if err != nil {
		log.WithError(err).Fatal("failed to create user")
	}
	return user
}
