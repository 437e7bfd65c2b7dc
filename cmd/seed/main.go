// Package main inserts invite codes into the database and prints them, one per line.
//
//	seed -n 20
//	seed ABCD-EFGH-JKLM WXYZ-2345-6789
//
// With -hash-password it only prints the bcrypt hash to put in ADMIN_PASSWORD_HASH.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bizdev-events/backend/config"
	"github.com/bizdev-events/backend/internal/invitecodes"
	"github.com/bizdev-events/backend/pkg/database"
	"github.com/bizdev-events/backend/pkg/utils"
)

func main() {
	n := flag.Int("n", 0, "number of random codes to generate")
	password := flag.String("hash-password", "", "print the bcrypt hash of this admin password and exit")
	flag.Parse()

	if *password != "" {
		hash, err := utils.HashPassword(*password)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash password:", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	codes := flag.Args()
	for i := 0; i < *n; i++ {
		code, err := invitecodes.Generate()
		if err != nil {
			logger.Fatal("generate code", zap.Error(err))
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		fmt.Fprintln(os.Stderr, "usage: seed -n COUNT | seed CODE...")
		os.Exit(2)
	}

	repo := invitecodes.NewRepository(pool)
	created := 0
	for _, code := range codes {
		ic, err := repo.Create(ctx, invitecodes.Normalize(code))
		if errors.Is(err, invitecodes.ErrDuplicate) {
			logger.Warn("code already exists", zap.String("code", code))
			continue
		}
		if err != nil {
			logger.Fatal("insert code", zap.Error(err), zap.String("code", code))
		}
		fmt.Println(ic.Code)
		created++
	}
	logger.Info("invite codes seeded", zap.Int("created", created))
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
