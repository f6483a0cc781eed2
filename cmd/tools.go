package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"taskhub/internal/database"
	"taskhub/internal/models"
	"taskhub/internal/repository"
	"taskhub/pkg/logger"
)

var errStoreUnavailable = errors.New("document store unavailable (check MONGODB_URI)")

func connectStore(ctx context.Context) (*database.Gateway, error) {
	gw := database.NewGateway(database.OptionsFromConfig(mustConfig()))
	if !gw.EnsureConnected(ctx) {
		return nil, fmt.Errorf("%w: %v", errStoreUnavailable, gw.LastError())
	}
	if err := gw.Ping(ctx); err != nil {
		return nil, err
	}
	return gw, nil
}

func newIndexesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "Create the task collection indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			gw, err := connectStore(ctx)
			if err != nil {
				return err
			}
			defer gw.Close(context.Background())
			if err := database.EnsureIndexes(ctx, gw.Collection()); err != nil {
				return err
			}
			logger.Info(ctx, "Task indexes ensured", "index", database.TaskListIndex)
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	var (
		owner string
		total int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert generated tasks for one owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			gw, err := connectStore(ctx)
			if err != nil {
				return err
			}
			defer gw.Close(context.Background())

			store := repository.NewMongoStore(gw.Collection())
			priorities := []string{"low", "medium", "high"}
			categories := []string{"work", "personal", "shopping"}
			start := time.Now()
			for i := 0; i < total; i++ {
				t, err := models.NewTask(fmt.Sprintf("Task %d", i+1),
					priorities[i%len(priorities)], categories[i%len(categories)], owner,
					start.Add(time.Duration(i)*time.Millisecond))
				if err != nil {
					return err
				}
				t.Completed = i%4 == 0
				if err := store.Create(ctx, t); err != nil {
					return fmt.Errorf("insert task %d: %w", i+1, err)
				}
			}
			logger.Info(ctx, "Seed complete", "owner", owner, "tasks", total, "elapsed", time.Since(start).String())
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "default-user", "owner of the generated tasks")
	cmd.Flags().IntVar(&total, "count", 100, "number of tasks to insert")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for AUTH_MODE=jwt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig()
			secret := cfg.JWTSecret
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			now := time.Now()
			claims := jwt.RegisteredClaims{
				Subject:   subject,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			}
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "test-user", "token subject (task owner)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
