package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/spf13/cobra"

	"studyrewards-backend/internal/database"
	"studyrewards-backend/internal/middleware"
	"studyrewards-backend/internal/repository"
)

var (
	enrollAddress string
	tokenUserID   string
	tokenTTL      time.Duration
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Create a user record bound to a Neo N3 address",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is not set")
		}
		if _, err := address.StringToUint160(enrollAddress); err != nil {
			return fmt.Errorf("invalid --address: %w", err)
		}

		pool, err := database.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		user, err := repository.NewUserRepo(pool).Create(cmd.Context(), uuid.New(), enrollAddress)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), user.ID)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		userID, err := uuid.Parse(tokenUserID)
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}

		token, err := middleware.NewJWTAuth(cfg.JWTSecret).IssueToken(userID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollAddress, "address", "", "Neo N3 address of the user's wallet")
	_ = enrollCmd.MarkFlagRequired("address")

	tokenCmd.Flags().StringVar(&tokenUserID, "user", "", "user id")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
}
