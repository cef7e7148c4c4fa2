package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/checkout"
	"github.com/fjod/go_cart/marketcart/internal/repository"
	"github.com/fjod/go_cart/marketcart/internal/store"
	"github.com/spf13/cobra"
)

var (
	showSession string
	showTimeout time.Duration
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted cart of a session grouped by seller",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), showTimeout)
		defer cancel()
		return show(ctx, showSession)
	},
}

func init() {
	showCmd.Flags().StringVar(&showSession, "session", "", "cart session id")
	showCmd.Flags().DurationVar(&showTimeout, "timeout", 10*time.Second, "operation timeout")
	_ = showCmd.MarkFlagRequired("session")
}

type showOutput struct {
	SessionID  string                 `json:"session_id"`
	Sellers    []checkout.SellerOrder `json:"sellers"`
	TotalItems int                    `json:"total_items"`
	TotalPrice string                 `json:"total_price"`
}

func show(ctx context.Context, sessionID string) error {
	mongoDB, err := repository.ConnectMongoDB(ctx, repository.MongoConfig{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
	})
	if err != nil {
		return err
	}
	defer mongoDB.Client().Disconnect(context.Background())

	items, err := repository.NewMongoRepository(mongoDB).Load(ctx, sessionID)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return err
	}

	st := store.New(store.WithItems(items))
	out := showOutput{
		SessionID:  sessionID,
		Sellers:    []checkout.SellerOrder{},
		TotalItems: st.TotalItems(),
		TotalPrice: st.TotalPrice().StringFixed(2),
	}
	if sub, err := checkout.Build(sessionID, st, cfg.Currency); err == nil {
		out.Sellers = sub.Sellers
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
