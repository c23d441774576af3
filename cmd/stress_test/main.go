package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/rl1809/lot-shop/internal/adapter/handler"
	"github.com/rl1809/lot-shop/internal/config"
	"github.com/rl1809/lot-shop/internal/logger"
)

const (
	initialStock  = 20
	totalRequests = 50
	firstBuyerID  = 900000
)

// Races totalRequests buyers for initialStock lots of a fresh type against a running server.
func main() {
	cfg := config.Load()
	log.Logger = logger.New(logger.Options{Environment: "development", Level: cfg.LogLevel})
	ctx := context.Background()

	if cfg.AdminToken == "" {
		log.Fatal().Msg("ADMIN_TOKEN is required to call the shop")
	}

	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to dial gRPC")
	}
	defer conn.Close()
	client := handler.NewShopClient(conn)

	lotType := fmt.Sprintf("stress-%d", time.Now().UnixNano())
	lots := make([]handler.RestockLot, initialStock)
	for i := range lots {
		lots[i] = handler.RestockLot{
			Type:    lotType,
			Format:  "txt",
			Price:   decimal.NewFromInt(1),
			Content: fmt.Sprintf("%s-%d", lotType, i),
		}
	}

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", cfg.AdminToken)
	restocked, err := client.Restock(ctx, &handler.RestockRequest{AddedBy: "stress_test", Lots: lots})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to restock")
	}
	log.Info().Str("type", lotType).Int32("added", restocked.Added).Msg("stock ready")

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var errorCount atomic.Int32

	// Spawn concurrent buyers
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(buyerID int64) {
			defer wg.Done()

			resp, err := client.Reserve(ctx, &handler.ReserveRequest{BuyerID: buyerID, Type: lotType, Quantity: 1})
			switch {
			case err != nil:
				errorCount.Add(1)
				log.Error().Err(err).Int64("buyer", buyerID).Msg("reserve failed")
			case resp.Success:
				successCount.Add(1)
			default:
				soldOutCount.Add(1)
			}
		}(int64(firstBuyerID + i))
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Lot Type:         %s\n", lotType)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Reserved:         %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && soldOut == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d claims granted, %d refused\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d granted/%d refused, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	// Effective stock must be zero while the claims are held
	stock, err := client.Stock(ctx, &handler.StockRequest{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read stock")
	}
	var available int32
	for _, line := range stock.Lines {
		if line.Type == lotType {
			available = line.Available
		}
	}
	if available == 0 {
		fmt.Println("PASS: Effective stock is 0")
	} else {
		fmt.Printf("FAIL: Expected effective stock 0, got %d\n", available)
	}

	// Release every claim so the lots return to the pool
	for i := 0; i < totalRequests; i++ {
		if _, err := client.Release(ctx, &handler.ReleaseRequest{BuyerID: int64(firstBuyerID + i)}); err != nil {
			log.Warn().Err(err).Msg("release failed")
		}
	}
	log.Info().Msg("claims released")
}
