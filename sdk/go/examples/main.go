package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"VelocityVault/sdk/go/velocity"
)

// 演示授权、启动代理与查询组合状态的最小流程，需要先启动 velocityd。
func main() {
	baseURL := os.Getenv("VELOCITY_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3001"
	}
	user := "0x1234567890abcdef1234567890abcdef12345678"

	client, err := velocity.NewClient(baseURL, nil)
	if err != nil {
		log.Fatalf("创建客户端失败: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mandate, err := client.CreateSession(ctx, velocity.Mandate{
		UserAddress:     user,
		YellowSessionID: "demo-session",
		MaxTradeSize:    "100",
		AllowedPairs:    []string{"ETH/USDC"},
		RiskLevel:       "moderate",
		ExpiresAt:       time.Now().Add(24 * time.Hour),
		Signature:       "0xdemo",
	})
	if err != nil {
		log.Fatalf("创建授权失败: %v", err)
	}
	fmt.Printf("授权已创建: %s\n", mandate.ID)

	if _, err := client.StartAgent(ctx, user, "momentum"); err != nil {
		log.Fatalf("启动代理失败: %v", err)
	}
	if err := client.UpdatePnL(ctx, velocity.PnLUpdate{
		UserAddress: user,
		PnL:         "12.5",
		PnLPercent:  0.125,
		Trade:       &velocity.Trade{Pair: "ETH/USDC", Side: "buy", Amount: "0.1", Price: "2500"},
	}); err != nil {
		log.Fatalf("上报收益失败: %v", err)
	}

	state, err := client.State(ctx, user, false)
	if err != nil {
		log.Fatalf("查询状态失败: %v", err)
	}
	fmt.Printf("当前收益: %s，持仓: %v\n", state.CurrentPnL, state.Positions)

	stats, err := client.Stats(ctx, user)
	if err != nil {
		log.Fatalf("查询统计失败: %v", err)
	}
	fmt.Printf("成交 %d 笔，成功率 %.2f%%\n", stats.TotalTrades, stats.SuccessRate)
}
