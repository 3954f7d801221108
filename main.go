package main

import (
	"log"
	"os"
	"time"

	"fiscalai-backend/billing"
	"fiscalai-backend/cache"
	"fiscalai-backend/db"
	"fiscalai-backend/gateway"
	pagarmegw "fiscalai-backend/gateway/pagarme"
	stripegw "fiscalai-backend/gateway/stripe"
	"fiscalai-backend/handlers/subscriptions"
	"fiscalai-backend/routes"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const gatewayTimeout = 20 * time.Second

// @title FiscalAI Backend API
// @version 1.0
// @description Subscription billing and invoicing backend for FiscalAI
// @host localhost:8080
// @BasePath /
// @SecurityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter the JWT with the Bearer prefix: Bearer <JWT>
func main() {

	godotenv.Load()
	gin.SetMode(gin.ReleaseMode)

	db.InitDB()

	redisClient, err := cache.NewRedis()
	if err != nil {
		log.Printf("Warning: redis initialization failed: %v", err)
		log.Println("Idempotency-Key replay will be disabled.")
	}

	stripeClient := stripegw.New(
		os.Getenv("STRIPE_SECRET_KEY"),
		os.Getenv("STRIPE_WEBHOOK_SECRET"),
		gatewayTimeout,
	)
	pagarmeBase := os.Getenv("PAGARME_API_URL")
	if pagarmeBase == "" {
		pagarmeBase = "https://api.pagar.me/core/v5"
	}
	pagarmeClient := pagarmegw.New(
		pagarmeBase,
		os.Getenv("PAGARME_API_KEY"),
		os.Getenv("PAGARME_WEBHOOK_SECRET"),
		gatewayTimeout,
	)

	svc := billing.NewService(db.DB, os.Getenv("APP_ENV"), []gateway.Gateway{stripeClient, pagarmeClient}...)

	stop := make(chan struct{})
	defer close(stop)
	svc.StartScheduler(1*time.Hour, stop)

	subsHandler := subscriptions.NewHandler(svc, stripeClient, pagarmeClient)
	r := routes.SetupRouter(subsHandler, redisClient)

	if err := r.Run(":8080"); err != nil {
		log.Fatal("Error starting the server:", err)
	}
}
