package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"vip-entitlement-service/handlers"
	"vip-entitlement-service/logger"
	"vip-entitlement-service/middleware"
	"vip-entitlement-service/models"
	"vip-entitlement-service/services"
	"vip-entitlement-service/utils"
	"vip-entitlement-service/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func envHours(key string, fallback int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Hour
		}
		log.Printf("⚠️  Invalid %s=%q, using default %dh", key, v, fallback)
	}
	return time.Duration(fallback) * time.Hour
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, v, fallback)
	}
	return fallback
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	if err := logger.Init(); err != nil {
		log.Printf("⚠️  Structured logger init failed, continuing without it: %v", err)
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}
	webhookSecret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if webhookSecret == "" {
		log.Fatal("PAYMENT_WEBHOOK_SECRET environment variable not set")
	}

	if err := utils.InitR2(); err != nil {
		log.Fatal("failed to initialize R2 client:", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.UserEntitlement{},
		&models.GrantLedgerEntry{},
		&models.DailyQuotaCounter{},
		&models.QuotaEvent{},
		&models.Referral{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	clock := clockwork.NewRealClock()

	adRequired := envInt("AD_DAILY_REQUIRED", 3)
	adReward := envHours("AD_REWARD_HOURS", 24)
	referralReward := envHours("REFERRAL_REWARD_HOURS", 72)

	entitlementService := services.NewEntitlementService(db, clock)
	quotaService := services.NewQuotaService(db, clock, adRequired, adReward)
	referralService := services.NewReferralService(db, clock)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // webhook and JSON bodies only
	})

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOrigins = "http://localhost:3000"
	}
	origins := strings.Split(allowedOrigins, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-User-ID, X-User-Roles, X-User-Name, X-Payment-Signature",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// The payment webhook authenticates with its own HMAC signature; every
	// secured route goes through the Gateway token check.
	handlers.SetupPaymentWebhook(app, entitlementService, webhookSecret)

	app.Use("/s", middleware.GatewayAuthMiddleware())
	handlers.SetupEntitlementRoutes(app, entitlementService, quotaService)
	handlers.SetupReferralRoutes(app, referralService, entitlementService, referralReward)
	handlers.SetupAdminRoutes(app, entitlementService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entitlementService.StartExpirySweep(24 * time.Hour)

	exportWorker := workers.NewLedgerExportWorker(db, clock)
	go exportWorker.Start(ctx, 1*time.Hour)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5300"
	}
	go func() {
		if err := app.Listen(":" + port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ VIP entitlement service running on http://localhost:%s", port)
	log.Printf("✅ Ad quota: %d per day → %s VIP", adRequired, adReward)
	log.Printf("✅ Referral reward: %s VIP", referralReward)
	log.Println("✅ Expiry sweep and ledger export worker running")

	<-ctx.Done()
	log.Println("Shutting down server...")
	_ = app.Shutdown()
}
