package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"homebid/internal/api/handlers"
	"homebid/internal/api/middleware"
	"homebid/internal/config"
	"homebid/internal/realtime"
	"homebid/internal/services"
	"homebid/internal/utils"
)

// Deps carries the shared service graph into the router. The services are
// constructed once in main and shared with the scheduler and the hub, so
// the router receives them instead of building its own.
type Deps struct {
	ListingService  services.IListingService
	UserService     services.IUserService
	DeadlineService services.IDeadlineService
	BidService      services.IBidService
	PaymentService  services.IPaymentService
	Hub             *realtime.Hub
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)
	r.Use(middleware.CORSMiddleware())
	r.Use(rateLimiter.Limit())

	listingHandler := handlers.NewListingHandler(deps.ListingService)
	userHandler := handlers.NewUserHandler(cfg, deps.UserService)
	deadlineHandler := handlers.NewDeadlineHandler(deps.DeadlineService)
	bidHandler := handlers.NewBidHandler(deps.BidService, deps.DeadlineService)
	paymentHandler := handlers.NewPaymentHandler(deps.PaymentService)
	webhookHandler := handlers.NewWebhookHandler(cfg, deps.PaymentService)

	v1 := r.Group("/v1")
	{
		// Public routes
		v1.POST("/user", userHandler.CreateUser)
		v1.GET("/listing/:id", listingHandler.GetListing)
		v1.GET("/listing/:id/bidding", deadlineHandler.GetListingLedger)
		v1.POST("/payment/webhook", webhookHandler.Handle)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// The websocket handshake authenticates itself via token query
		// parameter, so it sits outside the bearer middleware.
		v1.GET("/ws", realtime.ServeWS(deps.Hub, cfg, deps.BidService))

		// Authenticated routes
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.POST("/listing", listingHandler.CreateListing)
			authRequired.POST("/bidding", deadlineHandler.OpenBidding)

			authRequired.POST("/bid", bidHandler.SubmitBid)
			authRequired.GET("/bid/:id", bidHandler.GetBid)
			authRequired.POST("/bid/:id/raise", bidHandler.RaiseBid)

			authRequired.POST("/bid/:id/order", paymentHandler.CreateOrder)
			authRequired.GET("/bid/:id/payment", paymentHandler.GetPayment)
			authRequired.POST("/order/:id/authorize", paymentHandler.Authorize)
			authRequired.PATCH("/order/:id/amount", paymentHandler.UpdateAmount)

			authRequired.POST("/vault/setup-token", paymentHandler.CreateSetupToken)
			authRequired.POST("/vault/payment-token", paymentHandler.CreatePaymentToken)
		}
	}

	return r
}

// SetupServiceRouter configures the internal service engine used by the
// test harness: fetch mock emails captured in Redis and trigger a remote
// shutdown. Never exposed publicly.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				utils.Warn("shutdown channel already signaled", nil)
			}

		case "getTestEmail":
			var args []string // expect [email]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 1 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [email]"})
				return
			}
			redisKey := fmt.Sprintf("mockemail:%s", args[0])

			var emailJSON string
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ {
				data, err := rdb.Get(ctx, redisKey).Result()
				if err == nil {
					emailJSON = data
					found = true
					rdb.Del(ctx, redisKey)
					break
				}
				if err != redis.Nil {
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJSON), &emailData); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
