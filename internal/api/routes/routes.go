// server/internal/api/routes/routes.go
package routes

import (
	"log/slog"
	"time"

	"lab-booking-api-server/config"
	"lab-booking-api-server/internal/api/handlers"
	"lab-booking-api-server/internal/api/middleware"
	"lab-booking-api-server/internal/approval"
	"lab-booking-api-server/internal/auth"
	"lab-booking-api-server/internal/inventory"
	"lab-booking-api-server/internal/models"
	"lab-booking-api-server/internal/requests"
	"lab-booking-api-server/internal/socket"
	"lab-booking-api-server/internal/users"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Services gathers what the handlers are built from. Uploader may be nil
// when S3 is not configured.
type Services struct {
	Ledger   *inventory.Ledger
	Desk     *requests.Desk
	Engine   *approval.Engine
	Users    *users.Service
	Tokens   *auth.Tokens
	Hub      *socket.Hub
	Uploader handlers.ImageUploader
	Log      *slog.Logger
}

func corsConfig(cfg config.ServerConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowsAll(cfg.AllowedOrigins) {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
	}
	return c
}

func allowsAll(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// SetupRouter nhận vào các thành phần phụ thuộc và thiết lập các route
func SetupRouter(cfg config.Config, svc Services) *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(corsConfig(cfg.Server)))

	// Khởi tạo các handlers
	componentHandler := &handlers.ComponentHandler{Ledger: svc.Ledger, Uploader: svc.Uploader, Log: svc.Log}
	requestHandler := &handlers.RequestHandler{Desk: svc.Desk, Log: svc.Log}
	approvalHandler := &handlers.ApprovalHandler{Engine: svc.Engine, Desk: svc.Desk}
	userHandler := &handlers.UserHandler{Users: svc.Users, Log: svc.Log}
	webSocketHandler := &handlers.WebSocketHandler{Hub: svc.Hub, Tokens: svc.Tokens, Log: svc.Log}

	authenticate := middleware.Authenticate(svc.Tokens)
	admin := string(models.RoleAdmin)

	router.GET("/health", handlers.Health)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.GET("/health", handlers.Health)
		apiV1.GET("/ws", webSocketHandler.ServeWs)

		// === CÁC ROUTE KHÔNG YÊU CẦU XÁC THỰC ===
		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/register", userHandler.Register)
			authRoutes.POST("/login", userHandler.Login)
		}

		// === CÁC ROUTE YÊU CẦU XÁC THỰC (PROTECTED) ===
		protected := apiV1.Group("/")
		protected.Use(authenticate)
		{
			protected.GET("/components", componentHandler.ListComponents)
			protected.GET("/components/:id", componentHandler.GetComponent)

			submit := protected.Group("/")
			submit.Use(middleware.Authorize(string(models.RoleStudent), string(models.RoleLecturer), admin))
			{
				submit.POST("/bookings", requestHandler.CreateBooking)
				submit.POST("/orders", requestHandler.CreateOrder)
			}

			protected.GET("/requests/my", requestHandler.MyRequests)
			protected.GET("/requests/my/stats", requestHandler.MyStats)
			protected.GET("/requests/:id", requestHandler.GetRequest)
		}

		// Giảng viên duyệt lịch đặt phòng lab
		lecturerRoutes := apiV1.Group("/lecturer")
		lecturerRoutes.Use(authenticate, middleware.Authorize(string(models.RoleLecturer), admin))
		{
			lecturerRoutes.GET("/bookings", requestHandler.ListBookings)
			lecturerRoutes.PUT("/requests/:id/status", approvalHandler.UpdateStatus)
		}

		// Nhóm API quản trị, yêu cầu vai trò "admin"
		adminRoutes := apiV1.Group("/admin")
		adminRoutes.Use(authenticate, middleware.Authorize(admin))
		{
			adminRoutes.GET("/requests", requestHandler.ListRequests)
			adminRoutes.PUT("/requests/:id/status", approvalHandler.UpdateStatus)

			components := adminRoutes.Group("/components")
			{
				components.POST("", componentHandler.CreateComponent)
				components.PATCH("/:id", componentHandler.UpdateComponent)
				components.POST("/:id/restock", componentHandler.RestockComponent)
				components.POST("/:id/image", componentHandler.UploadImage)
			}

			usersGroup := adminRoutes.Group("/users")
			{
				usersGroup.GET("", userHandler.ListUsers)
				usersGroup.POST("/:id/approve", userHandler.ApproveUser)
				usersGroup.PATCH("/:id", userHandler.UpdateUser)
			}
		}
	}

	return router
}
