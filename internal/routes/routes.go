package routes

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"telecare-server/internal/config"
	"telecare-server/internal/handlers"
	"telecare-server/internal/middleware"
	"telecare-server/internal/models"
	"telecare-server/internal/repository"
	"telecare-server/internal/scheduling"
	"telecare-server/internal/services"
	"telecare-server/internal/utils"
)

// Options is everything the router needs to build services and handlers.
type Options struct {
	Config  *config.Config
	Repos   repository.Repositories
	Deps    services.Deps
	DB      handlers.Pinger // nil for the in-memory store
	Limiter *middleware.RateLimiter
	Started time.Time
}

// TemplateFrom turns the schedule section of the config into a slot template.
func TemplateFrom(s config.ScheduleConfig) (scheduling.Template, error) {
	loc, err := s.Location()
	if err != nil {
		return scheduling.Template{}, fmt.Errorf("loading schedule timezone: %w", err)
	}
	return scheduling.Template{
		StartHour:  s.DayStartHour,
		EndHour:    s.DayEndHour,
		SlotLength: time.Duration(s.SlotMinutes) * time.Minute,
		Location:   loc,
	}, nil
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, opts Options) error {
	cfg := opts.Config
	template, err := TemplateFrom(cfg.Schedule)
	if err != nil {
		return err
	}
	log := opts.Deps.Log
	if log == nil {
		log = zap.NewNop()
		opts.Deps.Log = log
	}

	providers := services.NewProviderResolver(opts.Repos.Users, cfg.Schedule.DefaultProviderID, log)
	authService := services.NewAuthService(opts.Repos, utils.TokenConfigFrom(cfg), opts.Deps)
	slotService := services.NewSlotService(opts.Repos.Appointments, template, opts.Deps)
	appointmentService := services.NewAppointmentService(opts.Repos, opts.Deps)
	consultationService := services.NewConsultationService(opts.Repos, opts.Deps)
	userService := services.NewUserService(opts.Repos, opts.Deps)
	messageService := services.NewMessageService(opts.Repos, opts.Deps)
	documentService := services.NewDocumentService(opts.Repos, cfg.MaxDocumentBytes, opts.Deps)

	authHandler := handlers.NewAuthHandler(authService, log, cfg.Environment != "development", cfg.JWTRefreshExpirationHours*60*60)
	userHandler := handlers.NewUserHandler(userService, log)
	appointmentHandler := handlers.NewAppointmentHandler(appointmentService, slotService, providers, log)
	consultationHandler := handlers.NewConsultationHandler(consultationService, log)
	messageHandler := handlers.NewMessageHandler(messageService, log)
	documentHandler := handlers.NewDocumentHandler(documentService, cfg.MaxDocumentBytes, log)
	healthHandler := handlers.NewHealthHandler(opts.DB, opts.Started)

	router.GET("/health", healthHandler.Health)
	if opts.Deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Deps.Metrics.Handler()))
	}

	api := router.Group("/api/v1")
	if opts.Limiter != nil {
		api.Use(opts.Limiter.Middleware())
	}

	// Public routes (no authentication required)
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
		authRoutes.POST("/refresh-token", authHandler.RefreshToken)
	}

	private := api.Group("")
	private.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	{
		authRoutesPrivate := private.Group("/auth")
		{
			authRoutesPrivate.POST("/logout", authHandler.Logout)
			authRoutesPrivate.GET("/profile", authHandler.GetProfile)
			authRoutesPrivate.PUT("/profile", authHandler.UpdateProfile)
		}

		userRoutes := private.Group("/users")
		{
			userRoutes.GET("/providers", userHandler.GetProviders)

			adminRoutes := userRoutes.Group("")
			adminRoutes.Use(middleware.RoleAuthMiddleware(models.RoleAdmin))
			{
				adminRoutes.POST("", userHandler.CreateUser)
				adminRoutes.GET("", userHandler.GetUsers)
				adminRoutes.GET("/:id", userHandler.GetUserByID)
				adminRoutes.PUT("/:id", userHandler.UpdateUser)
				adminRoutes.DELETE("/:id", userHandler.DeleteUser)
			}
		}

		// Ownership is checked in the services; any role may reach these.
		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.GET("/available-slots", appointmentHandler.GetAvailableSlots)
			appointmentRoutes.POST("", appointmentHandler.CreateAppointment)
			appointmentRoutes.GET("", appointmentHandler.ListAppointments)
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)
			appointmentRoutes.PATCH("/:id", appointmentHandler.UpdateAppointment)
			appointmentRoutes.POST("/:id/cancel", appointmentHandler.CancelAppointment)
			appointmentRoutes.POST("/:id/documents", documentHandler.UploadDocument)
			appointmentRoutes.GET("/:id/documents", documentHandler.ListDocuments)
		}
		private.GET("/documents/:documentId", documentHandler.DownloadDocument)

		consultationRoutes := private.Group("/consultations")
		{
			consultationRoutes.POST("", consultationHandler.CreateConsultation)
			consultationRoutes.GET("/appointment/:appointmentId", consultationHandler.GetByAppointment)
			consultationRoutes.GET("/:id", consultationHandler.GetConsultation)
			consultationRoutes.POST("/:id/start", consultationHandler.StartConsultation)
			consultationRoutes.POST("/:id/join", consultationHandler.JoinConsultation)
			consultationRoutes.POST("/:id/leave", consultationHandler.LeaveConsultation)
			consultationRoutes.POST("/:id/end", consultationHandler.EndConsultation)
			consultationRoutes.POST("/:id/notes", consultationHandler.AddNotes)
			consultationRoutes.POST("/:id/feedback", consultationHandler.SubmitFeedback)
			consultationRoutes.POST("/:id/cancel", consultationHandler.CancelConsultation)
		}

		messageRoutes := private.Group("/messages")
		{
			messageRoutes.POST("/send", messageHandler.SendMessage)
			messageRoutes.GET("", messageHandler.GetMessagesForUser)
			messageRoutes.GET("/new", messageHandler.GetNewMessages)
			messageRoutes.GET("/conversations", messageHandler.GetConversations)
			messageRoutes.PATCH("/:messageId/read", messageHandler.MarkMessageAsRead)
		}
	}

	return nil
}
