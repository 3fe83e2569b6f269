package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/carelink/backend/internal/config"
	"github.com/carelink/backend/internal/database"
	"github.com/carelink/backend/internal/handlers"
	"github.com/carelink/backend/internal/middleware"
	"github.com/carelink/backend/internal/services"
	"github.com/carelink/backend/pkg/logger"
	"github.com/carelink/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	mailer, err := services.NewMailer(cfg.SES)
	if err != nil {
		log.Fatalf("mailer initialization failed: %v", err)
	}

	accessService := services.NewAccessService(db)
	inviteService := services.NewInviteService(db, accessService, mailer, cfg.Invite)
	parentService := services.NewParentService(db, accessService)

	authHandler := handlers.NewAuthHandler(db)
	usersHandler := handlers.NewUsersHandler(db)
	childrenHandler := handlers.NewChildrenHandler(db, accessService, inviteService)
	invitesHandler := handlers.NewInvitesHandler(db, inviteService)
	parentsHandler := handlers.NewParentsHandler(db, parentService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 10 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)

	api.Get("/users/search", authMiddleware.RequireAuth, usersHandler.Search)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth, middleware.AdminOnly)
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Get("/:id", usersHandler.Get)

	childRoutes := api.Group("/children", authMiddleware.RequireAuth)
	childRoutes.Post("/", childrenHandler.Create)
	childRoutes.Get("/", childrenHandler.List)
	childRoutes.Get("/:id", childrenHandler.Get)
	childRoutes.Put("/:id", childrenHandler.Update)
	childRoutes.Delete("/:id", childrenHandler.Delete)
	childRoutes.Post("/:id/share-code", childrenHandler.RotateShareCode)
	childRoutes.Get("/:id/access", childrenHandler.CheckAccess)
	childRoutes.Post("/:id/invites", invitesHandler.Issue)
	childRoutes.Get("/:id/invites", invitesHandler.ListForChild)
	childRoutes.Get("/:id/parents", parentsHandler.ListForChild)

	inviteRoutes := api.Group("/invites", authMiddleware.RequireAuth)
	inviteRoutes.Post("/accept", invitesHandler.Accept)
	inviteRoutes.Post("/:id/accept", invitesHandler.AcceptByID)
	inviteRoutes.Post("/:id/decline", invitesHandler.Decline)
	inviteRoutes.Post("/:id/cancel", invitesHandler.Cancel)

	parentRoutes := api.Group("/parents", authMiddleware.RequireAuth)
	parentRoutes.Put("/:id", parentsHandler.Update)
	parentRoutes.Delete("/:id", parentsHandler.Revoke)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
