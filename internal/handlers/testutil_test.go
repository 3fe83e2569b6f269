package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/carelink/backend/internal/config"
	"github.com/carelink/backend/internal/database"
	"github.com/carelink/backend/internal/middleware"
	"github.com/carelink/backend/internal/models"
	"github.com/carelink/backend/internal/services"
	"github.com/carelink/backend/pkg/logger"
	"github.com/carelink/backend/pkg/utils"
)

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed migrating models: %v", err)
	}

	accessService := services.NewAccessService(db)
	inviteService := services.NewInviteService(db, accessService, nil, config.InviteConfig{
		ExpiryDays:   7,
		CodeAttempts: 5,
	})
	parentService := services.NewParentService(db, accessService)

	authHandler := NewAuthHandler(db)
	usersHandler := NewUsersHandler(db)
	childrenHandler := NewChildrenHandler(db, accessService, inviteService)
	invitesHandler := NewInvitesHandler(db, inviteService)
	parentsHandler := NewParentsHandler(db, parentService)

	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 10 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS("http://localhost:3000"))
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

	return &testEnv{app: app, db: db}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Role:         role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func createChildFor(t *testing.T, db *gorm.DB, owner *models.User, firstName string) *models.Child {
	t.Helper()

	child := &models.Child{
		OwnerID:   owner.ID,
		FirstName: firstName,
		LastName:  "Test",
	}
	if err := db.Create(child).Error; err != nil {
		t.Fatalf("failed creating test child: %v", err)
	}
	return child
}

func futureTime() time.Time {
	return time.Now().Add(7 * 24 * time.Hour)
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected object data field, got %+v", body)
	}
	return data
}

func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()
	if body["data"] == nil {
		return nil
	}
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected array data field, got %+v", body)
	}
	return data
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}
