package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func envelopeFor(t *testing.T, handler fiber.Handler) (int, map[string]any) {
	t.Helper()

	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed decoding response body: %v", err)
	}
	return resp.StatusCode, body
}

func TestSuccessEnvelope(t *testing.T) {
	status, body := envelopeFor(t, func(c *fiber.Ctx) error {
		return Success(c, fiber.StatusCreated, fiber.Map{"firstName": "Mia"})
	})

	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d, got %d", fiber.StatusCreated, status)
	}
	if body["success"] != true {
		t.Fatalf("expected success=true, got %v", body["success"])
	}
	data, ok := body["data"].(map[string]any)
	if !ok || data["firstName"] != "Mia" {
		t.Fatalf("expected the payload under data, got %+v", body["data"])
	}
	if _, present := body["error"]; present {
		t.Fatal("success envelope must not carry an error field")
	}
}

func TestSuccessEnvelopeKeepsEmptyData(t *testing.T) {
	// An empty care circle still serializes a data key, so clients never
	// distinguish "no rows" from a malformed response.
	_, body := envelopeFor(t, func(c *fiber.Ctx) error {
		var entries []string
		return Success(c, fiber.StatusOK, entries)
	})

	if _, present := body["data"]; !present {
		t.Fatalf("expected a data key even for empty payloads, got %+v", body)
	}
}

func TestErrorEnvelope(t *testing.T) {
	status, body := envelopeFor(t, func(c *fiber.Ctx) error {
		return Error(c, fiber.StatusNotFound, "child not found")
	})

	if status != fiber.StatusNotFound {
		t.Fatalf("expected status %d, got %d", fiber.StatusNotFound, status)
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	if body["error"] != "child not found" {
		t.Fatalf("expected the error message, got %v", body["error"])
	}
	if _, present := body["data"]; present {
		t.Fatal("error envelope must not carry a data field")
	}
}

func TestPaginatedEnvelope(t *testing.T) {
	status, body := envelopeFor(t, func(c *fiber.Ctx) error {
		return Paginated(c, []string{"a", "b"}, 2, 20, 45)
	})

	if status != fiber.StatusOK {
		t.Fatalf("expected status %d, got %d", fiber.StatusOK, status)
	}
	data, ok := body["data"].([]any)
	if !ok || len(data) != 2 {
		t.Fatalf("expected 2 data entries, got %+v", body["data"])
	}

	pagination, ok := body["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("expected pagination metadata, got %+v", body)
	}
	for key, want := range map[string]float64{"page": 2, "limit": 20, "total": 45, "totalPages": 3} {
		if got, _ := pagination[key].(float64); got != want {
			t.Fatalf("expected pagination %s=%v, got %v", key, want, pagination[key])
		}
	}
}
