package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// INTEGRATION TEST SUITE
//
// These tests validate the gateway end-to-end:
//
//   Client → HTTP API → Key + staff auth → Store → Response
//
// The gateway must already be running (for example via docker compose);
// the suite is skipped when it is not reachable.
//
// Optional environment overrides:
//
//   BASE_URL     default http://localhost:8080
//   API_KEY      default dev-key-123 (create + read)
//   STAFF_USER   default agent
//   STAFF_PASSWD default agent (DEV_STAFF=agent:agent)
//
////////////////////////////////////////////////////////////////////////////////

func env(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func baseURL() string { return env("BASE_URL", "http://localhost:8080") }
func apiKey() string  { return env("API_KEY", "dev-key-123") }

// unique generates a unique string so tests never collide with previous runs.
func unique(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

////////////////////////////////////////////////////////////////////////////////
// SERVICE READINESS HELPER
//
// waitReady polls /ready until storage + server are ready.
// Prevents flaky failures when containers are still booting.
////////////////////////////////////////////////////////////////////////////////

func waitReady(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/ready")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(300 * time.Millisecond)
	}

	t.Skipf("gateway not reachable at %s", baseURL())
}

////////////////////////////////////////////////////////////////////////////////
// GENERIC HTTP HELPERS
////////////////////////////////////////////////////////////////////////////////

// post performs a POST with a raw body and optional API key.
func post(t *testing.T, key, path string, body []byte) (int, []byte) {
	t.Helper()

	req, _ := http.NewRequest("POST", baseURL()+path, bytes.NewReader(body))
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func postJSON(t *testing.T, key, path string, payload map[string]any) (int, []byte) {
	t.Helper()
	b, _ := json.Marshal(payload)
	return post(t, key, path, b)
}

// staffJSON posts a staff operation with the configured credentials.
func staffJSON(t *testing.T, op string, payload map[string]any) (int, []byte) {
	t.Helper()
	payload["user"] = env("STAFF_USER", "agent")
	payload["passwd"] = env("STAFF_PASSWD", "agent")
	return postJSON(t, apiKey(), "/api/tickets/"+op+".json", payload)
}

// createTicket opens a ticket for email and returns its number.
func createTicket(t *testing.T, email string) string {
	t.Helper()

	s, b := postJSON(t, apiKey(), "/api/tickets.json", map[string]any{
		"email":   email,
		"name":    "Integration",
		"subject": unique("subject"),
		"message": "created by the integration suite",
	})
	if s != http.StatusCreated {
		t.Fatalf("create expected 201 got %d: %s", s, b)
	}

	var r struct {
		Number string `json:"number"`
	}
	if err := json.Unmarshal(b, &r); err != nil || r.Number == "" {
		t.Fatalf("invalid create JSON %s: %v", b, err)
	}
	return r.Number
}

func rawEmail(from, mid, inReplyTo string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\nTo: support@example.com\r\nSubject: integration\r\n", from)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", mid)
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", inReplyTo)
	}
	b.WriteString("Content-Type: text/plain\r\n\r\nsent by the integration suite\r\n")
	return []byte(b.String())
}

////////////////////////////////////////////////////////////////////////////////
// HEALTH & READINESS TESTS
////////////////////////////////////////////////////////////////////////////////

// Ready endpoint = dependency readiness (storage reachable).
func TestReady_ReturnsOK(t *testing.T) {
	waitReady(t)

	resp, err := http.Get(baseURL() + "/health")
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health expected 200 got %d", resp.StatusCode)
	}
}

////////////////////////////////////////////////////////////////////////////////
// CREATE CONTRACT TESTS
////////////////////////////////////////////////////////////////////////////////

// Request without API key must be rejected.
func TestCreate_UnauthorizedWithoutAPIKey(t *testing.T) {
	waitReady(t)

	s, _ := postJSON(t, "", "/api/tickets.json", map[string]any{"email": "a@example.com", "message": "x"})
	if s != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", s)
	}
}

// Unknown fields are rejected on the JSON API.
func TestCreate_BadRequestOnUnexpectedField(t *testing.T) {
	waitReady(t)

	s, _ := postJSON(t, apiKey(), "/api/tickets.json", map[string]any{
		"email": "a@example.com", "message": "x", unique("bogus"): true,
	})
	if s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", s)
	}
}

////////////////////////////////////////////////////////////////////////////////
// CORE SYSTEM BEHAVIOR TESTS
////////////////////////////////////////////////////////////////////////////////

// A reply email lands on the ticket it answers.
func TestEmail_ReplyKeepsTicketNumber(t *testing.T) {
	waitReady(t)

	from := unique("sender") + "@example.com"
	mid := "<" + unique("m") + "@example.com>"

	s1, first := post(t, apiKey(), "/api/tickets.email", rawEmail(from, mid, ""))
	s2, second := post(t, apiKey(), "/api/tickets.email", rawEmail(from, "<"+unique("r")+"@example.com>", mid))

	if s1 != http.StatusCreated || s2 != http.StatusCreated {
		t.Fatalf("expected 201/201 got %d/%d", s1, s2)
	}
	if string(first) != string(second) {
		t.Fatalf("reply opened %s instead of joining %s", second, first)
	}
}

// Status changes need a comment, and answer 500 without one.
func TestStatus_CommentRequired(t *testing.T) {
	waitReady(t)

	email := unique("owner") + "@example.com"
	number := createTicket(t, email)

	s, b := staffJSON(t, "status", map[string]any{"number": number, "email": email, "status_id": 3})
	if s != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d: %s", s, b)
	}

	s, b = staffJSON(t, "status", map[string]any{"number": number, "email": email, "status_id": 3, "comments": "done"})
	if s != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", s, b)
	}
}

// A ticket number is only trusted together with its owner's email.
func TestGet_OwnerEmailRequired(t *testing.T) {
	waitReady(t)

	email := unique("owner") + "@example.com"
	number := createTicket(t, email)

	if s, b := staffJSON(t, "get", map[string]any{"number": number, "email": "someone-else@example.com"}); s != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", s, b)
	}
	if s, b := staffJSON(t, "get", map[string]any{"number": number, "email": email}); s != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", s, b)
	}
}
