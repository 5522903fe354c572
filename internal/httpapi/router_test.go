package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/r3e-network/security-governance-core/infrastructure/testutil"
	"github.com/r3e-network/security-governance-core/internal/bootstrap"
	"github.com/r3e-network/security-governance-core/internal/config"
	"github.com/r3e-network/security-governance-core/internal/workspace"
)

func newTestContainer(t *testing.T) *bootstrap.Container {
	t.Helper()
	cfg := config.New()
	cfg.Ledger.SigningKey = "router-test-signing-key"
	cfg.Auth.JWTSecret = "router-test-jwt-secret"

	c, err := bootstrap.New(context.Background(), cfg, bootstrap.Stores{})
	if err != nil {
		t.Fatalf("construct container: %v", err)
	}
	return c
}

func TestRouterAppliesSecurityHeaders(t *testing.T) {
	c := newTestContainer(t)
	srv := testutil.NewHTTPTestServer(t, NewRouter(c, c.Config.Auth.JWTSecret))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/invites/does-not-exist")
	if err != nil {
		t.Fatalf("GET invite preview: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("expected X-Request-Id to be set")
	}
}

func TestRouterRejectsUnauthenticatedPrincipalRoutes(t *testing.T) {
	c := newTestContainer(t)
	srv := testutil.NewHTTPTestServer(t, NewRouter(c, c.Config.Auth.JWTSecret))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/2fa/setup/initiate", "application/json", nil)
	if err != nil {
		t.Fatalf("POST setup/initiate: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestRouterServesHealthWithoutAuth(t *testing.T) {
	c := newTestContainer(t)
	srv := testutil.NewHTTPTestServer(t, NewRouter(c, c.Config.Auth.JWTSecret))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRouterRequiresWorkspaceHeaderOnLedgerRoutes(t *testing.T) {
	c := newTestContainer(t)
	srv := testutil.NewHTTPTestServer(t, NewRouter(c, c.Config.Auth.JWTSecret))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ledger/entity-1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer principal-1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET ledger: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status without x-workspace-id = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func postExpense(t *testing.T, url, bearer string, amount float64) *http.Response {
	t.Helper()
	body := strings.NewReader(`{"amount": ` + jsonNumber(amount) + `, "description": "team lunch", "category": "meals"}`)
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST expense: %v", err)
	}
	return resp
}

func jsonNumber(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

func TestExpenseWriteRunsFullDecoration(t *testing.T) {
	c := newTestContainer(t)
	ctx := context.Background()
	if err := c.WorkspaceStore.PutWorkspace(ctx, workspace.Workspace{
		ID:               "ws-exp",
		Type:             workspace.TypeTeam,
		OwnerPrincipalID: "owner-9",
		Status:           workspace.StatusActive,
		CacheEpoch:       1,
	}); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}

	srv := testutil.NewHTTPTestServer(t, NewRouter(c, c.Config.Auth.JWTSecret))
	defer srv.Close()

	resp := postExpense(t, srv.URL+"/workspaces/ws-exp/expenses", "owner-9", 40)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var created struct {
		ID       string `json:"id"`
		Sequence int64  `json:"sequence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" {
		t.Error("expected a generated expense id")
	}

	// The accepted write landed on the ledger as sequence 0 of a fresh chain.
	entries, err := c.Ledger.Entries(ctx, created.ID)
	if err != nil {
		t.Fatalf("list ledger entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
}

func TestExpenseWriteFreezesWorkspaceOverVelocityPolicy(t *testing.T) {
	c := newTestContainer(t)
	ctx := context.Background()
	if err := c.WorkspaceStore.PutWorkspace(ctx, workspace.Workspace{
		ID:               "ws-hot",
		Type:             workspace.TypeTeam,
		OwnerPrincipalID: "owner-9",
		Status:           workspace.StatusActive,
		CacheEpoch:       1,
	}); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	if err := c.Velocity.SetDailyVelocity(ctx, "ws-hot", 12000); err != nil {
		t.Fatalf("seed velocity: %v", err)
	}

	srv := testutil.NewHTTPTestServer(t, NewRouter(c, c.Config.Auth.JWTSecret))
	defer srv.Close()

	// The built-in spend.daily.freeze policy fires on the next expense
	// write once daily velocity exceeds 10000.
	resp := postExpense(t, srv.URL+"/workspaces/ws-hot/expenses", "owner-9", 40)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	ws, ok, err := c.WorkspaceStore.GetWorkspace(ctx, "ws-hot")
	if err != nil || !ok {
		t.Fatalf("reload workspace: ok=%v err=%v", ok, err)
	}
	if ws.Status != workspace.StatusComplianceFrozen {
		t.Errorf("workspace status = %q, want %q", ws.Status, workspace.StatusComplianceFrozen)
	}

	// Subsequent writes are rejected by RBAC's frozen-workspace rule
	// until the freeze is lifted.
	again := postExpense(t, srv.URL+"/workspaces/ws-hot/expenses", "owner-9", 40)
	defer again.Body.Close()
	if again.StatusCode != http.StatusForbidden {
		t.Errorf("status after freeze = %d, want %d", again.StatusCode, http.StatusForbidden)
	}
}

func TestRouterRejectsUnsignedSystemRoutes(t *testing.T) {
	c := newTestContainer(t)
	srv := testutil.NewHTTPTestServer(t, NewRouter(c, c.Config.Auth.JWTSecret))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/admin/tenants")
	if err != nil {
		t.Fatalf("GET admin/tenants: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}
