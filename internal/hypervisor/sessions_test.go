package hypervisor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionsAreKeyedByTenant(t *testing.T) {
	logins := 0
	mgr := newSessionManager(func(ctx context.Context) (string, error) {
		logins++
		return fmt.Sprintf("token-%d", logins), nil
	}, time.Minute)

	tenantA := uuid.New()
	tenantB := uuid.New()

	tokenA, err := mgr.Token(context.Background(), tenantA)
	if err != nil {
		t.Fatalf("token for tenant a: %v", err)
	}
	tokenB, err := mgr.Token(context.Background(), tenantB)
	if err != nil {
		t.Fatalf("token for tenant b: %v", err)
	}
	if tokenA == tokenB {
		t.Fatalf("tenants must not share a session, both got %q", tokenA)
	}
	if logins != 2 {
		t.Fatalf("expected one login per tenant, got %d", logins)
	}

	again, err := mgr.Token(context.Background(), tenantA)
	if err != nil {
		t.Fatalf("cached token for tenant a: %v", err)
	}
	if again != tokenA {
		t.Fatalf("live session must be reused, got %q", again)
	}
	if logins != 2 {
		t.Fatalf("cached lookup must not log in again, got %d logins", logins)
	}
}

func TestSessionInvalidateIsScopedToTenant(t *testing.T) {
	logins := 0
	mgr := newSessionManager(func(ctx context.Context) (string, error) {
		logins++
		return fmt.Sprintf("token-%d", logins), nil
	}, time.Minute)

	tenantA := uuid.New()
	tenantB := uuid.New()
	if _, err := mgr.Token(context.Background(), tenantA); err != nil {
		t.Fatalf("token for tenant a: %v", err)
	}
	tokenB, err := mgr.Token(context.Background(), tenantB)
	if err != nil {
		t.Fatalf("token for tenant b: %v", err)
	}

	mgr.Invalidate(tenantA)

	stillB, err := mgr.Token(context.Background(), tenantB)
	if err != nil {
		t.Fatalf("token for tenant b after invalidate: %v", err)
	}
	if stillB != tokenB {
		t.Fatalf("invalidating tenant a must not drop tenant b's session")
	}
	newA, err := mgr.Token(context.Background(), tenantA)
	if err != nil {
		t.Fatalf("token for tenant a after invalidate: %v", err)
	}
	if newA == "" || logins != 3 {
		t.Fatalf("tenant a should re-login after invalidation, got %d logins", logins)
	}
}

func TestRefreshAllReplacesEveryCachedSession(t *testing.T) {
	logins := 0
	mgr := newSessionManager(func(ctx context.Context) (string, error) {
		logins++
		return fmt.Sprintf("token-%d", logins), nil
	}, time.Minute)

	tenantA := uuid.New()
	tenantB := uuid.New()
	oldA, _ := mgr.Token(context.Background(), tenantA)
	oldB, _ := mgr.Token(context.Background(), tenantB)

	if err := mgr.RefreshAll(context.Background()); err != nil {
		t.Fatalf("refresh all: %v", err)
	}

	newA, _ := mgr.Token(context.Background(), tenantA)
	newB, _ := mgr.Token(context.Background(), tenantB)
	if newA == oldA || newB == oldB {
		t.Fatalf("refresh must replace cached tokens: %q/%q vs %q/%q", oldA, oldB, newA, newB)
	}
	if logins != 4 {
		t.Fatalf("expected 4 logins after refresh, got %d", logins)
	}
}
