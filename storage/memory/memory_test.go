package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/giantswarm/mcp-authflow/instrumentation"
	"github.com/giantswarm/mcp-authflow/internal/testutil"
	"github.com/giantswarm/mcp-authflow/storage"
)

// ============================================================
// ClientStore Tests
// ============================================================

func TestStore_SaveAndGetClient(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	client := testutil.GenerateTestClient()
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.GetClient(ctx, client.ClientID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if got.ClientID != client.ClientID || got.RedirectURIs[0] != client.RedirectURIs[0] {
		t.Errorf("GetClient() = %+v, want %+v", got, client)
	}

	got.RedirectURIs[0] = "https://evil.example.com"
	again, _ := store.GetClient(ctx, client.ClientID)
	if again.RedirectURIs[0] != client.RedirectURIs[0] {
		t.Error("mutating a returned client changed the stored client")
	}
}

func TestStore_GetClient_NotFound(t *testing.T) {
	store := New()
	defer store.Stop()

	_, err := store.GetClient(context.Background(), "nope")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("GetClient() error = %v, want ErrClientNotFound", err)
	}
}

func TestStore_SaveClient_Invalid(t *testing.T) {
	store := New()
	defer store.Stop()

	if err := store.SaveClient(context.Background(), &storage.Client{}); err == nil {
		t.Error("SaveClient() with empty ID should fail")
	}
	if err := store.SaveClient(context.Background(), nil); err == nil {
		t.Error("SaveClient(nil) should fail")
	}
}

func TestStore_ListClients(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"b", "a", "c"} {
		c := testutil.GenerateTestClient()
		c.ClientID = id
		c.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.SaveClient(ctx, c); err != nil {
			t.Fatalf("SaveClient() error = %v", err)
		}
	}

	clients, err := store.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if len(clients) != 3 || clients[0].ClientID != "b" || clients[2].ClientID != "c" {
		t.Errorf("ListClients() order wrong: %v", []string{clients[0].ClientID, clients[1].ClientID, clients[2].ClientID})
	}
}

// ============================================================
// PendingAuthorizationStore Tests
// ============================================================

func TestStore_PendingAuthorization(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	p := testutil.GenerateTestPendingAuthorization()
	if err := store.SavePendingAuthorization(ctx, p); err != nil {
		t.Fatalf("SavePendingAuthorization() error = %v", err)
	}

	got, err := store.GetPendingAuthorization(ctx, p.State)
	if err != nil {
		t.Fatalf("GetPendingAuthorization() error = %v", err)
	}
	if got.CodeChallenge != p.CodeChallenge {
		t.Errorf("CodeChallenge = %q, want %q", got.CodeChallenge, p.CodeChallenge)
	}

	// Get does not consume.
	if _, err := store.GetPendingAuthorization(ctx, p.State); err != nil {
		t.Fatalf("second GetPendingAuthorization() error = %v", err)
	}

	consumed, err := store.ConsumePendingAuthorization(ctx, p.State)
	if err != nil {
		t.Fatalf("ConsumePendingAuthorization() error = %v", err)
	}
	if consumed.ClientID != p.ClientID {
		t.Errorf("ClientID = %q, want %q", consumed.ClientID, p.ClientID)
	}

	if _, err := store.ConsumePendingAuthorization(ctx, p.State); !errors.Is(err, storage.ErrPendingAuthorizationNotFound) {
		t.Errorf("second consume error = %v, want ErrPendingAuthorizationNotFound", err)
	}
	if _, err := store.GetPendingAuthorization(ctx, p.State); !errors.Is(err, storage.ErrPendingAuthorizationNotFound) {
		t.Errorf("get after consume error = %v, want ErrPendingAuthorizationNotFound", err)
	}
}

func TestStore_SavePendingAuthorization_Duplicate(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	clock := testutil.NewMockTime(time.Now())
	store.SetClock(clock.Now)

	p := testutil.GenerateTestPendingAuthorization()
	p.ExpiresAt = clock.Now().Add(time.Minute)
	if err := store.SavePendingAuthorization(ctx, p); err != nil {
		t.Fatalf("SavePendingAuthorization() error = %v", err)
	}

	other := testutil.GenerateTestPendingAuthorization()
	other.State = p.State
	other.ClientID = "other-client"
	other.ExpiresAt = clock.Now().Add(time.Minute)
	if err := store.SavePendingAuthorization(ctx, other); !errors.Is(err, storage.ErrPendingAuthorizationExists) {
		t.Fatalf("duplicate save error = %v, want ErrPendingAuthorizationExists", err)
	}
	got, err := store.GetPendingAuthorization(ctx, p.State)
	if err != nil {
		t.Fatalf("GetPendingAuthorization() error = %v", err)
	}
	if got.ClientID != p.ClientID {
		t.Errorf("ClientID = %q, want the first entry's %q", got.ClientID, p.ClientID)
	}

	// An expired entry awaiting cleanup does not block the state.
	clock.Advance(time.Minute)
	other.ExpiresAt = clock.Now().Add(time.Minute)
	if err := store.SavePendingAuthorization(ctx, other); err != nil {
		t.Fatalf("save over expired entry error = %v", err)
	}
}

func TestStore_ConsumePendingAuthorization_Concurrent(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	p := testutil.GenerateTestPendingAuthorization()
	if err := store.SavePendingAuthorization(ctx, p); err != nil {
		t.Fatalf("SavePendingAuthorization() error = %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumePendingAuthorization(ctx, p.State); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("consume succeeded %d times, want exactly 1", wins.Load())
	}
}

// ============================================================
// AuthorizationCodeStore Tests
// ============================================================

func TestStore_AuthorizationCode(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	if err := store.SaveAuthorizationCode(ctx, code); !errors.Is(err, storage.ErrAuthorizationCodeExists) {
		t.Errorf("duplicate save error = %v, want ErrAuthorizationCodeExists", err)
	}

	got, err := store.GetAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if got.ClientID != code.ClientID {
		t.Errorf("ClientID = %q, want %q", got.ClientID, code.ClientID)
	}

	claimed, err := store.ClaimAuthorizationCode(ctx, code.Code)
	if err != nil {
		t.Fatalf("ClaimAuthorizationCode() error = %v", err)
	}
	if claimed.CodeChallenge != code.CodeChallenge {
		t.Errorf("CodeChallenge = %q, want %q", claimed.CodeChallenge, code.CodeChallenge)
	}

	if _, err := store.ClaimAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Errorf("second claim error = %v, want ErrAuthorizationCodeNotFound", err)
	}
}

func TestStore_ClaimAuthorizationCode_Concurrent(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	code := testutil.GenerateTestAuthorizationCode()
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.ClaimAuthorizationCode(ctx, code.Code); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("claim succeeded %d times, want exactly 1", wins.Load())
	}
}

// ============================================================
// AccessTokenStore Tests
// ============================================================

func TestStore_AccessToken(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	tok := testutil.GenerateTestAccessToken()
	if err := store.SaveAccessToken(ctx, tok); err != nil {
		t.Fatalf("SaveAccessToken() error = %v", err)
	}

	got, err := store.GetAccessToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if got.ClientID != tok.ClientID || !got.ExpiresAt.Equal(tok.ExpiresAt) {
		t.Errorf("GetAccessToken() = %+v, want %+v", got, tok)
	}

	if err := store.DeleteAccessToken(ctx, tok.Token); err != nil {
		t.Fatalf("DeleteAccessToken() error = %v", err)
	}
	if err := store.DeleteAccessToken(ctx, tok.Token); err != nil {
		t.Fatalf("second DeleteAccessToken() error = %v", err)
	}
	if _, err := store.GetAccessToken(ctx, tok.Token); !errors.Is(err, storage.ErrAccessTokenNotFound) {
		t.Errorf("GetAccessToken() after delete error = %v, want ErrAccessTokenNotFound", err)
	}
}

// ============================================================
// Cleanup Tests
// ============================================================

func TestStore_Cleanup(t *testing.T) {
	store := New()
	defer store.Stop()
	ctx := context.Background()

	clock := testutil.NewMockTime(time.Now())
	store.SetClock(clock.Now)

	p := testutil.GenerateTestPendingAuthorization()
	p.ExpiresAt = clock.Now().Add(time.Minute)
	code := testutil.GenerateTestAuthorizationCode()
	code.ExpiresAt = clock.Now().Add(time.Minute)
	tok := testutil.GenerateTestAccessToken()
	tok.ExpiresAt = clock.Now().Add(time.Second)

	_ = store.SavePendingAuthorization(ctx, p)
	_ = store.SaveAuthorizationCode(ctx, code)
	_ = store.SaveAccessToken(ctx, tok)

	if n := store.cleanup(); n != 0 {
		t.Fatalf("cleanup() removed %d live entries", n)
	}

	clock.Advance(time.Minute)
	if n := store.cleanup(); n != 2 {
		t.Fatalf("cleanup() = %d, want 2", n)
	}

	if _, err := store.GetPendingAuthorization(ctx, p.State); !errors.Is(err, storage.ErrPendingAuthorizationNotFound) {
		t.Error("expired pending authorization survived cleanup")
	}
	if _, err := store.GetAuthorizationCode(ctx, code.Code); !errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
		t.Error("expired code survived cleanup")
	}
	if _, err := store.GetAccessToken(ctx, tok.Token); err != nil {
		t.Error("cleanup must not touch access tokens")
	}
}

func TestStore_StopIsIdempotent(t *testing.T) {
	store := NewWithInterval(10 * time.Millisecond)
	store.Stop()
	store.Stop()
}

func TestStore_WithInstrumentation(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	store := New()
	defer store.Stop()
	store.SetInstrumentation(inst)

	ctx := context.Background()
	_ = store.SaveClient(ctx, testutil.GenerateTestClient())
	_ = store.SaveAccessToken(ctx, testutil.GenerateTestAccessToken())

	if store.clientsCount.Load() != 1 || store.tokensCount.Load() != 1 {
		t.Errorf("counters = clients %d tokens %d, want 1 and 1", store.clientsCount.Load(), store.tokensCount.Load())
	}
}
