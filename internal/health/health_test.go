package health

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: true, Detail: "ok"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("db", func(_ context.Context) Status {
		return Status{Name: "db", Healthy: true}
	})
	r.Register("cache", func(_ context.Context) Status {
		return Status{Name: "cache", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	// Register concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}(i)
	}

	// Check concurrently
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}

func TestRegistryOptionalCheckerDoesNotFailAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("database", Ping("database", func(context.Context) error { return nil }))
	r.RegisterOptional("events", Ping("events", func(context.Context) error {
		return errors.New("redis unreachable")
	}))

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("optional failure must not make the registry unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Critical || statuses[1].Critical {
		t.Fatalf("unexpected critical flags: %+v", statuses)
	}
	if statuses[1].Healthy || statuses[1].Detail != "redis unreachable" {
		t.Fatalf("unexpected optional status: %+v", statuses[1])
	}
}

func TestRegistryFillsMissingName(t *testing.T) {
	r := NewRegistry()
	r.Register("mfa_sweeper", func(context.Context) Status { return Status{Healthy: true} })

	_, statuses := r.CheckAll(context.Background())
	if statuses[0].Name != "mfa_sweeper" {
		t.Fatalf("expected name mfa_sweeper, got %q", statuses[0].Name)
	}
}

func TestRegistryCheckerHasDeadline(t *testing.T) {
	r := NewRegistry()
	r.Register("slow", func(ctx context.Context) Status {
		_, ok := ctx.Deadline()
		return Status{Healthy: ok}
	})

	healthy, _ := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("checker should receive a context with a deadline")
	}
}
