package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestNewHealthChecker(t *testing.T) {
	t.Run("with nil dependencies", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil)
		if checker == nil {
			t.Fatal("Expected non-nil checker")
		}
		if checker.db != nil {
			t.Error("Expected nil db")
		}
		if checker.redis != nil {
			t.Error("Expected nil redis")
		}
	})
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)

	req := httptest.NewRequest("GET", "/health/live", nil)
	rr := httptest.NewRecorder()

	checker.Liveness(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("Liveness check returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["status"] != StatusHealthy {
		t.Errorf("Expected healthy status, got %v", response["status"])
	}
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("no dependencies is healthy", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil)
		status := checker.Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Status = %v, want healthy", status.Status)
		}
		if len(status.Dependencies) != 0 {
			t.Errorf("Expected no dependencies, got %d", len(status.Dependencies))
		}
	})

	t.Run("healthy database", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		checker := NewHealthChecker(db, nil)
		status := checker.Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Status = %v, want healthy", status.Status)
		}
		dep, ok := status.Dependencies["database"]
		if !ok {
			t.Fatal("Expected database dependency")
		}
		if dep.Status != StatusHealthy {
			t.Errorf("Database status = %v, want healthy", dep.Status)
		}
	})

	t.Run("failing database query", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()

		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(context.DeadlineExceeded)

		checker := NewHealthChecker(db, nil)
		status := checker.Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Status = %v, want unhealthy", status.Status)
		}
	})

	t.Run("healthy redis", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}
		defer mr.Close()

		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()

		checker := NewHealthChecker(nil, client)
		status := checker.Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Status = %v, want healthy", status.Status)
		}
		if status.Dependencies["redis"].Status != StatusHealthy {
			t.Errorf("Redis status = %v, want healthy", status.Dependencies["redis"].Status)
		}
	})

	t.Run("unreachable redis is unhealthy", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("Failed to start miniredis: %v", err)
		}

		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer client.Close()
		mr.Close()

		checker := NewHealthChecker(nil, client)
		status := checker.Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Status = %v, want unhealthy", status.Status)
		}
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewHealthChecker(nil, client)

	req := httptest.NewRequest("GET", "/health/ready", nil)
	rr := httptest.NewRecorder()
	checker.Readiness(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Readiness returned %v, want %v", rr.Code, http.StatusOK)
	}

	var status HealthStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if status.Status != StatusHealthy {
		t.Errorf("Status = %v, want healthy", status.Status)
	}
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(nil, nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s returned %v, want %v", path, rr.Code, http.StatusOK)
		}
	}
}
