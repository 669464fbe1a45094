package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatterly-relay/internal/config"
	"github.com/vovakirdan/chatterly-relay/internal/store/sqlite"
)

func TestOpenStoreSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Store.DSN = filepath.Join(t.TempDir(), "relay.db")
	logger := zerolog.Nop()

	st, err := OpenStore(context.Background(), &cfg, &logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	if _, ok := st.(*sqlite.SQLiteStore); !ok {
		t.Fatalf("expected sqlite store without cache, got %T", st)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	cfg := config.StoreConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "relay.db")}

	for range 2 {
		if err := Migrate(context.Background(), cfg); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "mongo"
	logger := zerolog.Nop()

	if _, err := OpenStore(context.Background(), &cfg, &logger); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewBuildsServer(t *testing.T) {
	cfg := config.Default()
	cfg.JWTSecret = "secret"
	cfg.Store.DSN = filepath.Join(t.TempDir(), "relay.db")
	logger := zerolog.Nop()

	application, err := New(context.Background(), &cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer application.cleanup()

	if application.server.Addr != cfg.Addr {
		t.Fatalf("unexpected addr %q", application.server.Addr)
	}
}
