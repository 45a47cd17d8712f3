package db

import (
	"testing"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
)

func TestConnect_SQLite(t *testing.T) {
	gormDB, err := Connect(config.DBConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}

	tenant := models.Tenant{TenantID: "guild-1", Name: "Test"}
	if err := gormDB.Create(&tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	var got models.Tenant
	if err := gormDB.Where("tenant_id = ?", "guild-1").First(&got).Error; err != nil {
		t.Fatalf("load tenant: %v", err)
	}
	if got.Name != "Test" {
		t.Errorf("expected name Test, got %s", got.Name)
	}
	if got.ConnectionState != models.StateUninitialized {
		t.Errorf("expected default state uninitialized, got %s", got.ConnectionState)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DBConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestDSN(t *testing.T) {
	dsn := DSN("127.0.0.1", 3306, "switchboard")
	want := "root@tcp(127.0.0.1:3306)/switchboard?parseTime=true"
	if dsn != want {
		t.Errorf("expected %s, got %s", want, dsn)
	}
}

func TestAutoMigrate_TicketForeignKey(t *testing.T) {
	gormDB, err := Connect(config.DBConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := AutoMigrate(gormDB); err != nil {
		t.Fatalf("AutoMigrate failed: %v", err)
	}

	tenant := models.Tenant{TenantID: "guild-1"}
	if err := gormDB.Create(&tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	ticket := models.Ticket{TenantID: "guild-1", ContactID: "alice@remote", ChannelID: "chan-1", Status: models.TicketOpen}
	if err := gormDB.Create(&ticket).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	var loaded models.Tenant
	if err := gormDB.Preload("Tickets").Where("tenant_id = ?", "guild-1").First(&loaded).Error; err != nil {
		t.Fatalf("load tenant with tickets: %v", err)
	}
	if len(loaded.Tickets) != 1 {
		t.Errorf("expected 1 associated ticket, got %d", len(loaded.Tickets))
	}
}
