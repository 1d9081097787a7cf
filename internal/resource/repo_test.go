package resource

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dcmlabs/dvmm-backend/pkg/db/models"
	"github.com/dcmlabs/dvmm-backend/pkg/enums"
)

func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:resource_repo_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.ProvisioningProgress{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestDeleteStaleProgress(t *testing.T) {
	db := newRepoDB(t)
	repo := NewRepository(db)

	now := time.Now().UTC()
	rows := []models.ProvisioningProgress{
		{ResourceID: uuid.New(), RequestID: uuid.New(), TenantID: uuid.New(), Stage: enums.ProgressStageCloning, UpdatedAt: now.Add(-48 * time.Hour)},
		{ResourceID: uuid.New(), RequestID: uuid.New(), TenantID: uuid.New(), Stage: enums.ProgressStagePoweringOn, UpdatedAt: now.Add(-time.Minute)},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	deleted, err := repo.DeleteStaleProgress(context.Background(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete stale: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}

	var remaining int64
	db.Model(&models.ProvisioningProgress{}).Count(&remaining)
	if remaining != 1 {
		t.Fatalf("expected 1 remaining row, got %d", remaining)
	}
}
