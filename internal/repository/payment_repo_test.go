package repository_test

import (
	"testing"

	"pesagate/config"
	"pesagate/internal/database"
	"pesagate/internal/models"
	"pesagate/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDB(&config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxIdleConns: 1, MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func TestPaymentRepository_CreateAndUpdateStatus(t *testing.T) {
	repo := repository.NewPaymentRepository(setupTestDB(t))

	o := &models.PaymentOrder{
		MerchantReference: "AL-1700000000123007",
		TrackingID:        "abc123",
		Amount:            50000,
		Currency:          "UGX",
		Status:            "PENDING",
	}
	require.NoError(t, repo.Create(o))
	require.NotZero(t, o.ID)

	require.NoError(t, repo.UpdateStatus("abc123", "COMPLETED", `{"status":"COMPLETED"}`))
	got, err := repo.GetByTrackingID("abc123")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", got.Status)
	assert.Equal(t, `{"status":"COMPLETED"}`, got.LastStatusPayload)
	assert.NotNil(t, got.CompletedAt)

	byRef, err := repo.GetByMerchantReference("AL-1700000000123007")
	require.NoError(t, err)
	assert.Equal(t, o.ID, byRef.ID)
}

func TestPaymentRepository_TerminalStatusIsFinal(t *testing.T) {
	repo := repository.NewPaymentRepository(setupTestDB(t))
	require.NoError(t, repo.Create(&models.PaymentOrder{MerchantReference: "AL-1", TrackingID: "abc123", Amount: 1, Currency: "UGX", Status: "PENDING"}))

	require.NoError(t, repo.UpdateStatus("abc123", "PENDING", `{"status":"PENDING"}`))
	require.NoError(t, repo.UpdateStatus("abc123", "FAILED", `{"status":"FAILED"}`))

	for _, st := range []string{"PENDING", "COMPLETED", "FAILED"} {
		err := repo.UpdateStatus("abc123", st, `{"status":"`+st+`"}`)
		assert.ErrorIs(t, err, repository.ErrStatusFinal, st)
	}
	got, err := repo.GetByTrackingID("abc123")
	require.NoError(t, err)
	assert.Equal(t, "FAILED", got.Status)
	assert.Equal(t, `{"status":"FAILED"}`, got.LastStatusPayload)
	assert.Nil(t, got.CompletedAt)
}

func TestPaymentRepository_UpdateUnknownOrder(t *testing.T) {
	repo := repository.NewPaymentRepository(setupTestDB(t))

	err := repo.UpdateStatus("missing", "FAILED", "{}")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPaymentRepository_DuplicateMerchantReference(t *testing.T) {
	repo := repository.NewPaymentRepository(setupTestDB(t))

	require.NoError(t, repo.Create(&models.PaymentOrder{MerchantReference: "AL-1", TrackingID: "t1", Amount: 1, Currency: "UGX", Status: "PENDING"}))
	err := repo.Create(&models.PaymentOrder{MerchantReference: "AL-1", TrackingID: "t2", Amount: 1, Currency: "UGX", Status: "PENDING"})
	assert.Error(t, err)
}

func TestPaymentRepository_List(t *testing.T) {
	repo := repository.NewPaymentRepository(setupTestDB(t))
	for i, st := range []string{"PENDING", "COMPLETED", "PENDING"} {
		ref := []string{"AL-1", "AL-2", "AL-3"}[i]
		require.NoError(t, repo.Create(&models.PaymentOrder{MerchantReference: ref, TrackingID: "t-" + ref, Amount: 10, Currency: "UGX", Status: st}))
	}

	all, err := repo.List("", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	pending, err := repo.List("PENDING", 10, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestIPNEventRepository(t *testing.T) {
	repo := repository.NewIPNEventRepository(setupTestDB(t))

	require.NoError(t, repo.Create(&models.IPNEvent{TrackingID: "abc123", NotificationType: "IPNCHANGE", Status: "COMPLETED"}))
	require.NoError(t, repo.Create(&models.IPNEvent{TrackingID: "abc123", NotificationType: "IPNCHANGE", Duplicate: true}))

	list, err := repo.ListByTrackingID("abc123")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[1].Duplicate)
}
