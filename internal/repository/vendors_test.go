package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/invoiceflow/pipeline/internal/common"
)

func newVendorRepoWithMock(t *testing.T) (*VendorRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewVendorRepository(db), mock
}

func TestVendorUpsertNormalizes(t *testing.T) {
	repo, mock := newVendorRepoWithMock(t)
	id := uuid.New()
	now := time.Now().UTC()

	cols := []string{"id", "name", "gstin", "address", "created_at", "updated_at"}
	mock.ExpectQuery("INSERT INTO vendors").
		WithArgs(sqlmock.AnyArg(), "Acme Traders Pvt Ltd", "27AABCU9603R1ZM", "Pune", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(id, "Acme Traders Pvt Ltd", "27AABCU9603R1ZM", "Pune", now, now))

	v, err := repo.Upsert(context.Background(), "  Acme Traders Pvt Ltd ", "27aabcu9603r1zm", "Pune")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if v.ID != id || v.GSTIN != "27AABCU9603R1ZM" {
		t.Errorf("vendor = %+v", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVendorUpsertRequiresName(t *testing.T) {
	repo, _ := newVendorRepoWithMock(t)

	_, err := repo.Upsert(context.Background(), "   ", "27AABCU9603R1ZM", "")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestVendorGetByIDNotFound(t *testing.T) {
	repo, mock := newVendorRepoWithMock(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, name, gstin, address").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "gstin", "address", "created_at", "updated_at"}))

	_, err := repo.GetByID(context.Background(), id)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
