package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestRunInTx_NoPool(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrNoPool) {
		t.Fatalf("expected ErrNoPool, got %v", err)
	}
	if called {
		t.Error("fn must not run without a connection")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(dup) {
		t.Error("expected 23505 to be a unique violation")
	}
	if !IsUniqueViolation(errors.Join(errors.New("insert"), dup)) {
		t.Error("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation reported as unique")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Error("plain error reported as unique")
	}
}
