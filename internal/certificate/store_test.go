package certificate_test

import (
	"testing"
	"time"

	"github.com/p-n-ai/pai-progress/internal/certificate"
	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
	"github.com/p-n-ai/pai-progress/internal/platform/database/pgtest"
)

func exerciseStore(t *testing.T, store certificate.Store) {
	t.Helper()
	ctx := t.Context()
	issuedAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	c := certificate.Certificate{
		ID:               "c1",
		UserID:           "u1",
		RoadmapID:        "arrays",
		Percentage:       85,
		IssuedAt:         issuedAt,
		VerificationCode: "abc",
	}
	if err := store.Create(ctx, c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dup := c
	dup.ID = "c2"
	if err := store.Create(ctx, dup); !apperr.Is(err, apperr.KindStorageConflict) {
		t.Errorf("Create(same pair) error = %v, want storage conflict", err)
	}

	got, ok, err := store.Get(ctx, "u1", "arrays")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.ID != "c1" || got.Percentage != 85 || !got.IssuedAt.Equal(issuedAt) {
		t.Errorf("Get() = %+v", got)
	}

	if _, ok, err := store.Get(ctx, "u1", "graphs"); err != nil || ok {
		t.Errorf("Get(other roadmap) = %v, %v, want missing", ok, err)
	}

	byID, err := store.GetByID(ctx, "c1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if byID.UserID != "u1" {
		t.Errorf("GetByID() user = %q, want u1", byID.UserID)
	}
	if _, err := store.GetByID(ctx, "c2"); !apperr.Is(err, apperr.KindNotFound) {
		t.Errorf("GetByID(c2) error = %v, want not found", err)
	}

	second := certificate.Certificate{ID: "c3", UserID: "u1", RoadmapID: "graphs", IssuedAt: issuedAt.Add(time.Hour)}
	if err := store.Create(ctx, second); err != nil {
		t.Fatalf("Create(graphs) error = %v", err)
	}
	list, err := store.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "c1" || list[1].ID != "c3" {
		t.Errorf("ListForUser() = %+v, want c1 then c3", list)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, certificate.NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	store, err := certificate.NewPostgresStore(pgtest.New(t))
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	exerciseStore(t, store)
}

func TestPostgresStore_NilPool(t *testing.T) {
	if _, err := certificate.NewPostgresStore(nil); err == nil {
		t.Fatal("NewPostgresStore(nil) should fail")
	}
}
