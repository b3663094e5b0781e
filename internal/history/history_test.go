package history

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantID = "tenant-001"

func newRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "history.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func invoice(id, vendor, number string, total float64, account string, at time.Time) *domain.Document {
	doc := domain.NewDocument(id, tenantID, domain.InvoiceSchema, domain.Record{
		"vendor_name":    vendor,
		"vendor_tax_id":  "DE123456789",
		"invoice_number": number,
		"total_amount":   total,
		"bank_account":   account,
	})
	doc.CreatedAt = at
	return doc
}

func TestBuildContext(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, total := range []float64{100, 110, 90, 100} {
		doc := invoice("hist-"+string(rune('a'+i)), "Acme GmbH", "INV-"+string(rune('1'+i)), total, "DE-ACC-1", base.Add(time.Duration(i)*24*time.Hour))
		require.NoError(t, repo.SaveDocument(ctx, tenantID, doc))
	}
	other := invoice("other", "Acme Holding", "H-1", 5, "", base)
	require.NoError(t, repo.SaveDocument(ctx, tenantID, other))

	svc := NewService(repo)

	t.Run("ProfileAndZScore", func(t *testing.T) {
		current := invoice("current", "Acme GmbH", "INV-9", 1000, "DE-ACC-2", base.Add(10*24*time.Hour))
		require.NoError(t, repo.SaveDocument(ctx, tenantID, current))

		fc, err := svc.BuildContext(ctx, tenantID, current)
		require.NoError(t, err)
		require.NotNil(t, fc.EntityProfile)

		p := fc.EntityProfile
		assert.Equal(t, 4, p.TotalDocuments, "current document must not count as history")
		assert.InDelta(t, 400, p.TotalAmount, 1e-9)
		assert.InDelta(t, 100, p.AvgAmount, 1e-9)
		assert.InDelta(t, math.Sqrt(50), p.StdDevAmount, 1e-9)
		assert.Equal(t, 90.0, p.MinAmount)
		assert.Equal(t, 110.0, p.MaxAmount)
		assert.Equal(t, []string{"DE-ACC-1"}, p.KnownBankAccounts)
		assert.True(t, base.Equal(p.FirstSeen), "first seen %v", p.FirstSeen)

		require.NotNil(t, fc.AmountZScore)
		assert.InDelta(t, 900/math.Sqrt(50), *fc.AmountZScore, 1e-9)

		require.Len(t, fc.BankDetailChanges, 2)
		assert.Equal(t, "DE-ACC-1", fc.BankDetailChanges[0].BankAccount)
		assert.Equal(t, "DE-ACC-2", fc.BankDetailChanges[1].BankAccount)

		require.Len(t, fc.EntityIDConflicts, 1)
		assert.Equal(t, "Acme Holding", fc.EntityIDConflicts[0].EntityName)
		assert.Empty(t, fc.DuplicateDocuments)

		signals := svc.Signals(current, fc)
		assert.Len(t, signals, 3)
	})

	t.Run("Duplicate", func(t *testing.T) {
		dup := invoice("dup", "Acme GmbH", "INV-1", 100, "DE-ACC-1", base.Add(20*24*time.Hour))

		fc, err := svc.BuildContext(ctx, tenantID, dup)
		require.NoError(t, err)
		require.Len(t, fc.DuplicateDocuments, 1)
		assert.Equal(t, "hist-a", fc.DuplicateDocuments[0].ID)
		assert.Contains(t, svc.Signals(dup, fc)[0], "INV-1")
	})

	t.Run("FirstDocumentOfEntity", func(t *testing.T) {
		fresh := invoice("fresh", "Brand New Ltd", "N-1", 50, "X", base)

		fc, err := svc.BuildContext(ctx, tenantID, fresh)
		require.NoError(t, err)
		assert.Nil(t, fc.EntityProfile)
		assert.Nil(t, fc.AmountZScore)
		assert.NotNil(t, fc.DuplicateDocuments)
		assert.NotNil(t, fc.BankDetailChanges)
		assert.Empty(t, svc.Signals(fresh, fc))
	})

	t.Run("SinglePriorAmountHasNoZScore", func(t *testing.T) {
		doc := invoice("holding-2", "Acme Holding", "H-2", 500, "", base.Add(time.Hour))

		fc, err := svc.BuildContext(ctx, tenantID, doc)
		require.NoError(t, err)
		require.NotNil(t, fc.EntityProfile)
		assert.Equal(t, 1, fc.EntityProfile.TotalDocuments)
		assert.Nil(t, fc.AmountZScore)
	})

	t.Run("NoEntityName", func(t *testing.T) {
		doc := domain.NewDocument("anon", tenantID, domain.InvoiceSchema, domain.Record{"total_amount": 10.0})

		fc, err := svc.BuildContext(ctx, tenantID, doc)
		require.NoError(t, err)
		assert.Equal(t, "anon", fc.DocumentID)
		assert.Nil(t, fc.EntityProfile)
	})
}

func TestZScore(t *testing.T) {
	assert.Nil(t, zScore(10, 10, 0))
	assert.Nil(t, zScore(10, 10, math.NaN()))

	z := zScore(13, 10, 1.5)
	require.NotNil(t, z)
	assert.InDelta(t, 2.0, *z, 1e-9)
}

type failingStore struct{ domain.HistoryStore }

func (failingStore) GetDocumentsByEntity(context.Context, string, string, time.Time) ([]*domain.Document, error) {
	return nil, errors.New("db down")
}

func TestBuildContextErrors(t *testing.T) {
	doc := invoice("x", "Acme", "1", 1, "", time.Now())

	_, err := NewService(failingStore{}).BuildContext(context.Background(), tenantID, doc)
	assert.ErrorContains(t, err, "db down")

	var nilSvc *Service
	_, err = nilSvc.BuildContext(context.Background(), tenantID, doc)
	assert.ErrorIs(t, err, ErrNoStore)
}
