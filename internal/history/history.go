// Package history builds the cross-document fraud context of a document
// from the entity's stored history.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultZScoreThreshold is the absolute z-score above which an amount is reported as unusual.
const DefaultZScoreThreshold = 3.0

// ErrNoStore is returned when the service has no history store.
var ErrNoStore = errors.New("history store not configured")

// Service builds FraudContext values from a HistoryStore.
type Service struct {
	store     domain.HistoryStore
	threshold float64
}

// NewService creates a history service over store.
func NewService(store domain.HistoryStore) *Service {
	return &Service{store: store, threshold: DefaultZScoreThreshold}
}

// WithZScoreThreshold overrides the threshold used by Signals.
func (s *Service) WithZScoreThreshold(threshold float64) *Service {
	if threshold > 0 {
		s.threshold = threshold
	}
	return s
}

// Profile aggregates the stored documents of an entity, skipping excludeID.
// It returns nil when the entity has no other documents.
func (s *Service) Profile(ctx context.Context, tenantID, entityName, excludeID string) (*domain.EntityProfile, error) {
	if s == nil || s.store == nil {
		return nil, ErrNoStore
	}
	if entityName == "" {
		return nil, nil
	}

	docs, err := s.store.GetDocumentsByEntity(ctx, tenantID, entityName, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to load documents of %q: %w", entityName, err)
	}

	prior := make([]*domain.Document, 0, len(docs))
	for _, d := range docs {
		if d.ID != excludeID {
			prior = append(prior, d)
		}
	}
	return buildProfile(entityName, prior)
}

func buildProfile(entityName string, docs []*domain.Document) (*domain.EntityProfile, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	amounts := make(stats.Float64Data, 0, len(docs))
	accounts := newOrderedSet()
	entityIDs := newOrderedSet()
	for _, d := range docs {
		amounts = append(amounts, d.TotalAmount)
		accounts.add(d.BankAccount)
		entityIDs.add(d.EntityID)
	}

	profile := &domain.EntityProfile{
		EntityName:        entityName,
		TotalDocuments:    len(docs),
		KnownBankAccounts: accounts.items,
		KnownEntityIDs:    entityIDs.items,
		FirstSeen:         docs[0].CreatedAt,
		LastSeen:          docs[len(docs)-1].CreatedAt,
	}

	var err error
	if profile.TotalAmount, err = stats.Sum(amounts); err != nil {
		return nil, err
	}
	if profile.AvgAmount, err = stats.Mean(amounts); err != nil {
		return nil, err
	}
	if profile.StdDevAmount, err = stats.StandardDeviation(amounts); err != nil {
		return nil, err
	}
	if profile.MinAmount, err = stats.Min(amounts); err != nil {
		return nil, err
	}
	if profile.MaxAmount, err = stats.Max(amounts); err != nil {
		return nil, err
	}
	return profile, nil
}

// BuildContext collects the fraud context of doc. The document itself is never
// counted as its own history, whether or not it was stored already.
func (s *Service) BuildContext(ctx context.Context, tenantID string, doc *domain.Document) (*domain.FraudContext, error) {
	if s == nil || s.store == nil {
		return nil, ErrNoStore
	}

	fc := &domain.FraudContext{
		DocumentID:         doc.ID,
		DuplicateDocuments: []*domain.Document{},
		BankDetailChanges:  []domain.BankDetail{},
		EntityIDConflicts:  []domain.EntityIDUsage{},
	}
	if doc.EntityName == "" {
		return fc, nil
	}

	profile, err := s.Profile(ctx, tenantID, doc.EntityName, doc.ID)
	if err != nil {
		return nil, err
	}
	fc.EntityProfile = profile
	if profile != nil && profile.TotalDocuments >= 2 {
		fc.AmountZScore = zScore(doc.TotalAmount, profile.AvgAmount, profile.StdDevAmount)
	}

	if doc.DocumentNumber != "" {
		dups, err := s.store.FindDuplicateDocuments(ctx, tenantID, doc.DocumentNumber, doc.EntityName, doc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find duplicates: %w", err)
		}
		if dups != nil {
			fc.DuplicateDocuments = dups
		}
	}

	banks, err := s.store.GetBankDetailHistory(ctx, tenantID, doc.EntityName)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank history: %w", err)
	}
	if banks != nil {
		fc.BankDetailChanges = banks
	}

	if doc.EntityID != "" {
		conflicts, err := s.store.FindEntityIDConflicts(ctx, tenantID, doc.EntityID, doc.EntityName)
		if err != nil {
			return nil, fmt.Errorf("failed to find entity id conflicts: %w", err)
		}
		if conflicts != nil {
			fc.EntityIDConflicts = conflicts
		}
	}

	return fc, nil
}

func zScore(amount, mean, stddev float64) *float64 {
	if stddev <= 0 || math.IsNaN(stddev) {
		return nil
	}
	z := (amount - mean) / stddev
	return &z
}

// Signals describes the notable parts of a fraud context for doc.
// It never alters a verdict; callers show it next to one.
func (s *Service) Signals(doc *domain.Document, fc *domain.FraudContext) []string {
	if fc == nil {
		return nil
	}

	var out []string
	if n := len(fc.DuplicateDocuments); n > 0 {
		out = append(out, fmt.Sprintf("Document number %s from %s was seen %d time(s) before", doc.DocumentNumber, doc.EntityName, n))
	}
	if doc.BankAccount != "" && fc.EntityProfile != nil && !slices.Contains(fc.EntityProfile.KnownBankAccounts, doc.BankAccount) {
		out = append(out, fmt.Sprintf("Bank account %s is new for %s", doc.BankAccount, doc.EntityName))
	}
	if fc.AmountZScore != nil && math.Abs(*fc.AmountZScore) > s.threshold {
		out = append(out, fmt.Sprintf("Amount %.2f is %.1f standard deviations from the mean of %s", doc.TotalAmount, *fc.AmountZScore, doc.EntityName))
	}
	for _, c := range fc.EntityIDConflicts {
		out = append(out, fmt.Sprintf("Entity id %s is also used by %s", c.EntityID, c.EntityName))
	}
	return out
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{}), items: []string{}}
}

func (o *orderedSet) add(v string) {
	if v == "" {
		return
	}
	if _, ok := o.seen[v]; ok {
		return
	}
	o.seen[v] = struct{}{}
	o.items = append(o.items, v)
}
