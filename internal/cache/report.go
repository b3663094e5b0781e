package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// byteStore is the raw key/value surface shared by every cache implementation.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

func reportKey(fingerprint string) string {
	return "report:" + fingerprint
}

func loadReport(ctx context.Context, s byteStore, tenantID, fingerprint string) (*domain.Report, error) {
	data, err := s.Get(ctx, tenantID, reportKey(fingerprint))
	if err != nil || data == nil {
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode cached report: %w", err)
	}
	return &report, nil
}

func storeReport(ctx context.Context, s byteStore, tenantID, fingerprint string, report *domain.Report, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return s.Set(ctx, tenantID, reportKey(fingerprint), data, ttl)
}
