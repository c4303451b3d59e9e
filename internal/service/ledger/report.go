package ledger

import (
	"context"
	"fmt"

	"github.com/nkiryanov/pointledger/internal/models"
	"github.com/nkiryanov/pointledger/internal/repository"
)

func (s *Service) ListTransactions(ctx context.Context, userID string, types []string) ([]models.Transaction, error) {
	for _, t := range types {
		if !models.IsKnownTransactionType(t) {
			return nil, fmt.Errorf("unknown transaction type %q", t)
		}
	}

	transactions, err := s.storage.Transaction().ListTransactions(ctx, userID, types)
	if err != nil {
		return nil, fmt.Errorf("can't list transactions. Err: %w", err)
	}

	return transactions, nil
}

// CampaignReport aggregates bonus transactions granted by the campaign
func (s *Service) CampaignReport(ctx context.Context, campaignID string) (repository.ReferenceSummary, error) {
	summary, err := s.storage.Transaction().SummarizeReference(ctx, models.TransactionTypeBonus, models.ReferenceTypeCampaign, campaignID)
	if err != nil {
		return summary, fmt.Errorf("can't build campaign report. Err: %w", err)
	}

	return summary, nil
}

// ListCouponUsages returns redemptions of the coupon, latest first
func (s *Service) ListCouponUsages(ctx context.Context, couponID string) ([]models.CouponUsage, error) {
	usages, err := s.storage.Coupon().ListUsages(ctx, couponID)
	if err != nil {
		return nil, fmt.Errorf("can't list coupon usages. Err: %w", err)
	}

	return usages, nil
}

// ListUserIDs pages through users having a balance row
func (s *Service) ListUserIDs(ctx context.Context, after string, limit int) ([]string, error) {
	ids, err := s.storage.Balance().ListUserIDs(ctx, after, limit)
	if err != nil {
		return nil, fmt.Errorf("can't list users. Err: %w", err)
	}

	return ids, nil
}
