package store

import (
	"context"

	"carbonease-backend/internal/domain"

	"github.com/google/uuid"
)

// CreditStats summarises one seller's listings.
type CreditStats struct {
	TotalListings  int64   `json:"totalListings"`
	ActiveListings int64   `json:"activeListings"`
	TotalCredits   int64   `json:"totalCredits"`
	TotalAvailable int64   `json:"totalAvailable"`
	TotalSold      int64   `json:"totalSold"`
	TotalValue     float64 `json:"totalValue"`
	AvailableValue float64 `json:"availableValue"`
	SoldValue      float64 `json:"soldValue"`
	TotalViews     int64   `json:"totalViews"`
	TotalPurchases int64   `json:"totalPurchases"`
	AverageRating  float64 `json:"averageRating"`
}

// TransactionStats summarises the transactions a user takes part in.
type TransactionStats struct {
	TotalTransactions       int64   `json:"totalTransactions"`
	TotalVolume             float64 `json:"totalVolume"`
	TotalCredits            int64   `json:"totalCredits"`
	CompletedTransactions   int64   `json:"completedTransactions"`
	PendingTransactions     int64   `json:"pendingTransactions"`
	AverageTransactionValue float64 `json:"averageTransactionValue"`
}

func (s *GormStore) SellerCreditStats(ctx context.Context, sellerID uuid.UUID) (CreditStats, error) {
	var out CreditStats
	err := s.db(ctx).Model(&domain.CreditListing{}).
		Select(`COUNT(*) AS total_listings,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS active_listings,
			COALESCE(SUM(total_credits), 0) AS total_credits,
			COALESCE(SUM(available_credits), 0) AS total_available,
			COALESCE(SUM(total_credits - available_credits), 0) AS total_sold,
			COALESCE(SUM(total_credits * price_per_credit), 0) AS total_value,
			COALESCE(SUM(available_credits * price_per_credit), 0) AS available_value,
			COALESCE(SUM((total_credits - available_credits) * price_per_credit), 0) AS sold_value,
			COALESCE(SUM(view_count), 0) AS total_views,
			COALESCE(SUM(purchase_count), 0) AS total_purchases,
			COALESCE(AVG(CASE WHEN total_reviews > 0 THEN average_rating END), 0) AS average_rating`,
			domain.ListingActive).
		Where("seller_id = ?", sellerID).
		Scan(&out).Error
	if err != nil {
		return CreditStats{}, err
	}
	out.TotalValue = domain.Round2(out.TotalValue)
	out.AvailableValue = domain.Round2(out.AvailableValue)
	out.SoldValue = domain.Round2(out.SoldValue)
	out.AverageRating = domain.Round2(out.AverageRating)
	return out, nil
}

// TransactionStats matches buyers on buyer_id; sellers and admins on seller_id.
func (s *GormStore) TransactionStats(ctx context.Context, userID uuid.UUID, role domain.Role) (TransactionStats, error) {
	column := "seller_id"
	if role == domain.RoleBuyer {
		column = "buyer_id"
	}
	var out TransactionStats
	err := s.db(ctx).Model(&domain.Transaction{}).
		Select(`COUNT(*) AS total_transactions,
			COALESCE(SUM(total_amount), 0) AS total_volume,
			COALESCE(SUM(quantity), 0) AS total_credits,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed_transactions,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending_transactions,
			COALESCE(AVG(total_amount), 0) AS average_transaction_value`,
			domain.TxCompleted, domain.TxPending).
		Where(column+" = ?", userID).
		Scan(&out).Error
	if err != nil {
		return TransactionStats{}, err
	}
	out.TotalVolume = domain.Round2(out.TotalVolume)
	out.AverageTransactionValue = domain.Round2(out.AverageTransactionValue)
	return out, nil
}
