// Package lendstore persists the lending engine's state in SQLite through
// gorm. It implements lending.State; the engine supplies all serialization,
// so the store only needs per-row atomicity.
package lendstore

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"lendcore/native/lending"
)

// Store is a gorm-backed lending.State.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("lendstore: open %q: %w", path, err)
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle, migrating the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("lendstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetMarket(id string) (*lending.Market, error) {
	var row MarketRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rowToMarket(&row)
}

func (s *Store) PutMarket(m *lending.Market) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(marketToRow(m)).Error
}

func (s *Store) ListMarkets() ([]*lending.Market, error) {
	var rows []MarketRow
	if err := s.db.Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*lending.Market, 0, len(rows))
	for i := range rows {
		m, err := rowToMarket(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) GetSupply(user, market string) (*lending.Supply, error) {
	var row SupplyRow
	err := s.db.First(&row, "user_address = ? AND market_id = ?", user, market).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rowToSupply(&row)
}

func (s *Store) PutSupply(supply *lending.Supply) error {
	row := &SupplyRow{
		UserAddress:    supply.UserAddress,
		MarketID:       supply.MarketID,
		SuppliedAmount: encodeBig(supply.SuppliedAmount),
		SuppliedShares: encodeBig(supply.SuppliedShares),
		IsCollateral:   supply.IsCollateral,
		UpdatedAt:      supply.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (s *Store) DeleteSupply(user, market string) error {
	return s.db.Delete(&SupplyRow{}, "user_address = ? AND market_id = ?", user, market).Error
}

func (s *Store) SuppliesByUser(user string) ([]*lending.Supply, error) {
	var rows []SupplyRow
	if err := s.db.Where("user_address = ?", user).Order("market_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*lending.Supply, 0, len(rows))
	for i := range rows {
		supply, err := rowToSupply(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, supply)
	}
	return out, nil
}

func (s *Store) GetBorrow(user, market string) (*lending.Borrow, error) {
	var row BorrowRow
	err := s.db.First(&row, "user_address = ? AND market_id = ?", user, market).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rowToBorrow(&row)
}

func (s *Store) PutBorrow(borrow *lending.Borrow) error {
	row := &BorrowRow{
		UserAddress:     borrow.UserAddress,
		MarketID:        borrow.MarketID,
		BorrowedAmount:  encodeBig(borrow.BorrowedAmount),
		AccruedInterest: encodeBig(borrow.AccruedInterest),
		RateMode:        string(borrow.RateMode),
		UpdatedAt:       borrow.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (s *Store) DeleteBorrow(user, market string) error {
	return s.db.Delete(&BorrowRow{}, "user_address = ? AND market_id = ?", user, market).Error
}

func (s *Store) BorrowsByUser(user string) ([]*lending.Borrow, error) {
	return s.borrowsWhere("user_address = ?", user)
}

func (s *Store) BorrowsByMarket(market string) ([]*lending.Borrow, error) {
	return s.borrowsWhere("market_id = ?", market)
}

func (s *Store) borrowsWhere(query string, arg any) ([]*lending.Borrow, error) {
	var rows []BorrowRow
	if err := s.db.Where(query, arg).Order("user_address asc, market_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*lending.Borrow, 0, len(rows))
	for i := range rows {
		borrow, err := rowToBorrow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, borrow)
	}
	return out, nil
}

func (s *Store) GetPosition(user string) (*lending.Position, error) {
	var row PositionRow
	if err := s.db.First(&row, "user_address = ?", user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rowToPosition(&row)
}

func (s *Store) PutPosition(p *lending.Position) error {
	row := &PositionRow{
		UserAddress:          p.UserAddress,
		TotalCollateralValue: encodeBig(p.TotalCollateralValue),
		TotalBorrowedValue:   encodeBig(p.TotalBorrowedValue),
		HealthFactorBps:      p.HealthFactorBps,
		HealthStatus:         string(p.HealthStatus),
		SuppliedAssetCount:   p.SuppliedAssetCount,
		BorrowedAssetCount:   p.BorrowedAssetCount,
		UpdatedAt:            p.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (s *Store) ListPositions() ([]*lending.Position, error) {
	var rows []PositionRow
	if err := s.db.Order("user_address asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*lending.Position, 0, len(rows))
	for i := range rows {
		p, err := rowToPosition(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) AppendTransaction(tx *lending.Transaction) error {
	row := &TransactionRow{
		ID:                   tx.ID,
		TxHash:               tx.TxHash,
		UserAddress:          tx.UserAddress,
		MarketID:             tx.MarketID,
		Type:                 string(tx.Type),
		Amount:               encodeBig(tx.Amount),
		Shares:               encodeBig(tx.Shares),
		Value:                encodeBig(tx.Value),
		RateMode:             string(tx.RateMode),
		HealthFactorAfterBps: tx.HealthFactorAfterBps,
		Status:               tx.Status,
		CreatedAt:            tx.CreatedAt,
	}
	return s.db.Create(row).Error
}

func (s *Store) RecentTransactions(limit int) ([]*lending.Transaction, error) {
	var rows []TransactionRow
	q := s.db.Order("seq desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*lending.Transaction, len(rows))
	for i := range rows {
		tx, err := rowToTransaction(&rows[i])
		if err != nil {
			return nil, err
		}
		out[len(rows)-1-i] = tx
	}
	return out, nil
}

func (s *Store) AppendLiquidation(l *lending.LiquidationRecord) error {
	row := &LiquidationRow{
		ID:                    l.ID,
		TxHash:                l.TxHash,
		BorrowerAddress:       l.BorrowerAddress,
		LiquidatorAddress:     l.LiquidatorAddress,
		DebtMarketID:          l.DebtMarketID,
		DebtAsset:             l.DebtAsset,
		CollateralMarketID:    l.CollateralMarketID,
		CollateralAsset:       l.CollateralAsset,
		DebtRepaid:            encodeBig(l.DebtRepaid),
		DebtRepaidValue:       encodeBig(l.DebtRepaidValue),
		CollateralSeized:      encodeBig(l.CollateralSeized),
		Bonus:                 encodeBig(l.Bonus),
		HealthFactorBeforeBps: l.HealthFactorBeforeBps,
		HealthFactorAfterBps:  l.HealthFactorAfterBps,
		CloseFactorBps:        l.CloseFactorBps,
		CreatedAt:             l.CreatedAt,
	}
	return s.db.Create(row).Error
}

func (s *Store) RecentLiquidations(limit int) ([]*lending.LiquidationRecord, error) {
	var rows []LiquidationRow
	q := s.db.Order("seq desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*lending.LiquidationRecord, len(rows))
	for i := range rows {
		rec, err := rowToLiquidation(&rows[i])
		if err != nil {
			return nil, err
		}
		out[len(rows)-1-i] = rec
	}
	return out, nil
}

func (s *Store) AppendRatePoint(p *lending.RatePoint) error {
	row := &RatePointRow{
		MarketID:              p.MarketID,
		SupplyRateBps:         p.SupplyRateBps,
		BorrowRateVariableBps: p.BorrowRateVariableBps,
		BorrowRateStableBps:   p.BorrowRateStableBps,
		UtilizationBps:        p.UtilizationBps,
		TotalSupply:           encodeBig(p.TotalSupply),
		TotalBorrowed:         encodeBig(p.TotalBorrowed),
		CreatedAt:             p.CreatedAt,
	}
	return s.db.Create(row).Error
}

func (s *Store) RateHistory(market string, limit int) ([]*lending.RatePoint, error) {
	var rows []RatePointRow
	q := s.db.Where("market_id = ?", market).Order("seq desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*lending.RatePoint, len(rows))
	for i := range rows {
		point, err := rowToRatePoint(&rows[i])
		if err != nil {
			return nil, err
		}
		out[len(rows)-1-i] = point
	}
	return out, nil
}

var _ lending.State = (*Store)(nil)
