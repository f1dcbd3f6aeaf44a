package lending

import "sync"

// MemoryState is an in-memory State implementation. It backs the engine test
// suites and single-process deployments that do not need durability.
type MemoryState struct {
	mu           sync.RWMutex
	markets      map[string]*Market
	supplies     map[string]*Supply
	borrows      map[string]*Borrow
	positions    map[string]*Position
	transactions []*Transaction
	liquidations []*LiquidationRecord
	rateHistory  []*RatePoint
}

// NewMemoryState constructs an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		markets:   make(map[string]*Market),
		supplies:  make(map[string]*Supply),
		borrows:   make(map[string]*Borrow),
		positions: make(map[string]*Position),
	}
}

func rowKey(user, market string) string { return user + "|" + market }

func (s *MemoryState) GetMarket(id string) (*Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.markets[id].Clone(), nil
}

func (s *MemoryState) PutMarket(m *Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m.Clone()
	return nil
}

func (s *MemoryState) ListMarkets() ([]*Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (s *MemoryState) GetSupply(user, market string) (*Supply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supplies[rowKey(user, market)].Clone(), nil
}

func (s *MemoryState) PutSupply(row *Supply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supplies[rowKey(row.UserAddress, row.MarketID)] = row.Clone()
	return nil
}

func (s *MemoryState) DeleteSupply(user, market string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.supplies, rowKey(user, market))
	return nil
}

func (s *MemoryState) SuppliesByUser(user string) ([]*Supply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Supply
	for _, row := range s.supplies {
		if row.UserAddress == user {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (s *MemoryState) GetBorrow(user, market string) (*Borrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.borrows[rowKey(user, market)].Clone(), nil
}

func (s *MemoryState) PutBorrow(row *Borrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.borrows[rowKey(row.UserAddress, row.MarketID)] = row.Clone()
	return nil
}

func (s *MemoryState) DeleteBorrow(user, market string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.borrows, rowKey(user, market))
	return nil
}

func (s *MemoryState) BorrowsByUser(user string) ([]*Borrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Borrow
	for _, row := range s.borrows {
		if row.UserAddress == user {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (s *MemoryState) BorrowsByMarket(market string) ([]*Borrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Borrow
	for _, row := range s.borrows {
		if row.MarketID == market {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (s *MemoryState) GetPosition(user string) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[user].Clone(), nil
}

func (s *MemoryState) PutPosition(p *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.UserAddress] = p.Clone()
	return nil
}

func (s *MemoryState) ListPositions() ([]*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *MemoryState) AppendTransaction(tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *tx
	clone.Amount = copyBig(tx.Amount)
	clone.Shares = copyBig(tx.Shares)
	clone.Value = copyBig(tx.Value)
	s.transactions = append(s.transactions, &clone)
	return nil
}

func (s *MemoryState) RecentTransactions(limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.transactions, limit), nil
}

func (s *MemoryState) AppendLiquidation(l *LiquidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *l
	clone.DebtRepaid = copyBig(l.DebtRepaid)
	clone.DebtRepaidValue = copyBig(l.DebtRepaidValue)
	clone.CollateralSeized = copyBig(l.CollateralSeized)
	clone.Bonus = copyBig(l.Bonus)
	s.liquidations = append(s.liquidations, &clone)
	return nil
}

func (s *MemoryState) RecentLiquidations(limit int) ([]*LiquidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.liquidations, limit), nil
}

func (s *MemoryState) AppendRatePoint(p *RatePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *p
	clone.TotalSupply = copyBig(p.TotalSupply)
	clone.TotalBorrowed = copyBig(p.TotalBorrowed)
	s.rateHistory = append(s.rateHistory, &clone)
	return nil
}

func (s *MemoryState) RateHistory(market string, limit int) ([]*RatePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*RatePoint
	for _, p := range s.rateHistory {
		if p.MarketID == market {
			matched = append(matched, p)
		}
	}
	return lastN(matched, limit), nil
}

// lastN returns up to limit entries from the tail, newest last.
func lastN[T any](rows []*T, limit int) []*T {
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	out := make([]*T, limit)
	copy(out, rows[len(rows)-limit:])
	return out
}
