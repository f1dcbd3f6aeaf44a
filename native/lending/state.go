package lending

// State is the persistence contract the engine operates against. Lookups
// return (nil, nil) when the record does not exist; the engine translates
// absence into its own error taxonomy. Implementations must provide atomic
// per-key read-modify-write; cross-key atomicity is supplied by the engine's
// per-user and per-market serialization.
type State interface {
	GetMarket(id string) (*Market, error)
	PutMarket(m *Market) error
	ListMarkets() ([]*Market, error)

	GetSupply(user, market string) (*Supply, error)
	PutSupply(s *Supply) error
	DeleteSupply(user, market string) error
	SuppliesByUser(user string) ([]*Supply, error)

	GetBorrow(user, market string) (*Borrow, error)
	PutBorrow(b *Borrow) error
	DeleteBorrow(user, market string) error
	BorrowsByUser(user string) ([]*Borrow, error)
	BorrowsByMarket(market string) ([]*Borrow, error)

	GetPosition(user string) (*Position, error)
	PutPosition(p *Position) error
	ListPositions() ([]*Position, error)

	AppendTransaction(tx *Transaction) error
	RecentTransactions(limit int) ([]*Transaction, error)

	AppendLiquidation(l *LiquidationRecord) error
	RecentLiquidations(limit int) ([]*LiquidationRecord, error)

	AppendRatePoint(p *RatePoint) error
	RateHistory(market string, limit int) ([]*RatePoint, error)
}
