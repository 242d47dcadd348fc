// Package memdb is an in-memory implementation of the order, trade, wallet,
// and user stores. It backs the engine and settlement tests and the
// server's -dev mode; semantics mirror the Postgres store, including the
// all-or-nothing settlement and the non-negative balance guards.
package memdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/settlement"
)

var (
	ErrNotFound          = errors.New("memdb: not found")
	ErrInsufficientFunds = errors.New("memdb: balance would go negative")
	ErrOrderNotOpen      = errors.New("memdb: order not open")
)

// Store holds everything in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	users       map[int64]*models.User
	usersByName map[string]int64
	orders      map[int64]*models.Order
	trades      []*models.Trade
	wallets     map[int64]*models.Wallet
	schedule    models.FeeSchedule

	nextUserID  int64
	nextOrderID int64
	nextTradeID int64
}

func New() *Store {
	return &Store{
		users:       make(map[int64]*models.User),
		usersByName: make(map[string]int64),
		orders:      make(map[int64]*models.Order),
		wallets:     make(map[int64]*models.Wallet),
	}
}

// SetFeeSchedule installs the schedule returned by FeeSchedule.
func (s *Store) SetFeeSchedule(sched models.FeeSchedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = sched
}

// FeeSchedule implements fees.Source.
func (s *Store) FeeSchedule(ctx context.Context) (models.FeeSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule, nil
}

// CreateUser registers a user.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByName[username]; ok {
		return nil, fmt.Errorf("memdb: username %q taken", username)
	}
	s.nextUserID++
	u := &models.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	s.usersByName[username] = u.ID
	s.wallets[u.ID] = &models.Wallet{UserID: u.ID, QuoteBalance: decimal.Zero, BaseBalance: decimal.Zero}
	cp := *u
	return &cp, nil
}

// GetUserByUsername looks a user up for login.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

// CreateOrder assigns an id and creation time and stores the order.
func (s *Store) CreateOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrderID++
	stored := *o
	stored.ID = s.nextOrderID
	stored.CreatedAt = time.Now()
	s.orders[stored.ID] = &stored
	cp := stored
	return &cp, nil
}

// GetOrder returns a copy of the order.
func (s *Store) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// CancelOrder marks an open order cancelled.
func (s *Store) CancelOrder(ctx context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if !o.Open() {
		return ErrOrderNotOpen
	}
	o.Status = models.StatusCancelled
	return nil
}

// OpenOrders returns pending and partially filled orders, oldest first.
func (s *Store) OpenOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.Open() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UserOrders returns a user's orders, newest first.
func (s *Store) UserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Wallet returns a copy of the user's wallet.
func (s *Store) Wallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// Deposit credits a wallet, creating it if needed. Used by seeding and by
// tests; trading mutations go exclusively through ApplySettlement.
func (s *Store) Deposit(ctx context.Context, userID int64, quote, base decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.walletLocked(userID)
	w.QuoteBalance = w.QuoteBalance.Add(quote)
	w.BaseBalance = w.BaseBalance.Add(base)
	return nil
}

func (s *Store) walletLocked(userID int64) *models.Wallet {
	w, ok := s.wallets[userID]
	if !ok {
		w = &models.Wallet{UserID: userID, QuoteBalance: decimal.Zero, BaseBalance: decimal.Zero}
		s.wallets[userID] = w
	}
	return w
}

// ApplySettlement applies every leg of one fill or none of them. All
// arithmetic happens on scratch copies; the live maps are only touched once
// every guard has passed.
func (s *Store) ApplySettlement(ctx context.Context, st *settlement.Settlement) (*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buyOrder, ok := s.orders[st.BuyOrderID]
	if !ok {
		return nil, fmt.Errorf("buy order %d: %w", st.BuyOrderID, ErrNotFound)
	}
	sellOrder, ok := s.orders[st.SellOrderID]
	if !ok {
		return nil, fmt.Errorf("sell order %d: %w", st.SellOrderID, ErrNotFound)
	}
	if !buyOrder.Open() || !sellOrder.Open() {
		return nil, ErrOrderNotOpen
	}
	if st.BuyNewFilled.GreaterThan(buyOrder.Amount) || st.SellNewFilled.GreaterThan(sellOrder.Amount) {
		return nil, fmt.Errorf("memdb: fill overruns order amount")
	}

	// Scratch copies keyed by user id so a buyer who is also the seller
	// shares one copy and both legs apply to it.
	scratch := make(map[int64]models.Wallet)
	get := func(userID int64) models.Wallet {
		if w, ok := scratch[userID]; ok {
			return w
		}
		return *s.walletLocked(userID)
	}

	buyer := get(st.BuyerID)
	buyer.QuoteBalance = buyer.QuoteBalance.Sub(st.BuyerQuoteDebit)
	if buyer.QuoteBalance.IsNegative() {
		return nil, fmt.Errorf("debit buyer %d quote: %w", st.BuyerID, ErrInsufficientFunds)
	}
	buyer.BaseBalance = buyer.BaseBalance.Add(st.Amount)
	scratch[st.BuyerID] = buyer

	seller := get(st.SellerID)
	seller.BaseBalance = seller.BaseBalance.Sub(st.Amount)
	if seller.BaseBalance.IsNegative() {
		return nil, fmt.Errorf("debit seller %d base: %w", st.SellerID, ErrInsufficientFunds)
	}
	seller.QuoteBalance = seller.QuoteBalance.Add(st.SellerQuoteCredit)
	scratch[st.SellerID] = seller

	feeAcct := get(st.FeeAccountID)
	feeAcct.QuoteBalance = feeAcct.QuoteBalance.Add(st.FeeAccountCredit)
	scratch[st.FeeAccountID] = feeAcct

	// All guards passed; commit.
	for userID, w := range scratch {
		cp := w
		s.wallets[userID] = &cp
	}
	buyOrder.Filled = st.BuyNewFilled
	buyOrder.Status = st.BuyNewStatus
	sellOrder.Filled = st.SellNewFilled
	sellOrder.Status = st.SellNewStatus

	s.nextTradeID++
	trade := &models.Trade{
		ID:          s.nextTradeID,
		BuyOrderID:  st.BuyOrderID,
		SellOrderID: st.SellOrderID,
		BuyerID:     st.BuyerID,
		SellerID:    st.SellerID,
		Amount:      st.Amount,
		Price:       st.Price,
		Total:       st.Total,
		BuyerFee:    st.BuyerFee,
		SellerFee:   st.SellerFee,
		CreatedAt:   st.ExecutedAt,
	}
	s.trades = append(s.trades, trade)
	cp := *trade
	return &cp, nil
}

// RecentTrades returns up to limit trades, newest first.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.Trade, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, *s.trades[i])
	}
	return out, nil
}

// TradesForOrder returns the trades an order participated in, oldest first.
func (s *Store) TradesForOrder(ctx context.Context, orderID int64) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.BuyOrderID == orderID || t.SellOrderID == orderID {
			out = append(out, *t)
		}
	}
	return out, nil
}

// LastTradePrice implements exchange.PriceSource.
func (s *Store) LastTradePrice(ctx context.Context) (decimal.Decimal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.trades) == 0 {
		return decimal.Zero, false, nil
	}
	return s.trades[len(s.trades)-1].Price, true, nil
}
