package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/platform/qubic"
)

// memStore is an in-memory implementation of every store interface with the
// same guard semantics as the Postgres layer: frozen and balance checks on
// account deltas, single-apply guarded transitions, and settlement replays
// collapsing to no-ops.
type memStore struct {
	mu        sync.Mutex
	accounts  map[string]*domain.Account
	txs       map[string]*domain.Transaction
	rounds    map[string]*domain.Round
	entries   map[string][]*domain.RoundEntry
	snapshots map[string][]domain.PriceSnapshot
	markets   map[string]*domain.Market
	escrows   map[string][]*domain.Escrow
	house     domain.HouseBank
	status    map[string]string
	nextEntry int64

	failWithdrawalErr error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]*domain.Account),
		txs:       make(map[string]*domain.Transaction),
		rounds:    make(map[string]*domain.Round),
		entries:   make(map[string][]*domain.RoundEntry),
		snapshots: make(map[string][]domain.PriceSnapshot),
		markets:   make(map[string]*domain.Market),
		escrows:   make(map[string][]*domain.Escrow),
		status:    make(map[string]string),
	}
}

// --- AccountStore ---

func (m *memStore) Create(ctx context.Context, a domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.Address]; ok {
		return domain.ErrAlreadyExists
	}
	cp := a
	m.accounts[a.Address] = &cp
	return nil
}

func (m *memStore) GetByAddress(ctx context.Context, address string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[address]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return *a, nil
}

func (m *memStore) GetByToken(ctx context.Context, token string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.APIToken == token {
			return *a, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (m *memStore) ApplyDelta(ctx context.Context, address string, d domain.BalanceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyDeltaLocked(address, d)
}

func (m *memStore) applyDeltaLocked(address string, d domain.BalanceDelta) error {
	a, ok := m.accounts[address]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Frozen {
		return domain.ErrAccountFrozen
	}
	if a.BalanceQu+d.BalanceQu < 0 {
		return domain.ErrInsufficientBalance
	}
	a.BalanceQu += d.BalanceQu
	a.Totals.DepositedQu += d.DepositedQu
	a.Totals.WithdrawnQu += d.WithdrawnQu
	a.Totals.WageredQu += d.WageredQu
	a.Totals.WonQu += d.WonQu
	a.Totals.RefundedQu += d.RefundedQu
	a.Totals.LostQu += d.LostQu
	return nil
}

func (m *memStore) SetFrozen(ctx context.Context, address string, frozen bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[address]
	if !ok {
		return domain.ErrNotFound
	}
	a.Frozen = frozen
	return nil
}

func (m *memStore) Leaderboard(ctx context.Context, limit int) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Totals.WonQu-out[i].Totals.LostQu > out[j].Totals.WonQu-out[j].Totals.LostQu
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Count(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.accounts)), nil
}

// --- TransactionStore ---

func (m *memStore) GetByID(ctx context.Context, id string) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return *tx, nil
}

func (m *memStore) ListByAddress(ctx context.Context, address string, opts domain.ListOpts) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range m.txs {
		if tx.Address == address {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) GetDeposit(ctx context.Context, txHash string) (domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.Kind == domain.TxDeposit && tx.ExternalRef == txHash {
			return *tx, nil
		}
	}
	return domain.Transaction{}, domain.ErrNotFound
}

func (m *memStore) ListPendingWithdrawals(ctx context.Context) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range m.txs {
		if tx.Kind == domain.TxWithdrawal && tx.Status == domain.TxPending {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- LedgerStore ---

func (m *memStore) CreditWithTx(ctx context.Context, tx domain.Transaction, d domain.BalanceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.Kind == domain.TxDeposit {
		for _, existing := range m.txs {
			if existing.Kind == domain.TxDeposit && existing.ExternalRef == tx.ExternalRef {
				return domain.ErrDuplicateDeposit
			}
		}
	}
	if err := m.applyDeltaLocked(tx.Address, d); err != nil {
		return err
	}
	cp := tx
	m.txs[tx.ID] = &cp
	return nil
}

func (m *memStore) ReserveWithdrawal(ctx context.Context, tx domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.applyDeltaLocked(tx.Address, domain.BalanceDelta{BalanceQu: -tx.AmountQu}); err != nil {
		return err
	}
	cp := tx
	m.txs[tx.ID] = &cp
	return nil
}

func (m *memStore) ConfirmWithdrawal(ctx context.Context, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[txID]
	if !ok || tx.Status != domain.TxPending {
		return false, nil
	}
	tx.Status = domain.TxConfirmed
	return true, m.applyDeltaLocked(tx.Address, domain.BalanceDelta{WithdrawnQu: tx.AmountQu})
}

func (m *memStore) FailWithdrawal(ctx context.Context, txID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWithdrawalErr != nil {
		return false, m.failWithdrawalErr
	}
	tx, ok := m.txs[txID]
	if !ok || tx.Status != domain.TxPending {
		return false, nil
	}
	tx.Status = domain.TxFailed
	return true, m.applyDeltaLocked(tx.Address, domain.BalanceDelta{BalanceQu: tx.AmountQu})
}

func (m *memStore) PlaceRoundBet(ctx context.Context, e domain.RoundEntry, wager domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[e.RoundID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != domain.RoundActive {
		return domain.ErrRoundClosed
	}
	if err := m.applyDeltaLocked(e.Address, domain.BalanceDelta{BalanceQu: -e.AmountQu, WageredQu: e.AmountQu}); err != nil {
		return err
	}
	if e.Side == domain.SideUp {
		r.UpPoolQu += e.AmountQu
	} else {
		r.DownPoolQu += e.AmountQu
	}
	cp := wager
	m.txs[wager.ID] = &cp
	m.nextEntry++
	ec := e
	ec.ID = m.nextEntry
	m.entries[e.RoundID] = append(m.entries[e.RoundID], &ec)
	return nil
}

func (m *memStore) SettleRoundEntry(ctx context.Context, s domain.EntrySettlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entry *domain.RoundEntry
	for _, list := range m.entries {
		for _, e := range list {
			if e.ID == s.EntryID {
				entry = e
			}
		}
	}
	if entry == nil {
		return domain.ErrNotFound
	}
	if entry.PayoutQu != nil {
		return nil // already settled
	}
	payout := s.PayoutQu
	entry.PayoutQu = &payout

	var d domain.BalanceDelta
	a := m.accounts[s.Address]
	switch s.Result {
	case domain.ResultWin:
		d.BalanceQu = s.PayoutQu
		d.WonQu = s.PayoutQu
		a.Wins++
		if a.Streak < 0 {
			a.Streak = 0
		}
		a.Streak++
		if a.Streak > a.BestStreak {
			a.BestStreak = a.Streak
		}
	case domain.ResultPush:
		d.BalanceQu = s.PayoutQu
		d.RefundedQu = s.PayoutQu
		a.Pushes++
	case domain.ResultLoss:
		d.LostQu = s.StakeQu
		a.Losses++
		if a.Streak > 0 {
			a.Streak = 0
		}
		a.Streak--
	}
	if s.Payout != nil {
		cp := *s.Payout
		m.txs[cp.ID] = &cp
	}
	return m.applyDeltaLocked(s.Address, d)
}

func (m *memStore) JoinMarket(ctx context.Context, es domain.Escrow, wager domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markets[es.MarketID]
	if !ok {
		return domain.ErrNotFound
	}
	if mk.Status != domain.MarketOpen && mk.Status != domain.MarketClosingSoon {
		return domain.ErrMarketClosed
	}
	if err := m.applyDeltaLocked(es.Address, domain.BalanceDelta{BalanceQu: -es.AmountQu, WageredQu: es.AmountQu}); err != nil {
		return err
	}
	cp := wager
	m.txs[wager.ID] = &cp
	ec := es
	m.escrows[es.MarketID] = append(m.escrows[es.MarketID], &ec)
	return nil
}

func (m *memStore) SettleEscrow(ctx context.Context, s domain.EscrowSettlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var escrow *domain.Escrow
	for _, list := range m.escrows {
		for _, e := range list {
			if e.ID == s.EscrowID {
				escrow = e
			}
		}
	}
	if escrow == nil {
		return domain.ErrNotFound
	}
	if escrow.Status != domain.EscrowHeld {
		return nil // already settled
	}
	escrow.Status = s.Status

	var d domain.BalanceDelta
	a := m.accounts[s.Address]
	switch s.Status {
	case domain.EscrowReleased:
		d.BalanceQu = s.PayoutQu
		d.WonQu = s.PayoutQu
		a.Wins++
	case domain.EscrowRefunded:
		d.BalanceQu = s.PayoutQu
		d.RefundedQu = s.PayoutQu
		a.Pushes++
	case domain.EscrowLost:
		d.LostQu = s.StakeQu
		a.Losses++
	}
	if s.Payout != nil {
		cp := *s.Payout
		m.txs[cp.ID] = &cp
	}
	return m.applyDeltaLocked(s.Address, d)
}

// --- RoundStore ---

func (m *memStore) CreateRound(r domain.Round) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := r
	m.rounds[r.ID] = &cp
}

func (m *memStore) GetRoundByID(ctx context.Context, id string) (domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok {
		return domain.Round{}, domain.ErrNotFound
	}
	return *r, nil
}

func (m *memStore) GetActive(ctx context.Context, pair string, d domain.RoundDuration) (domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds {
		if r.Pair == pair && r.Duration == d && r.Status == domain.RoundActive {
			return *r, nil
		}
	}
	return domain.Round{}, domain.ErrNotFound
}

func (m *memStore) List(ctx context.Context, f domain.RoundFilter, opts domain.ListOpts) ([]domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Round
	for _, r := range m.rounds {
		if f.Pair != "" && r.Pair != f.Pair {
			continue
		}
		if f.Duration != 0 && r.Duration != f.Duration {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenAt.After(out[j].OpenAt) })
	return out, nil
}

func (m *memStore) ListByStatus(ctx context.Context, status domain.RoundStatus) ([]domain.Round, error) {
	return m.List(ctx, domain.RoundFilter{Status: status}, domain.ListOpts{})
}

func (m *memStore) Transition(ctx context.Context, id string, from, to domain.RoundStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (m *memStore) Lock(ctx context.Context, id string, startPrice decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok || r.Status != domain.RoundActive {
		return false, nil
	}
	r.Status = domain.RoundLocked
	r.StartPrice = startPrice
	return true, nil
}

func (m *memStore) Resolve(ctx context.Context, id string, price decimal.Decimal, out domain.Outcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[id]
	if !ok || r.Status != domain.RoundLocked {
		return false, nil
	}
	r.Status = domain.RoundResolved
	r.ResolvePrice = price
	r.Outcome = out
	return true, nil
}

func (m *memStore) ListEntries(ctx context.Context, roundID string) ([]domain.RoundEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RoundEntry
	for _, e := range m.entries[roundID] {
		out = append(out, *e)
	}
	return out, nil
}

func (m *memStore) AddSnapshot(ctx context.Context, s domain.PriceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.RoundID] = append(m.snapshots[s.RoundID], s)
	return nil
}

func (m *memStore) ListSnapshots(ctx context.Context, roundID string) ([]domain.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PriceSnapshot(nil), m.snapshots[roundID]...), nil
}

func (m *memStore) OpenPoolQu(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, r := range m.rounds {
		if r.Status != domain.RoundSettled {
			sum += r.UpPoolQu + r.DownPoolQu
		}
	}
	return sum, nil
}

func (m *memStore) ListSettledBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Round
	for _, r := range m.rounds {
		if r.Status == domain.RoundSettled && r.CloseAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	return out, nil
}

// --- StatusStore / HouseStore backing ---

func (m *memStore) ApplyHouse(ctx context.Context, d domain.HouseDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.house.FeesQu += d.FeesQu
	m.house.PayoutsQu += d.PayoutsQu
	m.house.RefundsQu += d.RefundsQu
	m.house.WageredQu += d.WageredQu
	m.house.RoundsSettled += d.RoundsSettled
	m.house.MarketsResolved += d.MarketsResolved
	return nil
}

func (m *memStore) GetHouse(ctx context.Context) (domain.HouseBank, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.house, nil
}

func (m *memStore) SetStatus(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[key] = value
	return nil
}

func (m *memStore) GetStatus(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.status[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *memStore) StorageSizeBytes(ctx context.Context) (int64, error) {
	return 1 << 20, nil
}

// roundStoreView adapts memStore to domain.RoundStore (Create/GetByID clash
// with the account methods, so rounds get their own view type).
type roundStoreView struct{ *memStore }

func (v roundStoreView) Create(ctx context.Context, r domain.Round) error {
	v.CreateRound(r)
	return nil
}

func (v roundStoreView) GetByID(ctx context.Context, id string) (domain.Round, error) {
	return v.GetRoundByID(ctx, id)
}

// marketStoreView adapts memStore to domain.MarketStore.
type marketStoreView struct{ *memStore }

func (v marketStoreView) Create(ctx context.Context, mk domain.Market) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := mk
	v.markets[mk.ID] = &cp
	return nil
}

func (v marketStoreView) GetByID(ctx context.Context, id string) (domain.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	mk, ok := v.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return *mk, nil
}

func (v marketStoreView) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Market
	for _, mk := range v.markets {
		if status != "" && mk.Status != status {
			continue
		}
		out = append(out, *mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (v marketStoreView) Transition(ctx context.Context, id string, from, to domain.MarketStatus) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	mk, ok := v.markets[id]
	if !ok || mk.Status != from {
		return false, nil
	}
	mk.Status = to
	return true, nil
}

func (v marketStoreView) Resolve(ctx context.Context, id string, from domain.MarketStatus, option int) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	mk, ok := v.markets[id]
	if !ok || mk.Status != from {
		return false, nil
	}
	mk.Status = domain.MarketResolved
	mk.ResolvedOption = option
	return true, nil
}

func (v marketStoreView) ListClosingSoon(ctx context.Context, now time.Time, window time.Duration) ([]domain.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Market
	for _, mk := range v.markets {
		if mk.Status == domain.MarketOpen && mk.CloseAt.After(now) && !mk.CloseAt.After(now.Add(window)) {
			out = append(out, *mk)
		}
	}
	return out, nil
}

func (v marketStoreView) ListResolvingSoon(ctx context.Context, now time.Time, window time.Duration) ([]domain.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Market
	for _, mk := range v.markets {
		if mk.Status == domain.MarketClosed && mk.ResolveAt.After(now) && !mk.ResolveAt.After(now.Add(window)) {
			out = append(out, *mk)
		}
	}
	return out, nil
}

func (v marketStoreView) ListCloseDue(ctx context.Context, now time.Time) ([]domain.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Market
	for _, mk := range v.markets {
		if (mk.Status == domain.MarketOpen || mk.Status == domain.MarketClosingSoon) && !mk.CloseAt.After(now) {
			out = append(out, *mk)
		}
	}
	return out, nil
}

func (v marketStoreView) ListResolveDue(ctx context.Context, now time.Time) ([]domain.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Market
	for _, mk := range v.markets {
		if (mk.Status == domain.MarketClosed || mk.Status == domain.MarketResolvingSoon) && !mk.ResolveAt.After(now) {
			out = append(out, *mk)
		}
	}
	return out, nil
}

func (v marketStoreView) StatusCounts(ctx context.Context) (map[domain.MarketStatus]int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[domain.MarketStatus]int64)
	for _, mk := range v.markets {
		out[mk.Status]++
	}
	return out, nil
}

func (v marketStoreView) ListEscrows(ctx context.Context, marketID string) ([]domain.Escrow, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Escrow
	for _, e := range v.escrows[marketID] {
		out = append(out, *e)
	}
	return out, nil
}

func (v marketStoreView) EscrowStatusCounts(ctx context.Context) (map[domain.EscrowStatus]int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[domain.EscrowStatus]int64)
	for _, list := range v.escrows {
		for _, e := range list {
			out[e.Status]++
		}
	}
	return out, nil
}

func (v marketStoreView) HeldEscrowQu(ctx context.Context) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var sum int64
	for _, list := range v.escrows {
		for _, e := range list {
			if e.Status == domain.EscrowHeld {
				sum += e.AmountQu
			}
		}
	}
	return sum, nil
}

func (v marketStoreView) ListTerminalBefore(ctx context.Context, cutoff time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.Market
	for _, mk := range v.markets {
		if mk.Status.Terminal() && mk.ResolveAt.Before(cutoff) {
			out = append(out, *mk)
		}
	}
	return out, nil
}

// houseStoreView adapts memStore to domain.HouseStore.
type houseStoreView struct{ *memStore }

func (v houseStoreView) Apply(ctx context.Context, d domain.HouseDelta) error {
	return v.ApplyHouse(ctx, d)
}

func (v houseStoreView) Get(ctx context.Context) (domain.HouseBank, error) {
	return v.GetHouse(ctx)
}

// statusStoreView adapts memStore to domain.StatusStore.
type statusStoreView struct{ *memStore }

func (v statusStoreView) Set(ctx context.Context, key, value string) error {
	return v.SetStatus(ctx, key, value)
}

func (v statusStoreView) Get(ctx context.Context, key string) (string, error) {
	return v.GetStatus(ctx, key)
}

// fakeChain is a scriptable TransferSource, PriceSource, and TickSource.
type fakeChain struct {
	mu        sync.Mutex
	transfers map[string]qubic.TransferInfo
	prices    map[string]decimal.Decimal
	priceErr  error
	castErr   error
	casts     []string
	tick      qubic.TickInfo
	tickErr   error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		transfers: make(map[string]qubic.TransferInfo),
		prices:    make(map[string]decimal.Decimal),
	}
}

func (f *fakeChain) LookupTransfer(ctx context.Context, txHash string) (qubic.TransferInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transfers[txHash]
	if !ok {
		return qubic.TransferInfo{}, domain.ErrNotFound
	}
	return t, nil
}

func (f *fakeChain) BroadcastTransfer(ctx context.Context, dest string, amountQu int64, ref string) (qubic.BroadcastResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.castErr != nil {
		return qubic.BroadcastResult{}, f.castErr
	}
	f.casts = append(f.casts, ref)
	return qubic.BroadcastResult{TxHash: "cast-" + ref}, nil
}

func (f *fakeChain) CurrentPrice(ctx context.Context, pair string) (qubic.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.priceErr != nil {
		return qubic.PricePoint{}, f.priceErr
	}
	p, ok := f.prices[pair]
	if !ok {
		return qubic.PricePoint{}, domain.ErrNotFound
	}
	return qubic.PricePoint{Pair: pair, Price: p, Timestamp: time.Now().UTC()}, nil
}

func (f *fakeChain) TickInfo(ctx context.Context) (qubic.TickInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickErr != nil {
		return qubic.TickInfo{}, f.tickErr
	}
	return f.tick, nil
}

// fakePriceCache is an in-memory domain.PriceCache.
type fakePriceCache struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	times  map[string]time.Time
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{
		prices: make(map[string]decimal.Decimal),
		times:  make(map[string]time.Time),
	}
}

func (f *fakePriceCache) SetPrice(ctx context.Context, pair string, price decimal.Decimal, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[pair] = price
	f.times[pair] = ts
	return nil
}

func (f *fakePriceCache) GetPrice(ctx context.Context, pair string) (decimal.Decimal, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[pair]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p, f.times[pair], nil
}

// testAddress builds a valid 60-char uppercase address from a short tag.
func testAddress(tag string) string {
	base := strings.ToUpper(tag)
	filtered := make([]rune, 0, len(base))
	for _, r := range base {
		if r >= 'A' && r <= 'Z' {
			filtered = append(filtered, r)
		}
	}
	s := string(filtered)
	for len(s) < 60 {
		s += "X"
	}
	return s[:60]
}
