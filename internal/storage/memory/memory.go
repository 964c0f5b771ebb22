// internal/storage/memory/memory.go
package memory

import (
	"cashledger/internal/domain"
	"cashledger/internal/storage"
	"context"
	"sort"
	"sync"
	"time"
)

// Store is a mutex-guarded in-memory implementation of storage.Store. It
// backs tests and DATABASE_URL-less runs; semantics mirror the postgres
// implementation, including ErrConflict on duplicate cycle creation.
type Store struct {
	mu sync.RWMutex

	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	cycles       map[string]domain.Cycle
	// cycleByTag indexes cycle IDs by accountID + "\x00" + tag, standing in
	// for the unique constraint on (account_id, cycle_tag).
	cycleByTag map[string]string
	entries    map[string]domain.CashbackEntry // keyed by accountID+"\x00"+transactionID
}

func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string]domain.Transaction),
		cycles:       make(map[string]domain.Cycle),
		cycleByTag:   make(map[string]string),
		entries:      make(map[string]domain.CashbackEntry),
	}
}

func tagKey(accountID, tag string) string { return accountID + "\x00" + tag }

// === AccountStorage ===

func (s *Store) CreateAccount(_ context.Context, acc domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[acc.ID]; exists {
		return storage.ErrConflict
	}
	s.accounts[acc.ID] = acc
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acc, ok := s.accounts[id]; ok {
		return &acc, nil
	}
	return nil, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]domain.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		accounts = append(accounts, acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].CreatedAt.Before(accounts[j].CreatedAt) })
	return accounts, nil
}

// === TransactionStorage ===

func (s *Store) UpsertTransaction(_ context.Context, txn domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[txn.ID] = txn
	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if txn, ok := s.transactions[id]; ok {
		return &txn, nil
	}
	return nil, nil
}

func (s *Store) ListCycleTransactions(_ context.Context, accountID, cycleTag string, types []domain.TransactionType) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[domain.TransactionType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}
	var txns []domain.Transaction
	for _, txn := range s.transactions {
		if txn.AccountID != accountID || txn.CycleTag != cycleTag || txn.Voided {
			continue
		}
		if _, ok := wanted[txn.Type]; !ok {
			continue
		}
		txns = append(txns, txn)
	}
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].OccurredAt.Equal(txns[j].OccurredAt) {
			return txns[i].ID < txns[j].ID
		}
		return txns[i].OccurredAt.Before(txns[j].OccurredAt)
	})
	return txns, nil
}

func (s *Store) VoidTransaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.transactions[id]
	if !ok {
		return storage.ErrNotFound
	}
	txn.Voided = true
	s.transactions[id] = txn
	return nil
}

// === CycleStorage ===

func (s *Store) CreateCycle(_ context.Context, c domain.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tagKey(c.AccountID, c.CycleTag)
	if _, exists := s.cycleByTag[key]; exists {
		return storage.ErrConflict
	}
	if _, exists := s.cycles[c.ID]; exists {
		return storage.ErrConflict
	}
	s.cycles[c.ID] = c
	s.cycleByTag[key] = c.ID
	return nil
}

func (s *Store) GetCycle(_ context.Context, id string) (*domain.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.cycles[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (s *Store) GetCycleByTag(_ context.Context, accountID, tag string) (*domain.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.cycleByTag[tagKey(accountID, tag)]; ok {
		c := s.cycles[id]
		return &c, nil
	}
	return nil, nil
}

func (s *Store) ListCycles(_ context.Context, accountID string) ([]domain.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cycles []domain.Cycle
	for _, c := range s.cycles {
		if c.AccountID == accountID {
			cycles = append(cycles, c)
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i].CycleTag > cycles[j].CycleTag })
	return cycles, nil
}

func (s *Store) UpdateCycleAggregates(_ context.Context, c domain.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cycles[c.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.SpentAmount = c.SpentAmount
	existing.RealAwarded = c.RealAwarded
	existing.VirtualProfit = c.VirtualProfit
	existing.OverflowLoss = c.OverflowLoss
	existing.IsExhausted = c.IsExhausted
	existing.MetMinSpend = c.MetMinSpend
	existing.UpdatedAt = time.Now()
	s.cycles[c.ID] = existing
	return nil
}

// === EntryStorage ===

func (s *Store) UpsertEntry(_ context.Context, e domain.CashbackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tagKey(e.AccountID, e.TransactionID)
	if existing, ok := s.entries[key]; ok {
		e.ID = existing.ID // the unique key wins over the provided ID, as ON CONFLICT does
	}
	e.UpdatedAt = time.Now()
	s.entries[key] = e
	return nil
}

func (s *Store) ListEntriesByCycle(_ context.Context, cycleID string) ([]domain.CashbackEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []domain.CashbackEntry
	for _, e := range s.entries {
		if e.CycleID == cycleID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TransactionID < entries[j].TransactionID })
	return entries, nil
}

func (s *Store) GetEntryByTransaction(_ context.Context, transactionID string) (*domain.CashbackEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Store) DeleteEntriesByTransaction(_ context.Context, transactionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cycleIDs []string
	for key, e := range s.entries {
		if e.TransactionID == transactionID {
			cycleIDs = append(cycleIDs, e.CycleID)
			delete(s.entries, key)
		}
	}
	return cycleIDs, nil
}
