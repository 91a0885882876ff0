package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"villagepay.org/internal/apperr"
	"villagepay.org/internal/billing"
	"villagepay.org/internal/ledger"
)

// InMemory implements Store with per-key locks and optimistic version checks at commit.
type InMemory struct {
	locks *keyLocks

	mu            sync.RWMutex
	statements    map[string]billing.Statement
	periods       map[string]string // property/period -> statement id, non-archived only
	txs           map[string]billing.Transaction
	txOrder       []string
	wallets       map[string]ledger.Wallet
	walletByOwner map[string]string
	entries       map[string][]ledger.Entry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		locks:         newKeyLocks(),
		statements:    make(map[string]billing.Statement),
		periods:       make(map[string]string),
		txs:           make(map[string]billing.Transaction),
		wallets:       make(map[string]ledger.Wallet),
		walletByOwner: make(map[string]string),
		entries:       make(map[string][]ledger.Entry),
	}
}

func periodIndex(propertyID, key string) string { return propertyID + "/" + key }

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", apperr.ErrNotFound, kind, id)
}

func (s *InMemory) Ping(context.Context) error { return nil }

func (s *InMemory) GetStatement(_ context.Context, id string) (billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statements[id]
	if !ok {
		return billing.Statement{}, notFound("statement", id)
	}
	return cloneStatement(st), nil
}

func (s *InMemory) ListStatements(_ context.Context, propertyID string) ([]billing.Statement, error) {
	s.mu.RLock()
	var out []billing.Statement
	for _, st := range s.statements {
		if st.PropertyID == propertyID {
			out = append(out, cloneStatement(st))
		}
	}
	s.mu.RUnlock()
	SortStatements(out)
	return out, nil
}

func (s *InMemory) GetTransaction(_ context.Context, id string) (billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok {
		return billing.Transaction{}, notFound("transaction", id)
	}
	return tx, nil
}

func (s *InMemory) ListTransactions(_ context.Context, f TxFilter) ([]billing.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.Transaction
	for _, id := range s.txOrder {
		if tx := s.txs[id]; f.Match(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *InMemory) GetWallet(_ context.Context, id string) (ledger.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return ledger.Wallet{}, notFound("wallet", id)
	}
	return w, nil
}

func (s *InMemory) WalletByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	s.mu.RLock()
	id, ok := s.walletByOwner[ownerID]
	s.mu.RUnlock()
	if !ok {
		return ledger.Wallet{}, notFound("wallet for owner", ownerID)
	}
	return s.GetWallet(ctx, id)
}

func (s *InMemory) ListEntries(_ context.Context, walletID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.wallets[walletID]; !ok {
		return nil, notFound("wallet", walletID)
	}
	return append([]ledger.Entry(nil), s.entries[walletID]...), nil
}

// Atomically stages fn's writes and applies them only if nothing it read or
// replaces changed since.
func (s *InMemory) Atomically(ctx context.Context, keys []string, fn func(Tx) error) error {
	release, err := s.locks.acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{
		s:          s,
		statements: make(map[string]billing.Statement),
		txs:        make(map[string]billing.Transaction),
		wallets:    make(map[string]ledger.Wallet),
		readStmt:   make(map[string]int64),
		readTx:     make(map[string]billing.TransactionStatus),
		readWallet: make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *InMemory) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, v := range tx.readStmt {
		if cur, ok := s.statements[id]; ok && cur.Version != v {
			return fmt.Errorf("%w: statement %s changed", apperr.ErrConflict, id)
		}
	}
	for id, status := range tx.readTx {
		if cur, ok := s.txs[id]; ok && cur.Status != status {
			return fmt.Errorf("%w: transaction %s changed", apperr.ErrConflict, id)
		}
	}
	for id, v := range tx.readWallet {
		if cur, ok := s.wallets[id]; ok && cur.Version != v {
			return fmt.Errorf("%w: wallet %s changed", apperr.ErrConflict, id)
		}
	}
	for _, id := range tx.newStmts {
		st := tx.statements[id]
		if _, ok := s.statements[id]; ok {
			return fmt.Errorf("%w: statement %s exists", apperr.ErrConflict, id)
		}
		if _, ok := s.periods[periodIndex(st.PropertyID, st.Period.Key())]; ok {
			return fmt.Errorf("%w: statement for %s %s exists", apperr.ErrConflict, st.PropertyID, st.Period.Key())
		}
	}
	for _, id := range tx.newWallets {
		w := tx.wallets[id]
		if _, ok := s.wallets[id]; ok {
			return fmt.Errorf("%w: wallet %s exists", apperr.ErrConflict, id)
		}
		if _, ok := s.walletByOwner[w.OwnerID]; ok && w.OwnerID != "" {
			return fmt.Errorf("%w: wallet for owner %s exists", apperr.ErrConflict, w.OwnerID)
		}
	}

	for id, st := range tx.statements {
		s.statements[id] = st
		idx := periodIndex(st.PropertyID, st.Period.Key())
		if st.Archived() {
			if s.periods[idx] == id {
				delete(s.periods, idx)
			}
		} else {
			s.periods[idx] = id
		}
	}
	for id, t := range tx.txs {
		s.txs[id] = t
	}
	s.txOrder = append(s.txOrder, tx.newTxs...)
	for id, w := range tx.wallets {
		s.wallets[id] = w
		if w.OwnerID != "" {
			s.walletByOwner[w.OwnerID] = id
		}
	}
	for _, e := range tx.entries {
		s.entries[e.WalletID] = append(s.entries[e.WalletID], e)
	}
	return nil
}

// memTx overlays staged writes on the committed maps.
type memTx struct {
	s *InMemory

	statements map[string]billing.Statement
	newStmts   []string
	txs        map[string]billing.Transaction
	newTxs     []string
	wallets    map[string]ledger.Wallet
	newWallets []string
	entries    []ledger.Entry

	readStmt   map[string]int64
	readTx     map[string]billing.TransactionStatus
	readWallet map[string]int64
}

func (t *memTx) Statement(_ context.Context, id string) (billing.Statement, error) {
	if st, ok := t.statements[id]; ok {
		return cloneStatement(st), nil
	}
	t.s.mu.RLock()
	st, ok := t.s.statements[id]
	t.s.mu.RUnlock()
	if !ok {
		return billing.Statement{}, notFound("statement", id)
	}
	if _, seen := t.readStmt[id]; !seen {
		t.readStmt[id] = st.Version
	}
	return cloneStatement(st), nil
}

func (t *memTx) StatementForPeriod(ctx context.Context, propertyID, periodKey string) (billing.Statement, error) {
	for _, st := range t.statements {
		if st.PropertyID == propertyID && st.Period.Key() == periodKey && !st.Archived() {
			return cloneStatement(st), nil
		}
	}
	t.s.mu.RLock()
	id, ok := t.s.periods[periodIndex(propertyID, periodKey)]
	t.s.mu.RUnlock()
	if !ok {
		return billing.Statement{}, notFound("statement for period", periodKey)
	}
	st, err := t.Statement(ctx, id)
	if err != nil {
		return billing.Statement{}, err
	}
	if st.Archived() {
		return billing.Statement{}, notFound("statement for period", periodKey)
	}
	return st, nil
}

func (t *memTx) StatementTransactions(_ context.Context, statementID string) ([]billing.Transaction, error) {
	t.s.mu.RLock()
	var out []billing.Transaction
	for _, id := range t.s.txOrder {
		tx := t.s.txs[id]
		if tx.StatementID != statementID {
			continue
		}
		if staged, ok := t.txs[id]; ok {
			tx = staged
		}
		out = append(out, tx)
	}
	t.s.mu.RUnlock()
	for _, id := range t.newTxs {
		if tx := t.txs[id]; tx.StatementID == statementID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (t *memTx) Transaction(_ context.Context, id string) (billing.Transaction, error) {
	if tx, ok := t.txs[id]; ok {
		return tx, nil
	}
	t.s.mu.RLock()
	tx, ok := t.s.txs[id]
	t.s.mu.RUnlock()
	if !ok {
		return billing.Transaction{}, notFound("transaction", id)
	}
	if _, seen := t.readTx[id]; !seen {
		t.readTx[id] = tx.Status
	}
	return tx, nil
}

func (t *memTx) Wallet(_ context.Context, id string) (ledger.Wallet, error) {
	if w, ok := t.wallets[id]; ok {
		return w, nil
	}
	t.s.mu.RLock()
	w, ok := t.s.wallets[id]
	t.s.mu.RUnlock()
	if !ok {
		return ledger.Wallet{}, notFound("wallet", id)
	}
	if _, seen := t.readWallet[id]; !seen {
		t.readWallet[id] = w.Version
	}
	return w, nil
}

func (t *memTx) WalletByOwner(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	for _, w := range t.wallets {
		if w.OwnerID == ownerID && ownerID != "" {
			return w, nil
		}
	}
	t.s.mu.RLock()
	id, ok := t.s.walletByOwner[ownerID]
	t.s.mu.RUnlock()
	if !ok {
		return ledger.Wallet{}, notFound("wallet for owner", ownerID)
	}
	return t.Wallet(ctx, id)
}

func (t *memTx) InsertStatement(_ context.Context, st billing.Statement) error {
	if _, ok := t.statements[st.ID]; ok {
		return fmt.Errorf("%w: statement %s exists", apperr.ErrConflict, st.ID)
	}
	t.statements[st.ID] = cloneStatement(st)
	t.newStmts = append(t.newStmts, st.ID)
	return nil
}

func (t *memTx) UpdateStatement(ctx context.Context, st billing.Statement) error {
	cur, err := t.Statement(ctx, st.ID)
	if err != nil {
		return err
	}
	if cur.Version != st.Version-1 {
		return fmt.Errorf("%w: statement %s at version %d, update expects %d", apperr.ErrConflict, st.ID, cur.Version, st.Version-1)
	}
	t.statements[st.ID] = cloneStatement(st)
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tx billing.Transaction) error {
	if _, ok := t.txs[tx.ID]; ok {
		return fmt.Errorf("%w: transaction %s exists", apperr.ErrConflict, tx.ID)
	}
	t.txs[tx.ID] = tx
	t.newTxs = append(t.newTxs, tx.ID)
	return nil
}

func (t *memTx) UpdateTransaction(ctx context.Context, tx billing.Transaction) error {
	cur, err := t.Transaction(ctx, tx.ID)
	if err != nil {
		return err
	}
	if !cur.Amount.Equal(tx.Amount) {
		return fmt.Errorf("%w: transaction amount is immutable", apperr.ErrValidation)
	}
	t.txs[tx.ID] = tx
	return nil
}

func (t *memTx) InsertWallet(_ context.Context, w ledger.Wallet) error {
	if _, ok := t.wallets[w.ID]; ok {
		return fmt.Errorf("%w: wallet %s exists", apperr.ErrConflict, w.ID)
	}
	t.wallets[w.ID] = w
	t.newWallets = append(t.newWallets, w.ID)
	return nil
}

func (t *memTx) UpdateWallet(ctx context.Context, w ledger.Wallet) error {
	cur, err := t.Wallet(ctx, w.ID)
	if err != nil {
		return err
	}
	if cur.Version != w.Version-1 {
		return fmt.Errorf("%w: wallet %s at version %d, update expects %d", apperr.ErrConflict, w.ID, cur.Version, w.Version-1)
	}
	t.wallets[w.ID] = w
	return nil
}

func (t *memTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	if _, err := t.Wallet(ctx, e.WalletID); err != nil {
		return err
	}
	t.entries = append(t.entries, e)
	return nil
}

func cloneStatement(st billing.Statement) billing.Statement {
	if st.OtherCharges != nil {
		st.OtherCharges = append([]billing.OtherCharge(nil), st.OtherCharges...)
	}
	if st.ArchivedAt != nil {
		at := *st.ArchivedAt
		st.ArchivedAt = &at
	}
	return st
}

// keyLocks hands out one context-aware mutex per key.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire locks keys in sorted order. It gives up when ctx ends.
func (k *keyLocks) acquire(ctx context.Context, keys []string) (func(), error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	uniq := sorted[:0]
	for i, key := range sorted {
		if i == 0 || key != sorted[i-1] {
			uniq = append(uniq, key)
		}
	}

	var held []string
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.unlock(held[i])
		}
	}
	for _, key := range uniq {
		l := k.ref(key)
		select {
		case l.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			k.unref(key)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (k *keyLocks) ref(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l := k.locks[key]; l != nil {
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
}

func (k *keyLocks) unlock(key string) {
	k.mu.Lock()
	l := k.locks[key]
	k.mu.Unlock()
	<-l.ch
	k.unref(key)
}
