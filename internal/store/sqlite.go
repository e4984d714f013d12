package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"shadowdesk/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RefStore = (*SQLiteStore)(nil)
var _ QuoteStore = (*SQLiteStore)(nil)
var _ AccountStore = (*SQLiteStore)(nil)
var _ DocStore = (*SQLiteStore)(nil)
var _ TradeStore = (*SQLiteStore)(nil)
var _ PnLStore = (*SQLiteStore)(nil)

// SQLiteStore implements every relational store interface backed by a single
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS stocks (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ticker    TEXT NOT NULL UNIQUE,
	name      TEXT NOT NULL DEFAULT '',
	isin      TEXT NOT NULL DEFAULT '',
	is_index  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS futures (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	stock_id  INTEGER NOT NULL REFERENCES stocks(id),
	expiry    TEXT NOT NULL,
	lot_size  INTEGER NOT NULL,
	UNIQUE (stock_id, expiry)
);

CREATE TABLE IF NOT EXISTS instruments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol     TEXT NOT NULL UNIQUE,
	stock_id   INTEGER NOT NULL REFERENCES stocks(id),
	future_id  INTEGER REFERENCES futures(id)
);

CREATE TABLE IF NOT EXISTS stock_groups (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	name  TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS stock_group_members (
	group_id  INTEGER NOT NULL REFERENCES stock_groups(id),
	stock_id  INTEGER NOT NULL REFERENCES stocks(id),
	PRIMARY KEY (group_id, stock_id)
);

CREATE TABLE IF NOT EXISTS accounts (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL UNIQUE,
	start_date         TEXT NOT NULL DEFAULT '',
	kill_switch_long   INTEGER NOT NULL DEFAULT 0,
	kill_switch_short  INTEGER NOT NULL DEFAULT 0,
	long_index_exit    INTEGER NOT NULL DEFAULT 0,
	short_index_exit   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id  INTEGER NOT NULL REFERENCES accounts(id),
	algo        TEXT NOT NULL,
	is_hedge    INTEGER NOT NULL DEFAULT 0,
	active      INTEGER NOT NULL DEFAULT 1,
	start_date  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS investments (
	subscription_id  INTEGER PRIMARY KEY REFERENCES subscriptions(id),
	amount           REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS subscription_docs (
	subscription_id  INTEGER NOT NULL REFERENCES subscriptions(id),
	key              TEXT NOT NULL,
	value            TEXT NOT NULL,
	updated_at       TEXT NOT NULL,
	PRIMARY KEY (subscription_id, key)
);

CREATE TABLE IF NOT EXISTS ltp (
	instrument_id  INTEGER PRIMARY KEY REFERENCES instruments(id),
	price          REAL NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id               TEXT PRIMARY KEY,
	subscription_id  INTEGER NOT NULL REFERENCES subscriptions(id),
	instrument_id    INTEGER NOT NULL REFERENCES instruments(id),
	ts               TEXT NOT NULL,
	side             TEXT NOT NULL,
	qty              INTEGER NOT NULL,
	price            REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id               TEXT PRIMARY KEY,
	subscription_id  INTEGER NOT NULL REFERENCES subscriptions(id),
	instrument_id    INTEGER NOT NULL REFERENCES instruments(id),
	qty              INTEGER NOT NULL,
	side             TEXT NOT NULL,
	buy_price        REAL,
	sell_price       REAL,
	eod_price        REAL,
	charges          REAL NOT NULL DEFAULT 0,
	pnl              REAL NOT NULL DEFAULT 0,
	active           INTEGER NOT NULL DEFAULT 1,
	reversal         INTEGER NOT NULL DEFAULT 0,
	opened_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_sub_active ON positions (subscription_id, active);

CREATE TABLE IF NOT EXISTS trade_exits (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_trade_id  TEXT NOT NULL,
	exit_trade_id   TEXT NOT NULL DEFAULT '',
	position_id     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pnl (
	account_id      INTEGER NOT NULL REFERENCES accounts(id),
	day             TEXT NOT NULL,
	investment      REAL NOT NULL,
	unrealised_pnl  REAL NOT NULL,
	realised_pnl    REAL NOT NULL,
	PRIMARY KEY (account_id, day)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const dayFormat = "2006-01-02"

// ---------------------------------------------------------------------------
// RefStore implementation
// ---------------------------------------------------------------------------

// UpsertStock inserts or updates a stock keyed by ticker, filling the ID.
func (s *SQLiteStore) UpsertStock(ctx context.Context, st *domain.Stock) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stocks (ticker, name, isin, is_index) VALUES (?, ?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET name = excluded.name, isin = excluded.isin, is_index = excluded.is_index`,
		st.Ticker, st.Name, st.ISIN, st.IsIndex)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `SELECT id FROM stocks WHERE ticker = ?`, st.Ticker).Scan(&st.ID)
}

// GetStockByTicker retrieves a stock by its exchange ticker.
func (s *SQLiteStore) GetStockByTicker(ctx context.Context, ticker string) (*domain.Stock, error) {
	st := &domain.Stock{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, ticker, name, isin, is_index FROM stocks WHERE ticker = ?`, ticker).
		Scan(&st.ID, &st.Ticker, &st.Name, &st.ISIN, &st.IsIndex)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// UpsertFuture inserts or updates a contract keyed by (stock, expiry).
func (s *SQLiteStore) UpsertFuture(ctx context.Context, f *domain.Future) error {
	expiry := f.Expiry.Format(dayFormat)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO futures (stock_id, expiry, lot_size) VALUES (?, ?, ?)
		ON CONFLICT (stock_id, expiry) DO UPDATE SET lot_size = excluded.lot_size`,
		f.StockID, expiry, f.LotSize)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx,
		`SELECT id FROM futures WHERE stock_id = ? AND expiry = ?`, f.StockID, expiry).Scan(&f.ID)
}

// UpsertInstrument inserts or updates an instrument keyed by symbol.
func (s *SQLiteStore) UpsertInstrument(ctx context.Context, inst *domain.Instrument) error {
	if inst.Stock == nil {
		return fmt.Errorf("instrument %q has no underlying stock", inst.Symbol)
	}
	var futureID any
	if inst.Future != nil {
		futureID = inst.Future.ID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruments (symbol, stock_id, future_id) VALUES (?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET stock_id = excluded.stock_id, future_id = excluded.future_id`,
		inst.Symbol, inst.Stock.ID, futureID)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `SELECT id FROM instruments WHERE symbol = ?`, inst.Symbol).Scan(&inst.ID)
}

// GetInstrument retrieves an instrument with its stock and future.
func (s *SQLiteStore) GetInstrument(ctx context.Context, id int64) (*domain.Instrument, error) {
	return s.scanInstrument(s.db.QueryRowContext(ctx, instrumentQuery+` WHERE i.id = ?`, id))
}

// InstrumentBySymbol retrieves an instrument by its trading symbol.
func (s *SQLiteStore) InstrumentBySymbol(ctx context.Context, symbol string) (*domain.Instrument, error) {
	return s.scanInstrument(s.db.QueryRowContext(ctx, instrumentQuery+` WHERE i.symbol = ?`, symbol))
}

// FutureInstrument returns the instrument for the contract on stockID
// expiring at expiry.
func (s *SQLiteStore) FutureInstrument(ctx context.Context, stockID int64, expiry time.Time) (*domain.Instrument, error) {
	return s.scanInstrument(s.db.QueryRowContext(ctx,
		instrumentQuery+` WHERE f.stock_id = ? AND f.expiry = ?`,
		stockID, expiry.Format(dayFormat)))
}

// FrontInstrument returns the instrument for the nearest contract on
// stockID expiring strictly after the given day.
func (s *SQLiteStore) FrontInstrument(ctx context.Context, stockID int64, after time.Time) (*domain.Instrument, error) {
	return s.scanInstrument(s.db.QueryRowContext(ctx,
		instrumentQuery+` WHERE f.stock_id = ? AND f.expiry > ? ORDER BY f.expiry ASC LIMIT 1`,
		stockID, after.Format(dayFormat)))
}

// NextFutureInstrument returns the instrument for the earliest contract on
// the same underlying expiring strictly after the given instrument's
// contract.
func (s *SQLiteStore) NextFutureInstrument(ctx context.Context, instrumentID int64) (*domain.Instrument, error) {
	cur, err := s.GetInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	if cur.Future == nil {
		return nil, fmt.Errorf("instrument %d is not a futures contract", instrumentID)
	}
	return s.scanInstrument(s.db.QueryRowContext(ctx,
		instrumentQuery+` WHERE f.stock_id = ? AND f.expiry > ? ORDER BY f.expiry ASC LIMIT 1`,
		cur.Future.StockID, cur.Future.Expiry.Format(dayFormat)))
}

const instrumentQuery = `
	SELECT i.id, i.symbol,
	       s.id, s.ticker, s.name, s.isin, s.is_index,
	       f.id, f.stock_id, f.expiry, f.lot_size
	FROM instruments i
	JOIN stocks s ON s.id = i.stock_id
	LEFT JOIN futures f ON f.id = i.future_id`

func (s *SQLiteStore) scanInstrument(row *sql.Row) (*domain.Instrument, error) {
	var (
		inst   domain.Instrument
		stock  domain.Stock
		fid    sql.NullInt64
		fstock sql.NullInt64
		fexp   sql.NullString
		flot   sql.NullInt64
	)
	err := row.Scan(&inst.ID, &inst.Symbol,
		&stock.ID, &stock.Ticker, &stock.Name, &stock.ISIN, &stock.IsIndex,
		&fid, &fstock, &fexp, &flot)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inst.Stock = &stock
	if fid.Valid {
		expiry, err := time.Parse(dayFormat, fexp.String)
		if err != nil {
			return nil, fmt.Errorf("parsing expiry %q: %w", fexp.String, err)
		}
		inst.Future = &domain.Future{
			ID:      fid.Int64,
			StockID: fstock.Int64,
			Expiry:  expiry,
			LotSize: int(flot.Int64),
		}
	}
	return &inst, nil
}

// ReplaceGroup sets the membership of a named stock group.
func (s *SQLiteStore) ReplaceGroup(ctx context.Context, name string, stockIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	gid, err := groupID(ctx, tx, name)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_group_members WHERE group_id = ?`, gid); err != nil {
		return err
	}
	for _, sid := range stockIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO stock_group_members (group_id, stock_id) VALUES (?, ?)`, gid, sid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddToGroup adds members to a named group, creating it if needed.
func (s *SQLiteStore) AddToGroup(ctx context.Context, name string, stockIDs []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	gid, err := groupID(ctx, tx, name)
	if err != nil {
		return err
	}
	for _, sid := range stockIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO stock_group_members (group_id, stock_id) VALUES (?, ?)`, gid, sid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func groupID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO stock_groups (name) VALUES (?)`, name); err != nil {
		return 0, err
	}
	var gid int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM stock_groups WHERE name = ?`, name).Scan(&gid)
	return gid, err
}

// GroupMembers returns the stocks in the named group.
func (s *SQLiteStore) GroupMembers(ctx context.Context, name string) ([]domain.Stock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.ticker, s.name, s.isin, s.is_index
		FROM stocks s
		JOIN stock_group_members m ON m.stock_id = s.id
		JOIN stock_groups g ON g.id = m.group_id
		WHERE g.name = ?
		ORDER BY s.ticker`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stocks []domain.Stock
	for rows.Next() {
		var st domain.Stock
		if err := rows.Scan(&st.ID, &st.Ticker, &st.Name, &st.ISIN, &st.IsIndex); err != nil {
			return nil, err
		}
		stocks = append(stocks, st)
	}
	return stocks, rows.Err()
}

// ---------------------------------------------------------------------------
// QuoteStore implementation
// ---------------------------------------------------------------------------

// SaveQuotes upserts the latest price per instrument.
func (s *SQLiteStore) SaveQuotes(ctx context.Context, quotes []domain.Quote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range quotes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ltp (instrument_id, price, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (instrument_id) DO UPDATE SET price = excluded.price, updated_at = excluded.updated_at`,
			q.InstrumentID, q.Price, q.Timestamp.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LTP returns the last traded price for an instrument.
func (s *SQLiteStore) LTP(ctx context.Context, instrumentID int64) (float64, error) {
	var price float64
	err := s.db.QueryRowContext(ctx, `SELECT price FROM ltp WHERE instrument_id = ?`, instrumentID).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return price, err
}

// LTPs returns last traded prices for a set of instruments.
func (s *SQLiteStore) LTPs(ctx context.Context, instrumentIDs []int64) (map[int64]float64, error) {
	out := make(map[int64]float64, len(instrumentIDs))
	for _, id := range instrumentIDs {
		price, err := s.LTP(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = price
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// AccountStore implementation
// ---------------------------------------------------------------------------

// SaveAccount inserts or updates an account keyed by name, filling the ID.
func (s *SQLiteStore) SaveAccount(ctx context.Context, a *domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (name, start_date, kill_switch_long, kill_switch_short, long_index_exit, short_index_exit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET start_date = excluded.start_date`,
		a.Name, a.StartDate.Format(dayFormat),
		a.KillSwitchLong, a.KillSwitchShort, a.LongIndexExit, a.ShortIndexExit)
	if err != nil {
		return err
	}
	return s.db.QueryRowContext(ctx, `SELECT id FROM accounts WHERE name = ?`, a.Name).Scan(&a.ID)
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	a := &domain.Account{}
	var start string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, start_date, kill_switch_long, kill_switch_short, long_index_exit, short_index_exit
		FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &start, &a.KillSwitchLong, &a.KillSwitchShort, &a.LongIndexExit, &a.ShortIndexExit)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.StartDate, _ = time.Parse(dayFormat, start)
	return a, nil
}

// ListAccounts returns all accounts.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, start_date, kill_switch_long, kill_switch_short, long_index_exit, short_index_exit
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var start string
		if err := rows.Scan(&a.ID, &a.Name, &start, &a.KillSwitchLong, &a.KillSwitchShort, &a.LongIndexExit, &a.ShortIndexExit); err != nil {
			return nil, err
		}
		a.StartDate, _ = time.Parse(dayFormat, start)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetAccountFlags persists the circuit-breaker flags of an account.
func (s *SQLiteStore) SetAccountFlags(ctx context.Context, a *domain.Account) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET kill_switch_long = ?, kill_switch_short = ?, long_index_exit = ?, short_index_exit = ?
		WHERE id = ?`,
		a.KillSwitchLong, a.KillSwitchShort, a.LongIndexExit, a.ShortIndexExit, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSubscription inserts or updates a subscription, filling the ID on
// insert.
func (s *SQLiteStore) SaveSubscription(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO subscriptions (account_id, algo, is_hedge, active, start_date)
			VALUES (?, ?, ?, ?, ?)`,
			sub.AccountID, sub.Algo, sub.IsHedge, sub.Active, sub.StartDate.Format(dayFormat))
		if err != nil {
			return err
		}
		sub.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET account_id = ?, algo = ?, is_hedge = ?, active = ?, start_date = ?
		WHERE id = ?`,
		sub.AccountID, sub.Algo, sub.IsHedge, sub.Active, sub.StartDate.Format(dayFormat), sub.ID)
	return err
}

// GetSubscription retrieves a subscription by ID.
func (s *SQLiteStore) GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	var start string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, algo, is_hedge, active, start_date FROM subscriptions WHERE id = ?`, id).
		Scan(&sub.ID, &sub.AccountID, &sub.Algo, &sub.IsHedge, &sub.Active, &start)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.StartDate, _ = time.Parse(dayFormat, start)
	return sub, nil
}

// ListSubscriptions returns subscriptions, optionally only active ones.
func (s *SQLiteStore) ListSubscriptions(ctx context.Context, onlyActive bool) ([]domain.Subscription, error) {
	q := `SELECT id, account_id, algo, is_hedge, active, start_date FROM subscriptions`
	if onlyActive {
		q += ` WHERE active = 1`
	}
	return s.querySubscriptions(ctx, q+` ORDER BY id`)
}

// ListAccountSubscriptions returns an account's subscriptions.
func (s *SQLiteStore) ListAccountSubscriptions(ctx context.Context, accountID int64, onlyActive bool) ([]domain.Subscription, error) {
	q := `SELECT id, account_id, algo, is_hedge, active, start_date FROM subscriptions WHERE account_id = ?`
	if onlyActive {
		q += ` AND active = 1`
	}
	return s.querySubscriptions(ctx, q+` ORDER BY id`, accountID)
}

func (s *SQLiteStore) querySubscriptions(ctx context.Context, q string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		var start string
		if err := rows.Scan(&sub.ID, &sub.AccountID, &sub.Algo, &sub.IsHedge, &sub.Active, &start); err != nil {
			return nil, err
		}
		sub.StartDate, _ = time.Parse(dayFormat, start)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SetInvestment records the capital allocated to a subscription.
func (s *SQLiteStore) SetInvestment(ctx context.Context, subscriptionID int64, amount float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO investments (subscription_id, amount) VALUES (?, ?)
		ON CONFLICT (subscription_id) DO UPDATE SET amount = excluded.amount`,
		subscriptionID, amount)
	return err
}

// Investment returns the capital allocated to a subscription.
func (s *SQLiteStore) Investment(ctx context.Context, subscriptionID int64) (float64, error) {
	var amount float64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM investments WHERE subscription_id = ?`, subscriptionID).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return amount, err
}

// ---------------------------------------------------------------------------
// DocStore implementation
// ---------------------------------------------------------------------------

// GetDoc returns the raw document, or ErrNotFound.
func (s *SQLiteStore) GetDoc(ctx context.Context, subscriptionID int64, key string) (json.RawMessage, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM subscription_docs WHERE subscription_id = ? AND key = ?`,
		subscriptionID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(value), nil
}

// PutDoc replaces the document.
func (s *SQLiteStore) PutDoc(ctx context.Context, subscriptionID int64, key string, doc json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscription_docs (subscription_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (subscription_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		subscriptionID, key, string(doc), time.Now().UTC().Format(time.RFC3339))
	return err
}

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

// SaveTrade inserts an executed trade.
func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, subscription_id, instrument_id, ts, side, qty, price)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SubscriptionID, t.InstrumentID, t.Timestamp.UTC().Format(time.RFC3339),
		string(t.Side), t.Qty, t.Price)
	return err
}

// SavePosition inserts or replaces a position by ID.
func (s *SQLiteStore) SavePosition(ctx context.Context, p *domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions
		(id, subscription_id, instrument_id, qty, side, buy_price, sell_price, eod_price, charges, pnl, active, reversal, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SubscriptionID, p.InstrumentID, p.Qty, string(p.Side),
		p.BuyPrice, p.SellPrice, p.EODPrice, p.Charges, p.PnL, p.Active, p.Reversal,
		p.OpenedAt.UTC().Format(time.RFC3339))
	return err
}

// GetPosition retrieves a position by ID.
func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subscription_id, instrument_id, qty, side, buy_price, sell_price, eod_price, charges, pnl, active, reversal, opened_at
		FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPositions returns a subscription's positions ordered by open time.
func (s *SQLiteStore) ListPositions(ctx context.Context, subscriptionID int64, onlyActive bool) ([]domain.Position, error) {
	q := `
		SELECT id, subscription_id, instrument_id, qty, side, buy_price, sell_price, eod_price, charges, pnl, active, reversal, opened_at
		FROM positions WHERE subscription_id = ?`
	if onlyActive {
		q += ` AND active = 1`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY opened_at, id`, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows.Scan)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanPosition(scan func(...any) error) (*domain.Position, error) {
	var (
		p      domain.Position
		side   string
		opened string
	)
	err := scan(&p.ID, &p.SubscriptionID, &p.InstrumentID, &p.Qty, &side,
		&p.BuyPrice, &p.SellPrice, &p.EODPrice, &p.Charges, &p.PnL, &p.Active, &p.Reversal, &opened)
	if err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)
	p.OpenedAt, _ = time.Parse(time.RFC3339, opened)
	return &p, nil
}

// CountActivePositions returns how many positions are open for the
// subscription.
func (s *SQLiteStore) CountActivePositions(ctx context.Context, subscriptionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE subscription_id = ? AND active = 1`, subscriptionID).Scan(&n)
	return n, err
}

// SaveTradeExit records an entry trade awaiting its exit, or completes the
// pair once the exit fills.
func (s *SQLiteStore) SaveTradeExit(ctx context.Context, te *domain.TradeExit) error {
	if te.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO trade_exits (entry_trade_id, exit_trade_id, position_id) VALUES (?, ?, ?)`,
			te.EntryTradeID, te.ExitTradeID, te.PositionID)
		if err != nil {
			return err
		}
		te.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE trade_exits SET exit_trade_id = ? WHERE id = ?`, te.ExitTradeID, te.ID)
	return err
}

// OpenTradeExits returns the pairs for a position that still lack an exit
// trade.
func (s *SQLiteStore) OpenTradeExits(ctx context.Context, positionID string) ([]domain.TradeExit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_trade_id, exit_trade_id, position_id
		FROM trade_exits WHERE position_id = ? AND exit_trade_id = ''`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exits []domain.TradeExit
	for rows.Next() {
		var te domain.TradeExit
		if err := rows.Scan(&te.ID, &te.EntryTradeID, &te.ExitTradeID, &te.PositionID); err != nil {
			return nil, err
		}
		exits = append(exits, te)
	}
	return exits, rows.Err()
}

// ListTrades returns a subscription's trades within [start, end].
func (s *SQLiteStore) ListTrades(ctx context.Context, subscriptionID int64, start, end time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subscription_id, instrument_id, ts, side, qty, price
		FROM trades WHERE subscription_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts, id`,
		subscriptionID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t    domain.Trade
			side string
			ts   string
		)
		if err := rows.Scan(&t.ID, &t.SubscriptionID, &t.InstrumentID, &ts, &side, &t.Qty, &t.Price); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Timestamp, _ = time.Parse(time.RFC3339, ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// PnLStore implementation
// ---------------------------------------------------------------------------

// SavePnL upserts an account's end-of-day P&L row.
func (s *SQLiteStore) SavePnL(ctx context.Context, snap *domain.PnLSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pnl (account_id, day, investment, unrealised_pnl, realised_pnl)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account_id, day) DO UPDATE SET
			investment = excluded.investment,
			unrealised_pnl = excluded.unrealised_pnl,
			realised_pnl = excluded.realised_pnl`,
		snap.AccountID, snap.Date.Format(dayFormat), snap.Investment, snap.UnrealisedPnL, snap.RealisedPnL)
	return err
}

// ListPnL returns an account's P&L rows within [start, end].
func (s *SQLiteStore) ListPnL(ctx context.Context, accountID int64, start, end time.Time) ([]domain.PnLSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, day, investment, unrealised_pnl, realised_pnl
		FROM pnl WHERE account_id = ? AND day >= ? AND day <= ?
		ORDER BY day`,
		accountID, start.Format(dayFormat), end.Format(dayFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.PnLSnapshot
	for rows.Next() {
		var snap domain.PnLSnapshot
		var day string
		if err := rows.Scan(&snap.AccountID, &day, &snap.Investment, &snap.UnrealisedPnL, &snap.RealisedPnL); err != nil {
			return nil, err
		}
		snap.Date, _ = time.Parse(dayFormat, day)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
