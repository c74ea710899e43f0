package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	_ "github.com/lib/pq"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

// Postgres implements Storage on PostgreSQL.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	user_addr    TEXT PRIMARY KEY,
	version      BIGINT NOT NULL,
	target_apy   DOUBLE PRECISION NOT NULL,
	max_drawdown DOUBLE PRECISION NOT NULL,
	risk_tier    TEXT NOT NULL,
	autonomy     TEXT NOT NULL,
	spend_limit  DOUBLE PRECISION NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS spend_permissions (
	id          TEXT PRIMARY KEY,
	user_addr   TEXT NOT NULL,
	chain_id    BIGINT NOT NULL,
	token       TEXT NOT NULL,
	max_amount  NUMERIC(78,0) NOT NULL,
	remaining   NUMERIC(78,0) NOT NULL,
	valid_until TIMESTAMPTZ NOT NULL,
	nonce       NUMERIC(20,0) NOT NULL,
	signature   BYTEA NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS consumed_nonces (
	user_addr TEXT NOT NULL,
	chain_id  BIGINT NOT NULL,
	nonce     NUMERIC(20,0) NOT NULL,
	used_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_addr, chain_id, nonce)
);

CREATE TABLE IF NOT EXISTS move_records (
	id              TEXT PRIMARY KEY,
	user_addr       TEXT NOT NULL,
	chain_id        BIGINT NOT NULL,
	from_vault      TEXT NOT NULL,
	to_vault        TEXT NOT NULL,
	amount          NUMERIC(78,0) NOT NULL,
	executed_at     TIMESTAMPTZ NOT NULL,
	tx_refs         TEXT NOT NULL,
	state           TEXT NOT NULL,
	can_revert      BOOLEAN NOT NULL,
	revert_deadline TIMESTAMPTZ
);
`

// NewPostgres opens a connection and ensures the schema exists.
func NewPostgres(cfg *PostgresConfig) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &Postgres{db: db, logger: cfg.Logger}, nil
}

// GetPolicy returns a user's stored policy.
func (p *Postgres) GetPolicy(ctx context.Context, user common.Address) (policy.Versioned, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT version, target_apy, max_drawdown, risk_tier, autonomy, spend_limit
		FROM policies WHERE user_addr = $1`, user.Hex())

	var v policy.Versioned
	v.User = user
	err := row.Scan(&v.Version, &v.TargetAPY, &v.MaxDrawdown, &v.RiskTier, &v.Autonomy, &v.SpendLimitPerWindow)
	if err == sql.ErrNoRows {
		return policy.Versioned{}, policy.ErrNotFound
	}
	if err != nil {
		return policy.Versioned{}, fmt.Errorf("scan policy: %w", err)
	}

	return v, nil
}

// PutPolicy upserts a versioned policy.
func (p *Postgres) PutPolicy(ctx context.Context, v policy.Versioned) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policies (user_addr, version, target_apy, max_drawdown, risk_tier, autonomy, spend_limit, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (user_addr) DO UPDATE SET
			version = EXCLUDED.version,
			target_apy = EXCLUDED.target_apy,
			max_drawdown = EXCLUDED.max_drawdown,
			risk_tier = EXCLUDED.risk_tier,
			autonomy = EXCLUDED.autonomy,
			spend_limit = EXCLUDED.spend_limit,
			updated_at = now()`,
		v.User.Hex(), v.Version, v.TargetAPY, v.MaxDrawdown, string(v.RiskTier), string(v.Autonomy), v.SpendLimitPerWindow)
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}

	return nil
}

// PutPermission stores a spend permission.
func (p *Postgres) PutPermission(ctx context.Context, perm *delegation.SpendPermission) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO spend_permissions
			(id, user_addr, chain_id, token, max_amount, remaining, valid_until, nonce, signature, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		perm.ID, perm.User.Hex(), perm.ChainID, perm.Token.Hex(),
		perm.MaxAmountWei.String(), perm.RemainingWei.String(),
		perm.ValidUntil, fmt.Sprintf("%d", perm.Nonce), perm.Signature, perm.Revoked, perm.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}

	return nil
}

func scanPermission(row *sql.Row) (*delegation.SpendPermission, error) {
	var (
		perm                 delegation.SpendPermission
		userHex, tokenHex    string
		maxAmount, remaining string
		nonceStr             string
	)

	err := row.Scan(&perm.ID, &userHex, &perm.ChainID, &tokenHex,
		&maxAmount, &remaining, &perm.ValidUntil, &nonceStr,
		&perm.Signature, &perm.Revoked, &perm.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, delegation.ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan permission: %w", err)
	}

	perm.User = common.HexToAddress(userHex)
	perm.Token = common.HexToAddress(tokenHex)

	var ok bool
	if perm.MaxAmountWei, ok = new(big.Int).SetString(maxAmount, 10); !ok {
		return nil, fmt.Errorf("malformed max_amount %q", maxAmount)
	}
	if perm.RemainingWei, ok = new(big.Int).SetString(remaining, 10); !ok {
		return nil, fmt.Errorf("malformed remaining %q", remaining)
	}
	if _, err := fmt.Sscanf(nonceStr, "%d", &perm.Nonce); err != nil {
		return nil, fmt.Errorf("malformed nonce %q", nonceStr)
	}

	return &perm, nil
}

const permissionColumns = `id, user_addr, chain_id, token, max_amount, remaining, valid_until, nonce, signature, revoked, created_at`

// GetPermission returns a permission by ID.
func (p *Postgres) GetPermission(ctx context.Context, id string) (*delegation.SpendPermission, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+permissionColumns+` FROM spend_permissions WHERE id = $1`, id)

	return scanPermission(row)
}

// ActivePermission returns the newest usable permission for the triple.
func (p *Postgres) ActivePermission(ctx context.Context, user common.Address, chainID int64, token common.Address) (*delegation.SpendPermission, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+permissionColumns+` FROM spend_permissions
		WHERE user_addr = $1 AND chain_id = $2 AND token = $3
			AND NOT revoked AND valid_until > now() AND remaining > 0
		ORDER BY created_at DESC LIMIT 1`,
		user.Hex(), chainID, token.Hex())

	return scanPermission(row)
}

// ConsumeHeadroom atomically deducts amount from a permission's headroom.
func (p *Postgres) ConsumeHeadroom(ctx context.Context, id string, amount *big.Int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE spend_permissions
		SET remaining = remaining - $2::numeric
		WHERE id = $1 AND NOT revoked AND valid_until > now() AND remaining >= $2::numeric`,
		id, amount.String())
	if err != nil {
		return fmt.Errorf("consume headroom: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	// Distinguish a missing or dead permission from exhausted headroom.
	var revoked bool
	var validUntil time.Time
	err = p.db.QueryRowContext(ctx,
		`SELECT revoked, valid_until FROM spend_permissions WHERE id = $1`, id).
		Scan(&revoked, &validUntil)
	if err == sql.ErrNoRows {
		return delegation.ErrPermissionNotFound
	}
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}
	if revoked || time.Now().After(validUntil) {
		return delegation.ErrPermissionNotFound
	}

	return delegation.ErrInsufficientHeadroom
}

// RefundHeadroom returns amount to a permission, capped at its maximum.
func (p *Postgres) RefundHeadroom(ctx context.Context, id string, amount *big.Int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE spend_permissions
		SET remaining = LEAST(remaining + $2::numeric, max_amount)
		WHERE id = $1`,
		id, amount.String())
	if err != nil {
		return fmt.Errorf("refund headroom: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return delegation.ErrPermissionNotFound
	}

	return nil
}

// RevokePermission marks a permission revoked. Idempotent.
func (p *Postgres) RevokePermission(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE spend_permissions SET revoked = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return delegation.ErrPermissionNotFound
	}

	return nil
}

// ConsumeNonce records a (user, chain, nonce) triple. The primary key makes
// the replay check atomic: a conflicting insert affects zero rows.
func (p *Postgres) ConsumeNonce(ctx context.Context, user common.Address, chainID int64, nonce uint64) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO consumed_nonces (user_addr, chain_id, nonce)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_addr, chain_id, nonce) DO NOTHING`,
		user.Hex(), chainID, fmt.Sprintf("%d", nonce))
	if err != nil {
		return fmt.Errorf("insert nonce: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return delegation.ErrNonceUsed
	}

	return nil
}

// ReleaseNonce frees a consumed triple after a definite submission
// rejection. Releasing an unconsumed triple is a no-op.
func (p *Postgres) ReleaseNonce(ctx context.Context, user common.Address, chainID int64, nonce uint64) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM consumed_nonces
		WHERE user_addr = $1 AND chain_id = $2 AND nonce = $3`,
		user.Hex(), chainID, fmt.Sprintf("%d", nonce))
	if err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}

	return nil
}

func encodeTxRefs(refs []types.TxRef) (string, error) {
	data, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("marshal tx refs: %w", err)
	}

	return string(data), nil
}

// PutMove stores a move record.
func (p *Postgres) PutMove(ctx context.Context, m *ledger.MoveRecord) error {
	refs, err := encodeTxRefs(m.TxRefs)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO move_records
			(id, user_addr, chain_id, from_vault, to_vault, amount, executed_at, tx_refs, state, can_revert, revert_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.User.Hex(), m.ChainID, m.FromVault.Hex(), m.ToVault.Hex(),
		m.AmountWei.String(), m.ExecutedAt, refs, string(m.State), m.CanRevert, m.RevertDeadline)
	if err != nil {
		return fmt.Errorf("insert move: %w", err)
	}

	return nil
}

// UpdateMove updates a move record's mutable fields.
func (p *Postgres) UpdateMove(ctx context.Context, m *ledger.MoveRecord) error {
	refs, err := encodeTxRefs(m.TxRefs)
	if err != nil {
		return err
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE move_records
		SET tx_refs = $2, state = $3, can_revert = $4
		WHERE id = $1`,
		m.ID, refs, string(m.State), m.CanRevert)
	if err != nil {
		return fmt.Errorf("update move: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("move %s not found", m.ID)
	}

	return nil
}

// LastMove returns the user's most recent move.
func (p *Postgres) LastMove(ctx context.Context, user common.Address) (*ledger.MoveRecord, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_addr, chain_id, from_vault, to_vault, amount, executed_at, tx_refs, state, can_revert, revert_deadline
		FROM move_records WHERE user_addr = $1
		ORDER BY executed_at DESC LIMIT 1`, user.Hex())

	var (
		m                       ledger.MoveRecord
		userHex, fromHex, toHex string
		amount, refs, state     string
		revertDeadline          sql.NullTime
	)

	err := row.Scan(&m.ID, &userHex, &m.ChainID, &fromHex, &toHex,
		&amount, &m.ExecutedAt, &refs, &state, &m.CanRevert, &revertDeadline)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrNoMoves
	}
	if err != nil {
		return nil, fmt.Errorf("scan move: %w", err)
	}

	m.User = common.HexToAddress(userHex)
	m.FromVault = common.HexToAddress(fromHex)
	m.ToVault = common.HexToAddress(toHex)
	m.State = ledger.MoveState(state)
	if revertDeadline.Valid {
		m.RevertDeadline = revertDeadline.Time
	}

	var ok bool
	if m.AmountWei, ok = new(big.Int).SetString(amount, 10); !ok {
		return nil, fmt.Errorf("malformed amount %q", amount)
	}
	if err := json.Unmarshal([]byte(refs), &m.TxRefs); err != nil {
		return nil, fmt.Errorf("unmarshal tx refs: %w", err)
	}

	return &m, nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	return p.db.Close()
}
