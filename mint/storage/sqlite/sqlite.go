package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/mint/storage"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		return nil, fmt.Errorf("error closing migration: %v", errors.Join(srcErr, dbErr))
	}

	// immediate transactions take the write lock on BEGIN so concurrent
	// writers queue on the busy timeout instead of failing on lock upgrade.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL", dbpath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func inClause(n int) string {
	return "(?" + strings.Repeat(",?", n-1) + ")"
}

func keysetSecretArgs(keysetId string, secrets []string) []any {
	args := make([]any, len(secrets)+1)
	args[0] = keysetId
	for i, secret := range secrets {
		args[i+1] = secret
	}
	return args
}

func (sqlite *SQLiteDB) SaveMintInstance(instance storage.MintInstance) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO mint_instances (id, name, wallet, keyset_id) VALUES (?, ?, ?, ?)
	`, instance.Id, instance.Name, instance.Wallet, instance.KeysetId)
	if isConstraintErr(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

func (sqlite *SQLiteDB) GetMintInstance(id string) (storage.MintInstance, error) {
	row := sqlite.db.QueryRow("SELECT id, name, wallet, keyset_id FROM mint_instances WHERE id = ?", id)

	var instance storage.MintInstance
	err := row.Scan(&instance.Id, &instance.Name, &instance.Wallet, &instance.KeysetId)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.MintInstance{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.MintInstance{}, err
	}
	return instance, nil
}

func (sqlite *SQLiteDB) GetMintInstances(wallets ...string) ([]storage.MintInstance, error) {
	query := "SELECT id, name, wallet, keyset_id FROM mint_instances"
	args := make([]any, len(wallets))
	if len(wallets) > 0 {
		query += " WHERE wallet IN " + inClause(len(wallets))
		for i, wallet := range wallets {
			args[i] = wallet
		}
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := []storage.MintInstance{}
	for rows.Next() {
		var instance storage.MintInstance
		if err := rows.Scan(&instance.Id, &instance.Name, &instance.Wallet, &instance.KeysetId); err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func (sqlite *SQLiteDB) DeleteMintInstance(id string) error {
	result, err := sqlite.db.Exec("DELETE FROM mint_instances WHERE id = ?", id)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return storage.ErrNotFound
	}
	return nil
}

func (sqlite *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO keysets (id, mint_id, unit, derivation_path_idx, created_at) VALUES (?, ?, ?, ?, ?)
	`, keyset.Id, keyset.MintId, keyset.Unit, keyset.DerivationPathIdx, keyset.CreatedAt)
	if isConstraintErr(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

func scanKeyset(row interface{ Scan(...any) error }) (storage.DBKeyset, error) {
	var keyset storage.DBKeyset
	err := row.Scan(
		&keyset.Id,
		&keyset.MintId,
		&keyset.Unit,
		&keyset.DerivationPathIdx,
		&keyset.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.DBKeyset{}, storage.ErrNotFound
	}
	return keyset, err
}

func (sqlite *SQLiteDB) GetKeyset(id string) (storage.DBKeyset, error) {
	row := sqlite.db.QueryRow(`
		SELECT id, mint_id, unit, derivation_path_idx, created_at FROM keysets WHERE id = ?
	`, id)
	return scanKeyset(row)
}

func (sqlite *SQLiteDB) GetKeysetByMint(mintId string) (storage.DBKeyset, error) {
	row := sqlite.db.QueryRow(`
		SELECT id, mint_id, unit, derivation_path_idx, created_at FROM keysets WHERE mint_id = ?
	`, mintId)
	return scanKeyset(row)
}

func (sqlite *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	rows, err := sqlite.db.Query("SELECT id, mint_id, unit, derivation_path_idx, created_at FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keysets := []storage.DBKeyset{}
	for rows.Next() {
		keyset, err := scanKeyset(rows)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}

	return keysets, rows.Err()
}

func (sqlite *SQLiteDB) SaveInvoice(invoice storage.Invoice) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO invoices (payment_hash, mint_id, amount, payment_request, issued, issued_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		invoice.PaymentHash,
		invoice.MintId,
		invoice.Amount,
		invoice.PaymentRequest,
		invoice.Issued,
		invoice.IssuedAmount,
		invoice.CreatedAt,
	)
	if isConstraintErr(err) {
		return storage.ErrAlreadyExists
	}
	return err
}

func (sqlite *SQLiteDB) GetInvoice(paymentHash string) (storage.Invoice, error) {
	row := sqlite.db.QueryRow(`
		SELECT payment_hash, mint_id, amount, payment_request, issued, issued_amount, created_at
		FROM invoices WHERE payment_hash = ?`, paymentHash)

	var invoice storage.Invoice
	err := row.Scan(
		&invoice.PaymentHash,
		&invoice.MintId,
		&invoice.Amount,
		&invoice.PaymentRequest,
		&invoice.Issued,
		&invoice.IssuedAmount,
		&invoice.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Invoice{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Invoice{}, err
	}

	return invoice, nil
}

func (sqlite *SQLiteDB) MarkInvoiceIssued(paymentHash string, issuedAmount uint64) (bool, error) {
	// conditional update is the check-and-set. Only one caller
	// can see the row with issued = FALSE.
	result, err := sqlite.db.Exec(
		"UPDATE invoices SET issued = TRUE, issued_amount = ? WHERE payment_hash = ? AND issued = FALSE",
		issuedAmount, paymentHash,
	)
	if err != nil {
		return false, err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if count == 1 {
		return true, nil
	}

	if _, err := sqlite.GetInvoice(paymentHash); err != nil {
		return false, err
	}
	return false, nil
}

// checkNotIn fails with sentinel if any of the proofs is present in table.
func checkNotIn(tx *sql.Tx, table string, proofs cashu.Proofs, sentinel error) error {
	stmt, err := tx.Prepare("SELECT COUNT(*) FROM " + table + " WHERE keyset_id = ? AND secret = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		var count int
		if err := stmt.QueryRow(proof.Id, proof.Secret).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return sentinel
		}
	}
	return nil
}

func (sqlite *SQLiteDB) SaveProofs(proofs cashu.Proofs) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkNotIn(tx, "pending_proofs", proofs, storage.ErrProofPending); err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO proofs (keyset_id, secret, amount, c) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		if _, err := stmt.Exec(proof.Id, proof.Secret, proof.Amount, proof.C); err != nil {
			if isConstraintErr(err) {
				return storage.ErrProofSpent
			}
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) queryProofs(query string, keysetId string, secrets []string) ([]storage.DBProof, error) {
	proofs := []storage.DBProof{}
	if len(secrets) == 0 {
		return proofs, nil
	}

	rows, err := sqlite.db.Query(query+inClause(len(secrets)), keysetSecretArgs(keysetId, secrets)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var proof storage.DBProof
		err := rows.Scan(
			&proof.Id,
			&proof.Secret,
			&proof.Amount,
			&proof.C,
			&proof.PaymentHash,
		)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}

	return proofs, rows.Err()
}

func (sqlite *SQLiteDB) GetProofsUsed(keysetId string, secrets []string) ([]storage.DBProof, error) {
	return sqlite.queryProofs(
		"SELECT keyset_id, secret, amount, c, '' FROM proofs WHERE keyset_id = ? AND secret IN ",
		keysetId, secrets,
	)
}

func (sqlite *SQLiteDB) AddPendingProofs(proofs cashu.Proofs, paymentHash string) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkNotIn(tx, "proofs", proofs, storage.ErrProofSpent); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO pending_proofs (keyset_id, secret, amount, c, payment_hash) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		if _, err := stmt.Exec(proof.Id, proof.Secret, proof.Amount, proof.C, paymentHash); err != nil {
			if isConstraintErr(err) {
				return storage.ErrProofPending
			}
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetPendingProofs(keysetId string, secrets []string) ([]storage.DBProof, error) {
	return sqlite.queryProofs(
		"SELECT keyset_id, secret, amount, c, payment_hash FROM pending_proofs WHERE keyset_id = ? AND secret IN ",
		keysetId, secrets,
	)
}

func (sqlite *SQLiteDB) RemovePendingProofs(keysetId string, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}
	_, err := sqlite.db.Exec(
		"DELETE FROM pending_proofs WHERE keyset_id = ? AND secret IN "+inClause(len(secrets)),
		keysetSecretArgs(keysetId, secrets)...,
	)
	return err
}

func (sqlite *SQLiteDB) SpendPendingProofs(keysetId string, secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	args := keysetSecretArgs(keysetId, secrets)
	result, err := tx.Exec(`
		INSERT INTO proofs (keyset_id, secret, amount, c)
		SELECT keyset_id, secret, amount, c FROM pending_proofs
		WHERE keyset_id = ? AND secret IN `+inClause(len(secrets)),
		args...,
	)
	if err != nil {
		if isConstraintErr(err) {
			return storage.ErrProofSpent
		}
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != int64(len(secrets)) {
		return fmt.Errorf("expected %v pending proofs but found %v", len(secrets), count)
	}

	if _, err := tx.Exec(
		"DELETE FROM pending_proofs WHERE keyset_id = ? AND secret IN "+inClause(len(secrets)),
		args...,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) SaveMelt(melt storage.Melt) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO melts
		(mint_id, payment_hash, amount, fee_reserve, input_amount, paid, proofs_spent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		melt.MintId,
		melt.PaymentHash,
		melt.Amount,
		melt.FeeReserve,
		melt.InputAmount,
		melt.Paid,
		melt.ProofsSpent,
		melt.CreatedAt,
	)
	return err
}

func (sqlite *SQLiteDB) GetBalance(mintId string) (storage.Balance, error) {
	var balance storage.Balance

	row := sqlite.db.QueryRow(
		"SELECT COALESCE(SUM(issued_amount), 0) FROM invoices WHERE mint_id = ? AND issued = TRUE",
		mintId,
	)
	if err := row.Scan(&balance.Issued); err != nil {
		return storage.Balance{}, err
	}

	row = sqlite.db.QueryRow(
		"SELECT COALESCE(SUM(input_amount), 0) FROM melts WHERE mint_id = ? AND proofs_spent = TRUE",
		mintId,
	)
	if err := row.Scan(&balance.Redeemed); err != nil {
		return storage.Balance{}, err
	}

	return balance, nil
}
