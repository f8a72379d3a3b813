package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	v1 "github.com/aevon-lab/x402-facilitator/internal/api/v1"
	"github.com/stretchr/testify/require"
)

func TestAdapter_CloseReturnsDBCloseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dbCloseErr := errors.New("db close failed")

	adapter := &Adapter{db: db}
	for _, q := range adapter.preparedQueries() {
		mock.ExpectPrepare(regexp.QuoteMeta(q.query)).WillBeClosed()
		stmt, err := db.Prepare(q.query)
		require.NoError(t, err)
		*q.stmt = stmt
	}
	mock.ExpectClose().WillReturnError(dbCloseErr)

	err = adapter.Close()
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to close database")
	require.ErrorIs(t, err, dbCloseErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateSchema_MissingTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	existsQuery := regexp.QuoteMeta(`SELECT EXISTS (`)
	mock.ExpectQuery(existsQuery).WithArgs("transaction_customers").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(existsQuery).WithArgs("facilitated_transactions").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = validateSchema(db)
	require.ErrorContains(t, err, "facilitated_transactions table does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	adapter := &Adapter{db: db}
	for _, q := range adapter.preparedQueries() {
		*q.stmt = mustPrepareStmt(t, db, mock, q.query)
	}

	return adapter, mock, db
}

func mustPrepareStmt(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock, query string) *sql.Stmt {
	t.Helper()

	mock.ExpectPrepare(regexp.QuoteMeta(query))
	stmt, err := db.Prepare(query)
	require.NoError(t, err)

	return stmt
}

func transactionRowColumns() []string {
	return []string{
		"id", "payment_hash", "transaction_id", "payment_stack_id", "is_sandbox",
		"product", "customer_id", "amount", "currency", "signature",
		"x402_payment_requirement", "x402_verify_request", "x402_verify_response",
		"x402_settle_request", "x402_settle_response",
		"status", "lease_expires_at", "created_at", "updated_at",
	}
}

func transactionRow(tx *v1.Transaction) []driver.Value {
	var transactionID, customerID, lease driver.Value
	if tx.TransactionID != "" {
		transactionID = tx.TransactionID
	}
	if tx.CustomerID != nil {
		customerID = *tx.CustomerID
	}
	if tx.LeaseExpiresAt != nil {
		lease = *tx.LeaseExpiresAt
	}
	return []driver.Value{
		tx.ID, tx.PaymentHash, transactionID, tx.PaymentStackID, tx.IsSandbox,
		tx.Product, customerID, tx.Amount, tx.Currency, nilIfEmpty(tx.Signature),
		[]byte(tx.PaymentRequirement), nilIfEmptyJSON(tx.VerifyRequest), nilIfEmptyJSON(tx.VerifyResponse),
		nilIfEmptyJSON(tx.SettleRequest), nilIfEmptyJSON(tx.SettleResponse),
		string(tx.Status), lease, tx.CreatedAt, tx.UpdatedAt,
	}
}

func eventRowColumns() []string {
	return []string{
		"id", "event_id", "event_type", "event_source", "event_time", "data_json",
		"payment_stack_id", "is_sandbox", "created_at",
	}
}

func eventRow(seq int64, eventID string, createdAt time.Time) []driver.Value {
	return []driver.Value{
		seq, eventID, v1.EventVerificationSucceeded, v1.SourceVerify, createdAt,
		[]byte(`{"specversion":"1.0"}`), "acme", true, createdAt,
	}
}

func nilIfEmpty(s string) driver.Value {
	if s == "" {
		return nil
	}
	return s
}

func nilIfEmptyJSON(b []byte) driver.Value {
	if len(b) == 0 {
		return nil
	}
	return b
}
