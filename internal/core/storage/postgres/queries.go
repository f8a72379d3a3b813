package postgres

// SQL for the ledger tables. Every tenant-bearing query filters on
// (payment_stack_id, is_sandbox).

const transactionColumns = `
			id, payment_hash, transaction_id, payment_stack_id, is_sandbox,
			product, customer_id, amount, currency, signature,
			x402_payment_requirement, x402_verify_request, x402_verify_response,
			x402_settle_request, x402_settle_response,
			status, lease_expires_at, created_at, updated_at`

const (
	// queryInsertPending inserts a pending row holding a lease.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) when the requirement
	// was already seen in this scope.
	queryInsertPending = `
		INSERT INTO facilitated_transactions (
			payment_hash, payment_stack_id, is_sandbox, product, amount, currency,
			x402_payment_requirement, x402_verify_request, status,
			lease_token, lease_expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, $10, $11, $11)
		ON CONFLICT (payment_hash, payment_stack_id, is_sandbox) DO NOTHING
		RETURNING` + transactionColumns

	queryGetTransactionByHash = `
		SELECT` + transactionColumns + `
		FROM facilitated_transactions
		WHERE payment_hash = $1
		  AND payment_stack_id = $2
		  AND is_sandbox = $3
	`

	queryGetTransaction = `
		SELECT` + transactionColumns + `
		FROM facilitated_transactions
		WHERE id = $1
	`

	queryGetTransactionByID = `
		SELECT` + transactionColumns + `
		FROM facilitated_transactions
		WHERE transaction_id = $1
		  AND payment_stack_id = $2
		  AND is_sandbox = $3
	`

	// queryClaimLease takes the lease only when no live lease is held.
	queryClaimLease = `
		UPDATE facilitated_transactions
		SET lease_token = $3, lease_expires_at = $4, updated_at = $5
		WHERE id = $1
		  AND status = $2
		  AND (lease_expires_at IS NULL OR lease_expires_at < $5)
		RETURNING` + transactionColumns

	queryReleaseLease = `
		UPDATE facilitated_transactions
		SET lease_token = NULL, lease_expires_at = NULL
		WHERE id = $1
		  AND lease_token = $2
	`

	// queryListTransactions pages newest first. $3 = 0 means "from the newest".
	queryListTransactions = `
		SELECT` + transactionColumns + `
		FROM facilitated_transactions
		WHERE payment_stack_id = $1
		  AND is_sandbox = $2
		  AND ($3::BIGINT = 0 OR id < $3)
		ORDER BY id DESC
		LIMIT $4
	`

	queryListStalePending = `
		SELECT` + transactionColumns + `
		FROM facilitated_transactions
		WHERE status = 'pending'
		  AND created_at < $1
		  AND (lease_expires_at IS NULL OR lease_expires_at < $2)
		ORDER BY id ASC
		LIMIT $3
	`
)

// Statements executed inside the ApplyTransition database transaction.
const (
	// queryLockScope serializes appends per scope until commit, so that
	// (created_at, id) order in cloud_events equals commit order.
	queryLockScope = `SELECT pg_advisory_xact_lock(hashtext($1))`

	// queryUpsertPayer returns the customer id without touching updated_at.
	queryUpsertPayer = `
		INSERT INTO transaction_customers (address, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id
	`

	// queryApplyTransition is the status compare-and-swap. NULL parameters keep
	// the stored value. No rows means the row moved on or someone else holds the lease.
	queryApplyTransition = `
		UPDATE facilitated_transactions
		SET status               = $3,
		    transaction_id       = COALESCE(transaction_id, $4),
		    customer_id          = COALESCE($5, customer_id),
		    signature            = COALESCE($6, signature),
		    x402_verify_request  = COALESCE($7, x402_verify_request),
		    x402_verify_response = COALESCE($8, x402_verify_response),
		    x402_settle_request  = COALESCE($9, x402_settle_request),
		    x402_settle_response = COALESCE($10, x402_settle_response),
		    lease_token          = NULL,
		    lease_expires_at     = NULL,
		    updated_at           = $11
		WHERE id = $1
		  AND status = $2
		  AND (COALESCE(lease_token, '') = $12 OR lease_expires_at IS NULL OR lease_expires_at < $11)
		RETURNING` + transactionColumns

	// queryAppendEvent inserts an event once. ON CONFLICT DO NOTHING returns
	// no rows (sql.ErrNoRows) for a duplicate event_id.
	queryAppendEvent = `
		INSERT INTO cloud_events (
			event_id, event_type, event_source, event_time, data_json,
			payment_stack_id, is_sandbox, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, clock_timestamp())
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id, created_at
	`
)

const eventColumns = `
			id, event_id, event_type, event_source, event_time, data_json,
			payment_stack_id, is_sandbox, created_at`

const (
	queryGetEvent = `
		SELECT` + eventColumns + `
		FROM cloud_events
		WHERE event_id = $1
		  AND payment_stack_id = $2
		  AND is_sandbox = $3
	`

	// queryReadEvents reads strictly after the (created_at, id) position.
	// The zero position and zero event time admit every event.
	queryReadEvents = `
		SELECT` + eventColumns + `
		FROM cloud_events
		WHERE payment_stack_id = $1
		  AND is_sandbox = $2
		  AND (created_at, id) > ($3, $4)
		  AND event_time > $5
		ORDER BY created_at ASC, id ASC
		LIMIT $6
	`

	queryReadLastEvents = `
		SELECT` + eventColumns + `
		FROM (
			SELECT` + eventColumns + `
			FROM cloud_events
			WHERE payment_stack_id = $1
			  AND is_sandbox = $2
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		) tail
		ORDER BY created_at ASC, id ASC
	`
)

const (
	queryInsertStream = `
		INSERT INTO event_streams (stream_id, payment_stack_id, is_sandbox, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (stream_id, payment_stack_id, is_sandbox) DO NOTHING
	`

	queryGetStream = `
		SELECT
			stream_id, payment_stack_id, is_sandbox,
			last_event_id, last_event_time, COALESCE(last_event_seq, 0),
			created_at, updated_at
		FROM event_streams
		WHERE stream_id = $1
		  AND payment_stack_id = $2
		  AND is_sandbox = $3
	`

	// queryAdvanceStream moves the cursor only from the mark the caller read
	// ($7) and only forward.
	queryAdvanceStream = `
		UPDATE event_streams
		SET last_event_id = $4, last_event_time = $5, last_event_seq = $6, updated_at = $8
		WHERE stream_id = $1
		  AND payment_stack_id = $2
		  AND is_sandbox = $3
		  AND COALESCE(last_event_seq, 0) = $7
		  AND COALESCE(last_event_seq, 0) < $6
	`
)

const customerColumns = `id, address, label, created_at, updated_at`

const (
	// queryEnsureCustomer sets label only on first insert.
	queryEnsureCustomer = `
		INSERT INTO transaction_customers (address, label, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING ` + customerColumns

	queryGetCustomer = `SELECT ` + customerColumns + ` FROM transaction_customers WHERE id = $1`

	queryGetCustomerByAddress = `SELECT ` + customerColumns + ` FROM transaction_customers WHERE address = $1`

	querySetCustomerLabel = `
		UPDATE transaction_customers
		SET label = $2, updated_at = $3
		WHERE address = $1
		RETURNING ` + customerColumns
)
