package store

// schemaVersionDDL is valid in both dialects and runs before any migration.
const schemaVersionDDL = `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`

// migration holds a single schema migration with its target version and
// the statements for each dialect.
type migration struct {
	version int
	sqlite  []string
	mysql   []string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
//
// debit_key is "reference|date|amount" for DEBIT rows and NULL otherwise;
// its unique index enforces the dedup invariant.
var migrations = []migration{
	{
		version: 1,
		sqlite: []string{`
CREATE TABLE IF NOT EXISTS transactions (
	id                 TEXT PRIMARY KEY,
	amount_minor       INTEGER NOT NULL,
	direction          TEXT NOT NULL CHECK(direction IN ('DEBIT', 'CREDIT', 'UNKNOWN')),
	txn_date           TEXT NOT NULL,
	reference          TEXT NOT NULL,
	to_upi             TEXT NOT NULL DEFAULT '',
	payee_name         TEXT NOT NULL DEFAULT '',
	account_number     TEXT NOT NULL DEFAULT '',
	bank_name          TEXT NOT NULL DEFAULT 'UNKNOWN',
	category           TEXT NOT NULL DEFAULT '',
	source_message_id  INTEGER NOT NULL,
	source_received_at DATETIME NOT NULL,
	ingested_at        DATETIME NOT NULL,
	debit_key          TEXT UNIQUE
)`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(txn_date)`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_message ON transactions(source_message_id)`,
			`CREATE INDEX IF NOT EXISTS idx_transactions_direction_date ON transactions(direction, txn_date)`,
		},
		mysql: []string{`
CREATE TABLE IF NOT EXISTS transactions (
	id                 VARCHAR(36) NOT NULL PRIMARY KEY,
	amount_minor       BIGINT NOT NULL,
	direction          VARCHAR(8) NOT NULL,
	txn_date           VARCHAR(10) NOT NULL,
	reference          VARCHAR(64) NOT NULL,
	to_upi             VARCHAR(255) NOT NULL DEFAULT '',
	payee_name         VARCHAR(255) NOT NULL DEFAULT '',
	account_number     VARCHAR(32) NOT NULL DEFAULT '',
	bank_name          VARCHAR(64) NOT NULL DEFAULT 'UNKNOWN',
	category           VARCHAR(64) NOT NULL DEFAULT '',
	source_message_id  BIGINT UNSIGNED NOT NULL,
	source_received_at DATETIME(6) NOT NULL,
	ingested_at        DATETIME(6) NOT NULL,
	debit_key          VARCHAR(128) NULL,
	UNIQUE KEY uq_transactions_debit_key (debit_key),
	KEY idx_transactions_date (txn_date),
	KEY idx_transactions_message (source_message_id),
	KEY idx_transactions_direction_date (direction, txn_date)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
	{
		version: 2,
		sqlite: []string{`
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id                 TEXT PRIMARY KEY,
	mailbox            TEXT NOT NULL,
	started_at         DATETIME NOT NULL,
	finished_at        DATETIME,
	cursor_before      INTEGER NOT NULL DEFAULT 0,
	cursor_after       INTEGER NOT NULL DEFAULT 0,
	candidates         INTEGER NOT NULL DEFAULT 0,
	skipped_senders    INTEGER NOT NULL DEFAULT 0,
	saved              INTEGER NOT NULL DEFAULT 0,
	rejected           INTEGER NOT NULL DEFAULT 0,
	duplicates         INTEGER NOT NULL DEFAULT 0,
	empty              INTEGER NOT NULL DEFAULT 0,
	persistence_failed INTEGER NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT ''
)`,
			`CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started ON ingestion_runs(started_at)`,
		},
		mysql: []string{`
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id                 VARCHAR(36) NOT NULL PRIMARY KEY,
	mailbox            VARCHAR(255) NOT NULL,
	started_at         DATETIME(6) NOT NULL,
	finished_at        DATETIME(6) NULL,
	cursor_before      BIGINT UNSIGNED NOT NULL DEFAULT 0,
	cursor_after       BIGINT UNSIGNED NOT NULL DEFAULT 0,
	candidates         INT NOT NULL DEFAULT 0,
	skipped_senders    INT NOT NULL DEFAULT 0,
	saved              INT NOT NULL DEFAULT 0,
	rejected           INT NOT NULL DEFAULT 0,
	duplicates         INT NOT NULL DEFAULT 0,
	empty              INT NOT NULL DEFAULT 0,
	persistence_failed INT NOT NULL DEFAULT 0,
	error              TEXT NOT NULL,
	KEY idx_ingestion_runs_started (started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
}
