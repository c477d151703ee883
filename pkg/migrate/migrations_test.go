package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/bazaar-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one %s migration", suffix)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func assertContainsAll(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		assert.True(t, strings.Contains(content, sub), "missing expected statement %q", sub)
	}
}

func TestOrdersMigrationContainsSchemas(t *testing.T) {
	assertContainsAll(t, readMigration(t, "create_orders"), []string{
		"CREATE TYPE order_status AS ENUM",
		"CREATE TABLE IF NOT EXISTS orders",
		"total_amount numeric(12,2) NOT NULL CHECK (total_amount > 0)",
		"CREATE TABLE IF NOT EXISTS order_status_events",
		"CREATE TABLE IF NOT EXISTS seller_accounts",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_public_ref",
	})
}

func TestSettlementMigrationEnforcesInvariants(t *testing.T) {
	assertContainsAll(t, readMigration(t, "create_settlement_records"), []string{
		"CREATE TYPE settlement_outcome AS ENUM",
		"CONSTRAINT ck_settlement_records_split_sum CHECK (platform_commission + seller_payout = total_amount)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_settlement_records_order_attempt ON settlement_records (order_id, attempt_number)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_settlement_records_idempotency_key",
	})
}

func TestLedgerMigrationIsAppendOnly(t *testing.T) {
	assertContainsAll(t, readMigration(t, "create_settlement_ledger_entries"), []string{
		"CREATE TABLE IF NOT EXISTS settlement_ledger_entries",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_settlement_ledger_entries_recovered",
		"WHERE entry_type = 'payout_recovered'",
		"BEFORE UPDATE OR DELETE ON settlement_ledger_entries",
	})
}

func TestReconciliationMigrationIndexesOpenItems(t *testing.T) {
	assertContainsAll(t, readMigration(t, "create_reconciliation_items"), []string{
		"CREATE TYPE reconciliation_reason AS ENUM",
		"CREATE TYPE reconciliation_status AS ENUM",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_reconciliation_items_open",
		"WHERE status = 'open'",
	})
}

func TestOutboxMigrationMatchesEnums(t *testing.T) {
	content := readMigration(t, "create_outbox")
	for _, event := range []string{"order_created", "settlement_completed", "settlement_charge_failed", "settlement_alert"} {
		assert.Contains(t, content, "'"+event+"'")
	}
	assertContainsAll(t, content, []string{
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"CREATE TABLE IF NOT EXISTS outbox_dlq",
	})
}

func TestValidateDirAcceptsShippedMigrations(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestValidateDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_orders.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.Error(t, migrate.ValidateDir(dir))
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Index!")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_add_payout_index.sql"))
	require.NoError(t, migrate.ValidateDir(dir))
}

func TestValidateEmbedded(t *testing.T) {
	require.NoError(t, migrate.ValidateEmbedded())
}

func TestValidateDirRejectsMisorderedAnnotations(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Down\nDROP TABLE x;\n-- +goose Up\nCREATE TABLE x();\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301120000_create_x.sql"), []byte(body), 0o644))
	require.ErrorContains(t, migrate.ValidateDir(dir), "Down section precedes Up")
}

func TestValidateDirRejectsDuplicateVersions(t *testing.T) {
	dir := t.TempDir()
	body := []byte("-- +goose Up\n-- +goose Down\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301120000_a.sql"), body, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301120000_b.sql"), body, 0o644))
	require.ErrorContains(t, migrate.ValidateDir(dir), "duplicate migration version")
}

func TestCreateSQLMigrationRefusesDuplicateName(t *testing.T) {
	dir := t.TempDir()
	_, err := migrate.CreateSQLMigration(dir, "add_payout_index")
	require.NoError(t, err)
	_, err = migrate.CreateSQLMigration(dir, "Add payout index")
	require.ErrorContains(t, err, "already exists")

	_, err = migrate.CreateSQLMigration(dir, "!!!")
	require.Error(t, err)
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	embedded, err := migrate.Embedded.ReadDir("migrations")
	require.NoError(t, err)
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	assert.Len(t, embedded, len(onDisk))
}

func TestParseVersion(t *testing.T) {
	v, err := migrate.ParseVersion("20260301120000")
	require.NoError(t, err)
	assert.EqualValues(t, 20260301120000, v)

	_, err = migrate.ParseVersion("42")
	require.Error(t, err)
}
