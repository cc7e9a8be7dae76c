// Package testdb provides message-store test fixtures backed by a shared
// PostgreSQL testcontainer.
package testdb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zcox/messagedb-agent-sub000/pkg/messagedb"
)

var (
	// Shared base config for all tests in the package
	sharedBase    messagedb.Config
	containerOnce sync.Once
	containerErr  error
)

// NewClient returns a message-store client bound to a dedicated database on
// the shared container, with the message-store schema installed. The
// database is dropped when the test completes.
//
// The message_store schema name is fixed, so isolation is per database
// rather than per schema: each test gets its own database and exercises the
// embedded migrations on it.
func NewClient(t *testing.T) *messagedb.Client {
	t.Helper()
	client, _ := NewClientWithConfig(t)
	return client
}

// NewClientWithConfig is NewClient plus the config of the per-test database,
// for tests that need additional direct connections.
func NewClientWithConfig(t *testing.T) (*messagedb.Client, messagedb.Config) {
	t.Helper()
	ctx := context.Background()

	base := baseConfig(t)
	dbName := generateDatabaseName(t)

	adminExec(t, base, fmt.Sprintf("CREATE DATABASE %s", dbName))
	t.Logf("Created test database: %s", dbName)

	cfg := base
	cfg.Database = dbName

	// NewClient applies the embedded migrations to the fresh database.
	client, err := messagedb.NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		adminExec(t, base, fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName))
	})

	return client, cfg
}

// baseConfig returns connection details for the shared database server.
// In CI, TEST_DATABASE_URL points at an external PostgreSQL service
// container. In local dev, a shared testcontainer is started once per test
// binary.
func baseConfig(t *testing.T) messagedb.Config {
	t.Helper()

	if testURL := os.Getenv("TEST_DATABASE_URL"); testURL != "" {
		t.Log("Using external PostgreSQL from TEST_DATABASE_URL")
		cc, err := pgx.ParseConfig(testURL)
		require.NoError(t, err)
		return messagedb.Config{
			Host:     cc.Host,
			Port:     int(cc.Port),
			User:     cc.User,
			Password: cc.Password,
			Database: cc.Database,
			SSLMode:  "disable",
		}
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared PostgreSQL testcontainer for all tests")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("failed to start postgres container: %w", err)
			return
		}

		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = fmt.Errorf("failed to get container host: %w", err)
			return
		}
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = fmt.Errorf("failed to get container port: %w", err)
			return
		}

		sharedBase = messagedb.Config{
			Host:     host,
			Port:     port.Int(),
			User:     "test",
			Password: "test",
			Database: "postgres",
			SSLMode:  "disable",
		}
		t.Logf("Shared container ready: %s:%d", host, port.Int())
	})

	require.NoError(t, containerErr, "Failed to setup shared test container")
	return sharedBase
}

// adminExec runs one statement on the server's admin database, outside any
// per-test database. CREATE/DROP DATABASE must not run in a transaction, so
// this uses a plain single connection.
func adminExec(t *testing.T, base messagedb.Config, stmt string) {
	t.Helper()
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, base.DSN())
	require.NoError(t, err)
	defer func() { _ = conn.Close(ctx) }()

	_, err = conn.Exec(ctx, stmt)
	require.NoError(t, err)
}

// generateDatabaseName creates a unique, PostgreSQL-safe database name.
// Format: test_<sanitized_test_name>_<random_hex>
func generateDatabaseName(t *testing.T) string {
	testName := strings.ToLower(t.Name())
	testName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, testName)

	// Stay under PostgreSQL's 63 char identifier limit
	if len(testName) > 40 {
		testName = testName[:40]
	}

	randomBytes := make([]byte, 4)
	_, err := rand.Read(randomBytes)
	if err != nil {
		t.Fatalf("failed to generate random bytes for database name: %v", err)
	}

	return fmt.Sprintf("test_%s_%s", testName, hex.EncodeToString(randomBytes))
}
