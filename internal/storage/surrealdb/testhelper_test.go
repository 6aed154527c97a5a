package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/vaultsync/internal/common"
	tcommon "github.com/bobmcallan/vaultsync/tests/common"
	surreal "github.com/surrealdb/surrealdb.go"
)

// testStore starts the shared SurrealDB container and returns a Store
// bound to a unique database per test for isolation.
func testStore(t *testing.T) *Store {
	t.Helper()

	sc := tcommon.StartSurrealDB(t)
	ctx := context.Background()

	db, err := surreal.New(sc.Address())
	if err != nil {
		t.Fatalf("connect to SurrealDB: %v", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": "root",
		"pass": "root",
	}); err != nil {
		t.Fatalf("sign in to SurrealDB: %v", err)
	}

	// SurrealDB rejects "/" in database names, subtests produce "Test/subtest"
	sanitized := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbName := fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000)
	if err := db.Use(ctx, "vaultsync_test", dbName); err != nil {
		t.Fatalf("select namespace/database: %v", err)
	}

	store, err := NewStore(ctx, db, common.NewSilentLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
