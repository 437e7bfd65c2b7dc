//go:build integration

package reservations

import (
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bizdev-events/backend/pkg/database/dbtest"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(dbtest.Run(m, func(p *pgxpool.Pool) { testPool = p }))
}
