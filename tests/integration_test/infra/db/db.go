package db

import (
	"context"
	"fmt"
	"os"

	"github.com/swarmgrid/swarm-core/internal/db"
)

// Setup connects to the store named by POSTGRES_URL. Integration runs
// point this at a database provisioned outside the test process; callers
// bail out when the variable is unset.
func Setup(ctx context.Context) (*db.DB, string, error) {
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		return nil, "", fmt.Errorf("POSTGRES_URL not set")
	}

	d, err := db.New(ctx)
	if err != nil {
		return nil, "", err
	}
	return d, url, nil
}
