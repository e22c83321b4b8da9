package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
)

// dialect builds the dynamic listing queries; fixed queries stay as literals.
var dialect = goqu.Dialect("sqlite3")

// queryDataset renders ds with placeholders and runs it.
func queryDataset(ctx context.Context, q Querier, ds *goqu.SelectDataset) (*sql.Rows, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return q.QueryContext(ctx, query, args...)
}
