package calls

import (
	"context"
	"errors"
	"fmt"

	"callwatch/internal/browser"
)

// ErrTableNotFound means the live calls table is not on the page.
var ErrTableNotFound = errors.New("live calls table not found")

// Scanner reads the live calls table into raw rows.
type Scanner struct {
	TableSelector string
}

// Rows returns every tr of the table with its id and td texts. Per-row
// failures are carried on the row; only a missing table fails the scan.
func (s Scanner) Rows(ctx context.Context, page browser.Page) ([]RawRow, error) {
	tables, err := page.FindElements(ctx, s.TableSelector)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTableNotFound, err)
	}
	if len(tables) == 0 {
		return nil, ErrTableNotFound
	}
	trs, err := tables[0].FindElements(ctx, "tr")
	if err != nil {
		if errors.Is(err, browser.ErrStaleElement) {
			return nil, fmt.Errorf("%w: %v", ErrTableNotFound, err)
		}
		return nil, err
	}

	rows := make([]RawRow, 0, len(trs))
	for _, tr := range trs {
		rows = append(rows, readRow(ctx, tr))
	}
	return rows, nil
}

func readRow(ctx context.Context, tr browser.Element) RawRow {
	id, _, err := tr.Attribute(ctx, "id")
	if err != nil {
		return RawRow{Err: err}
	}
	tds, err := tr.FindElements(ctx, "td")
	if err != nil {
		return RawRow{ID: id, Err: err}
	}
	cells := make([]string, 0, len(tds))
	for _, td := range tds {
		text, err := td.Text(ctx)
		if err != nil {
			return RawRow{ID: id, Err: err}
		}
		cells = append(cells, text)
	}
	return RawRow{ID: id, Cells: cells}
}
