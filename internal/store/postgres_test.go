package store

import (
	"strings"
	"testing"
	"time"
)

// fakeRows feeds scanChanges one row per entry, in changeColumns order.
type fakeRows struct {
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.rows[r.i-1]
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]string:
			*d = v.([]string)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }

func changeRow(id, price string) []any {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return []any{id, []string{"price"}, price, "10", "1000", "0.005", "0.025", false, `{"price":"200"}`, at}
}

func TestScanChanges(t *testing.T) {
	changes, err := scanChanges(&fakeRows{rows: [][]any{changeRow("a", "200"), changeRow("b", "201.5")}})
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if !changes[1].Price.Equal(d("201.5")) || !changes[0].TotalDebt.Equal(d("1000")) {
		t.Errorf("unexpected amounts: %+v", changes)
	}
	if string(changes[0].State) != `{"price":"200"}` {
		t.Errorf("state = %s", changes[0].State)
	}
}

func TestScanChanges_RejectsBadAmount(t *testing.T) {
	_, err := scanChanges(&fakeRows{rows: [][]any{changeRow("a", "NaN-ish")}})
	if err == nil {
		t.Fatal("expected an error for an unparsable amount")
	}
	if !strings.Contains(err.Error(), "change a") {
		t.Errorf("error should name the record: %v", err)
	}
}
