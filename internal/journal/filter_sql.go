package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/stairway/flight"
)

// Columns of the flight table a filter may touch. Everything else is
// rejected before it reaches SQL.
var filterableColumns = map[string]bool{
	"class_name":     true,
	"status":         true,
	"submit_time":    true,
	"completed_time": true,
}

const defaultPageSize = 100

// FlightPage is one enumeration page plus the cursor for the next one.
type FlightPage struct {
	States        []*flight.State
	NextPageToken string
}

// GetFlights enumerates flights matching the filter in submit-time order,
// returning at most pageSize states and a cursor resuming after the last row.
// An empty page carries the current time so pollers keep making progress.
func (j *Journal) GetFlights(ctx context.Context, f *flight.Filter, pageSize int, pageToken string) (*FlightPage, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	var cursor *flight.PageToken
	if pageToken != "" {
		tok, err := flight.DecodePageToken(pageToken)
		if err != nil {
			return nil, err
		}
		cursor = &tok
	}

	var page *FlightPage
	err := runTransaction(ctx, j.log, j.db, readCommittedTx, func(tx *gorm.DB) error {
		q, err := j.applyFilter(tx.Model(&FlightRow{}), f)
		if err != nil {
			return err
		}
		sort := f.Sort()
		if cursor != nil {
			if sort == flight.SortDescending {
				q = q.Where("submit_time < ?", cursor.Time)
			} else {
				q = q.Where("submit_time > ?", cursor.Time)
			}
		}
		q = q.Order("submit_time " + string(sort)).Limit(pageSize)

		var rows []FlightRow
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		states := make([]*flight.State, 0, len(rows))
		for i := range rows {
			s, err := j.stateFromRow(tx, &rows[i])
			if err != nil {
				return err
			}
			states = append(states, s)
		}
		next := time.Now().UTC()
		if len(rows) > 0 {
			next = rows[len(rows)-1].SubmitTime
		}
		page = &FlightPage{
			States:        states,
			NextPageToken: flight.NewPageToken(next).Encode(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// CountFlights counts flights matching the filter.
func (j *Journal) CountFlights(ctx context.Context, f *flight.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, err
	}
	var count int64
	err := runTransaction(ctx, j.log, j.db, readCommittedTx, func(tx *gorm.DB) error {
		q, err := j.applyFilter(tx.Model(&FlightRow{}), f)
		if err != nil {
			return err
		}
		return q.Count(&count).Error
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// applyFilter translates the filter into WHERE clauses on the flight table.
// Input-parameter predicates become EXISTS subqueries against flight_input;
// the boolean expression tree is rendered into one parenthesized clause.
func (j *Journal) applyFilter(q *gorm.DB, f *flight.Filter) (*gorm.DB, error) {
	for _, p := range f.FlightPredicates() {
		if !filterableColumns[p.Key] {
			return nil, fmt.Errorf("unfilterable flight column %q", p.Key)
		}
		clause, args, err := columnClause(p)
		if err != nil {
			return nil, err
		}
		q = q.Where(clause, args...)
	}
	for _, p := range f.InputPredicates() {
		clause, args, err := j.inputClause(p)
		if err != nil {
			return nil, err
		}
		q = q.Where(clause, args...)
	}
	if e := f.InputExpr(); e != nil {
		clause, args, err := j.exprClause(e)
		if err != nil {
			return nil, err
		}
		q = q.Where(clause, args...)
	}
	return q, nil
}

func columnClause(p flight.Predicate) (string, []any, error) {
	if p.Value == nil {
		switch p.Op {
		case flight.OpEqual:
			return p.Key + " IS NULL", nil, nil
		case flight.OpNotEqual:
			return p.Key + " IS NOT NULL", nil, nil
		default:
			return "", nil, fmt.Errorf("operator %q does not accept a nil value", p.Op)
		}
	}
	if p.Op == flight.OpIn {
		return p.Key + " IN ?", []any{p.Value}, nil
	}
	if t, ok := p.Value.(time.Time); ok {
		return p.Key + " " + string(p.Op) + " ?", []any{t.UTC()}, nil
	}
	return p.Key + " " + string(p.Op) + " ?", []any{p.Value}, nil
}

// inputClause compares a stored input parameter against a codec-serialized
// value. Comparisons are on the serialized text, which is exact for equality
// and lexicographic for ordering.
func (j *Journal) inputClause(p flight.Predicate) (string, []any, error) {
	const sub = "EXISTS (SELECT 1 FROM flight_input fi WHERE fi.flight_id = flight.flight_id AND fi.key = ? AND fi.value %s ?)"
	if p.Op == flight.OpIn {
		values, err := j.marshalSlice(p.Value)
		if err != nil {
			return "", nil, fmt.Errorf("input filter %q: %w", p.Key, err)
		}
		return fmt.Sprintf(sub, "IN"), []any{p.Key, values}, nil
	}
	serialized, err := j.objectCodec.Marshal(p.Value)
	if err != nil {
		return "", nil, fmt.Errorf("input filter %q: %w", p.Key, err)
	}
	return fmt.Sprintf(sub, string(p.Op)), []any{p.Key, serialized}, nil
}

func (j *Journal) marshalSlice(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			items = make([]any, len(ss))
			for i, s := range ss {
				items[i] = s
			}
		} else {
			return nil, fmt.Errorf("IN requires a slice value, got %T", v)
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := j.objectCodec.Marshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (j *Journal) exprClause(e *flight.BoolExpr) (string, []any, error) {
	if e.Pred != nil {
		return j.inputClause(*e.Pred)
	}
	op := " OR "
	if e.And {
		op = " AND "
	}
	parts := make([]string, 0, len(e.Children))
	var args []any
	for _, c := range e.Children {
		clause, childArgs, err := j.exprClause(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, clause)
		args = append(args, childArgs...)
	}
	return "(" + strings.Join(parts, op) + ")", args, nil
}
