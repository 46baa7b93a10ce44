package flight

import (
	"fmt"
	"time"
)

// FilterOp is a comparison operator in a flight enumeration filter.
type FilterOp string

const (
	OpEqual        FilterOp = "="
	OpNotEqual     FilterOp = "!="
	OpLess         FilterOp = "<"
	OpLessEqual    FilterOp = "<="
	OpGreater      FilterOp = ">"
	OpGreaterEqual FilterOp = ">="
	OpIn           FilterOp = "IN"
)

func (op FilterOp) valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpIn:
		return true
	}
	return false
}

// Predicate is one comparison, either against a flight-table column or an
// input parameter. Value types: string, time.Time, nil, or a slice with OpIn.
type Predicate struct {
	Key   string
	Op    FilterOp
	Value any
}

// BoolExpr is a boolean expression tree over input-parameter predicates,
// supporting arbitrary AND/OR nesting.
type BoolExpr struct {
	Pred     *Predicate // leaf when set
	And      bool       // AND vs OR for interior nodes
	Children []*BoolExpr
}

// Param builds a leaf comparing an input parameter.
func Param(key string, op FilterOp, value any) *BoolExpr {
	return &BoolExpr{Pred: &Predicate{Key: key, Op: op, Value: value}}
}

// MatchAll combines expressions with AND.
func MatchAll(children ...*BoolExpr) *BoolExpr {
	return &BoolExpr{And: true, Children: children}
}

// MatchAny combines expressions with OR.
func MatchAny(children ...*BoolExpr) *BoolExpr {
	return &BoolExpr{And: false, Children: children}
}

// SortDirection orders enumeration by submit time.
type SortDirection string

const (
	SortAscending  SortDirection = "ASC"
	SortDescending SortDirection = "DESC"
)

// Filter is an AND of flight-table predicates and input-parameter
// predicates, plus an optional boolean expression over input parameters.
// Build it fluently; Validate reports the first construction error.
type Filter struct {
	flightPreds []Predicate
	inputPreds  []Predicate
	inputExpr   *BoolExpr
	sort        SortDirection
	err         error
}

func NewFilter() *Filter {
	return &Filter{sort: SortAscending}
}

func (f *Filter) addFlight(key string, op FilterOp, value any) *Filter {
	if f.err == nil && !op.valid() {
		f.err = fmt.Errorf("invalid filter operator %q for %s", op, key)
		return f
	}
	f.flightPreds = append(f.flightPreds, Predicate{Key: key, Op: op, Value: value})
	return f
}

// FlightClass filters on the factory class key.
func (f *Filter) FlightClass(op FilterOp, className string) *Filter {
	return f.addFlight("class_name", op, className)
}

// Status filters on the flight status.
func (f *Filter) Status(op FilterOp, s Status) *Filter {
	return f.addFlight("status", op, string(s))
}

// SubmitTime filters on submission time.
func (f *Filter) SubmitTime(op FilterOp, t time.Time) *Filter {
	return f.addFlight("submit_time", op, t)
}

// CompletedTime filters on completion time; a nil-valued equality matches
// incomplete flights.
func (f *Filter) CompletedTime(op FilterOp, t time.Time) *Filter {
	return f.addFlight("completed_time", op, t)
}

// InputParameter adds an input-parameter predicate ANDed with the rest.
// The value is serialized with the engine's object codec before comparison.
func (f *Filter) InputParameter(key string, op FilterOp, value any) *Filter {
	if f.err == nil && !op.valid() {
		f.err = fmt.Errorf("invalid filter operator %q for input %s", op, key)
		return f
	}
	if f.err == nil && key == "" {
		f.err = fmt.Errorf("input parameter filter requires a key")
		return f
	}
	f.inputPreds = append(f.inputPreds, Predicate{Key: key, Op: op, Value: value})
	return f
}

// InputExpression sets the boolean expression tree. Only one tree per
// filter; it is ANDed with the plain predicates.
func (f *Filter) InputExpression(e *BoolExpr) *Filter {
	if f.err == nil && f.inputExpr != nil {
		f.err = fmt.Errorf("filter already has an input expression")
		return f
	}
	f.inputExpr = e
	return f
}

// SortBySubmit sets enumeration order. Default ascending.
func (f *Filter) SortBySubmit(d SortDirection) *Filter {
	f.sort = d
	return f
}

func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.err != nil {
		return f.err
	}
	if f.inputExpr != nil {
		if err := validateExpr(f.inputExpr); err != nil {
			return err
		}
	}
	return nil
}

func validateExpr(e *BoolExpr) error {
	if e == nil {
		return fmt.Errorf("nil expression node")
	}
	if e.Pred != nil {
		if len(e.Children) > 0 {
			return fmt.Errorf("expression node %q has both predicate and children", e.Pred.Key)
		}
		if !e.Pred.Op.valid() {
			return fmt.Errorf("invalid operator %q in expression", e.Pred.Op)
		}
		if e.Pred.Key == "" {
			return fmt.Errorf("expression predicate requires a key")
		}
		return nil
	}
	if len(e.Children) == 0 {
		return fmt.Errorf("expression node has no predicate and no children")
	}
	for _, c := range e.Children {
		if err := validateExpr(c); err != nil {
			return err
		}
	}
	return nil
}

// Accessors for the SQL generator.

func (f *Filter) FlightPredicates() []Predicate {
	if f == nil {
		return nil
	}
	return f.flightPreds
}

func (f *Filter) InputPredicates() []Predicate {
	if f == nil {
		return nil
	}
	return f.inputPreds
}

func (f *Filter) InputExpr() *BoolExpr {
	if f == nil {
		return nil
	}
	return f.inputExpr
}

func (f *Filter) Sort() SortDirection {
	if f == nil || f.sort == "" {
		return SortAscending
	}
	return f.sort
}
