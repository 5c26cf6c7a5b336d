package reduce

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/strata-orm/strata/alias"
	"github.com/strata-orm/strata/sqlgen"
)

// StreamError reports a violation of the Streaming Driver's ordering
// contract (spec.md §4.G): the result set must be ordered by the root
// entity's id column(s), at least as a tie-break, so a change in root
// identity reliably marks the end of that root's row-group.
type StreamError struct{ message string }

func (e *StreamError) Error() string { return "strata: streaming driver: " + e.message }

func streamErrf(format string, args ...any) error {
	return &StreamError{message: fmt.Sprintf(format, args...)}
}

// Streamer incrementally reduces a root-ordered result set, invoking emit
// once per root entity as soon as its row-group ends, rather than buffering
// the whole result set the way Reducer.Reduce does (spec.md §4.G).
type Streamer struct {
	Plan    *alias.QueryPlan
	reducer *Reducer
}

func NewStreamer(plan *alias.QueryPlan) *Streamer {
	return &Streamer{Plan: plan, reducer: New(plan)}
}

// PrepareStreamOrder validates the order-by fragments a caller intends to
// pass to the SQL Emitter before ever building or executing a Statement for
// this Streamer (spec.md §4.G): streaming is only sound when the result set
// is ordered by the root entity's identity, so an ORDER BY over any
// non-root alias is rejected here with a descriptive error rather than left
// to be discovered after execution by consume's reappeared-root check. When
// opts carries no order-by at all, it defaults to the root id columns.
func (s *Streamer) PrepareStreamOrder(opts sqlgen.BuildOptions) (sqlgen.BuildOptions, error) {
	if len(opts.OrderBy) == 0 {
		opts.OrderBy = rootIDOrderBy(s.Plan.Root)
		return opts, nil
	}
	root := s.Plan.Root
	for _, f := range opts.OrderBy {
		if f.OwnerPath != "" && f.OwnerPath != root.Path {
			return sqlgen.BuildOptions{}, streamErrf("ordering by a joined alias breaks root-grouping; order by a root column")
		}
	}
	return opts, nil
}

func rootIDOrderBy(root *alias.Alias) []sqlgen.Fragment {
	frags := make([]sqlgen.Fragment, 0, len(root.IDFields))
	for _, f := range root.IDFields {
		frags = append(frags, sqlgen.Fragment{Text: fmt.Sprintf("{this}.%s", f.Column)})
	}
	return frags
}

// Run consumes rows on one goroutine and reduces/emits on another, joined
// by an errgroup so a failure on either side (a scan error, a context
// cancellation, an emit error, an ordering violation) stops both promptly.
// emit is called synchronously on the reducing goroutine, in root
// first-appearance order; it must not retain rows beyond its call.
func (s *Streamer) Run(ctx context.Context, rows ColumnScanner, emit func(any) error) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	rowCh := make(chan map[string]any, 64)

	group.Go(func() error {
		defer close(rowCh)
		for rows.Next() {
			values, err := scanRow(rows, cols)
			if err != nil {
				return err
			}
			select {
			case rowCh <- values:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return rows.Err()
	})

	group.Go(func() error {
		return s.consume(ctx, rowCh, emit)
	})

	return group.Wait()
}

func (s *Streamer) consume(ctx context.Context, rowCh <-chan map[string]any, emit func(any) error) error {
	st := newReduceState()
	rootPath := s.Plan.Root.Path

	var currentKey string
	haveCurrent := false
	flushed := map[string]bool{}

	flush := func() error {
		entity, ok := st.identity[rootPath][currentKey]
		if !ok {
			return nil
		}
		if err := emit(entity.Interface()); err != nil {
			return err
		}
		flushed[currentKey] = true
		delete(st.identity[rootPath], currentKey)
		return nil
	}

	for {
		select {
		case values, ok := <-rowCh:
			if !ok {
				if haveCurrent {
					return flush()
				}
				return nil
			}
			rootKey, ok := s.reducer.idKeyFromValues(s.Plan.Root, values)
			if !ok {
				return streamErrf("root id column was null")
			}
			if haveCurrent && rootKey != currentKey {
				if err := flush(); err != nil {
					return err
				}
			}
			if flushed[rootKey] {
				return streamErrf("result set is not ordered by the root id: root %q reappeared after its row-group had already ended", rootKey)
			}
			currentKey = rootKey
			haveCurrent = true
			if err := s.reducer.reduceRow(st, values); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
