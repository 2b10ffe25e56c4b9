package physical

// SliceRows serves an already materialized, ordered row slice through the Rows interface.
type SliceRows struct {
	rows []*Row
	pos  int
	err  error
}

// NewSliceRows wraps rows. The slice must already be in query order.
func NewSliceRows(rows []*Row) *SliceRows {
	return &SliceRows{rows: rows, pos: -1}
}

// ErrRows returns a Rows that yields nothing and reports err.
func ErrRows(err error) *SliceRows {
	return &SliceRows{pos: -1, err: err}
}

func (s *SliceRows) Next() bool {
	if s.err != nil || s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *SliceRows) Row() *Row {
	if s.pos < 0 || s.pos >= len(s.rows) {
		return nil
	}
	return s.rows[s.pos]
}

func (s *SliceRows) Err() error { return s.err }

func (s *SliceRows) Close() error {
	s.rows = nil
	return nil
}
