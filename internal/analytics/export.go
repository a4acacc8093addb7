package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// ExportTimeLayout is the timestamp format used in exported rows.
const ExportTimeLayout = "2006-01-02 15:04:05"

// ExportHistory flattens the retained history into a header of
// time,total,zone_<id>... and one row per entry. Zone columns cover every id
// seen in the window in ascending order; a zone absent from an entry leaves
// its cell empty.
func (s *State) ExportHistory() ([]string, [][]string) {
	return flatten(s.current.Load().history)
}

func flatten(history []HistoryEntry) ([]string, [][]string) {
	seen := make(map[int]struct{})
	for _, e := range history {
		for id := range e.Zones {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	header := make([]string, 0, len(ids)+2)
	header = append(header, "time", "total")
	for _, id := range ids {
		header = append(header, fmt.Sprintf("zone_%d", id))
	}

	rows := make([][]string, 0, len(history))
	for _, e := range history {
		row := make([]string, 0, len(header))
		row = append(row, e.Time.Format(ExportTimeLayout), strconv.Itoa(e.Total))
		for _, id := range ids {
			if n, ok := e.Zones[id]; ok {
				row = append(row, strconv.Itoa(n))
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	return header, rows
}

// WriteCSV writes the exported history to w. It returns the number of data
// rows written.
func (s *State) WriteCSV(w io.Writer) (int, error) {
	header, rows := s.ExportHistory()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, err
	}
	if err := cw.WriteAll(rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
