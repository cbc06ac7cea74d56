package features

import (
	"math"
	"sort"
	"time"
)

// Frame is a column-oriented table of (station, timestamp) observations.
// Identifier columns (timestamps and station IDs) live in dedicated slices;
// every other column is float64 with NaN standing in for null. Column order
// is the order of first assignment and is preserved through all transforms,
// which keeps pipeline output deterministic for identical input.
type Frame struct {
	Times    []time.Time
	Stations []int64

	cols []string
	data map[string][]float64
}

func NewFrame(n int) *Frame {
	return &Frame{
		Times:    make([]time.Time, 0, n),
		Stations: make([]int64, 0, n),
		data:     make(map[string][]float64),
	}
}

func (f *Frame) Len() int { return len(f.Times) }

// Columns returns the column names in assignment order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.cols))
	copy(out, f.cols)
	return out
}

func (f *Frame) Has(name string) bool {
	_, ok := f.data[name]
	return ok
}

// Col returns the backing slice for a column, or nil if absent.
func (f *Frame) Col(name string) []float64 {
	return f.data[name]
}

// SetCol assigns a column, appending it to the column order on first
// assignment. The slice length must match the frame length.
func (f *Frame) SetCol(name string, values []float64) {
	if _, ok := f.data[name]; !ok {
		f.cols = append(f.cols, name)
	}
	f.data[name] = values
}

// NewNaNCol allocates a column of the frame's length filled with NaN.
func (f *Frame) NewNaNCol() []float64 {
	col := make([]float64, f.Len())
	for i := range col {
		col[i] = math.NaN()
	}
	return col
}

// AppendRow adds one row of identifier values. Feature columns must be set
// afterwards via SetCol with full-length slices.
func (f *Frame) AppendRow(t time.Time, stationID int64) {
	f.Times = append(f.Times, t)
	f.Stations = append(f.Stations, stationID)
}

// SortByTime stably sorts all rows by timestamp ascending.
func (f *Frame) SortByTime() {
	idx := make([]int, f.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return f.Times[idx[a]].Before(f.Times[idx[b]])
	})
	f.reorder(idx)
}

func (f *Frame) reorder(idx []int) {
	times := make([]time.Time, len(idx))
	stations := make([]int64, len(idx))
	for i, j := range idx {
		times[i] = f.Times[j]
		stations[i] = f.Stations[j]
	}
	f.Times = times
	f.Stations = stations
	for name, col := range f.data {
		out := make([]float64, len(idx))
		for i, j := range idx {
			out[i] = col[j]
		}
		f.data[name] = out
	}
}

// Filter keeps only the rows for which keep[i] is true.
func (f *Frame) Filter(keep []bool) {
	idx := make([]int, 0, f.Len())
	for i, k := range keep {
		if k {
			idx = append(idx, i)
		}
	}
	f.reorder(idx)
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := &Frame{
		Times:    append([]time.Time(nil), f.Times...),
		Stations: append([]int64(nil), f.Stations...),
		cols:     append([]string(nil), f.cols...),
		data:     make(map[string][]float64, len(f.data)),
	}
	for name, col := range f.data {
		out.data[name] = append([]float64(nil), col...)
	}
	return out
}

// stationGroups partitions row indices by station ID, preserving row order
// within each group and ordering groups by first appearance. All
// interval-dependent feature math is scoped to one group at a time so that
// values never leak across stations.
func (f *Frame) stationGroups() [][]int {
	var order []int64
	byStation := make(map[int64][]int)
	for i, id := range f.Stations {
		if _, ok := byStation[id]; !ok {
			order = append(order, id)
		}
		byStation[id] = append(byStation[id], i)
	}
	groups := make([][]int, 0, len(order))
	for _, id := range order {
		groups = append(groups, byStation[id])
	}
	return groups
}

// StationCount returns the number of distinct stations in the frame.
func (f *Frame) StationCount() int {
	seen := make(map[int64]struct{})
	for _, id := range f.Stations {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// groupTimes gathers the timestamps for one group of row indices.
func (f *Frame) groupTimes(idx []int) []time.Time {
	out := make([]time.Time, len(idx))
	for i, j := range idx {
		out[i] = f.Times[j]
	}
	return out
}
