// Package report reshapes fetched computer and patch records into flat
// per-user lookup tables and fleet-wide frequency counters.
package report

import "sort"

// Counter maps an item name to its occurrence count across the fleet. One
// occurrence is one (computer, item) pair: an item is counted once per
// computer that reports it, no matter how many times that computer repeats
// it.
type Counter map[string]int

// Add records one occurrence of name.
func (c Counter) Add(name string) { c[name]++ }

// Total returns the sum of all counts.
func (c Counter) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// CountEntry is one name/count pair of a sorted counter view.
type CountEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Sorted returns all entries ordered by descending count, ties broken
// alphabetically.
func (c Counter) Sorted() []CountEntry {
	entries := make([]CountEntry, 0, len(c))
	for name, count := range c {
		entries = append(entries, CountEntry{Name: name, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// Top returns the n most frequent entries, all of them when n <= 0 or
// exceeds the counter size.
func (c Counter) Top(n int) []CountEntry {
	entries := c.Sorted()
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[:n]
}
