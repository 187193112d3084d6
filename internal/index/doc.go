// Package index provides loading, lookup and construction of the entry table
// of an IMTA archive.
//
// The table stores fixed-size entry records sorted by id, enabling O(log n)
// lookups by binary search. Readers assume the order holds; the Builder is
// the single place where it is enforced.
package index
