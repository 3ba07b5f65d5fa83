package models

import "iter"

// AggregationMap groups record names by label. Labels keep the order in which
// they were first seen and names keep insertion order, duplicates included.
// It is not safe for concurrent writers.
type AggregationMap struct {
	order   []string
	members map[string][]string
}

// NewAggregationMap returns an empty map.
func NewAggregationMap() *AggregationMap {
	return &AggregationMap{members: make(map[string][]string)}
}

// Add appends name to the members of label, creating the label if needed.
func (m *AggregationMap) Add(label, name string) {
	if _, ok := m.members[label]; !ok {
		m.order = append(m.order, label)
	}
	m.members[label] = append(m.members[label], name)
}

// Labels returns the labels in first-seen order.
func (m *AggregationMap) Labels() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Members returns a copy of the names grouped under label.
func (m *AggregationMap) Members(label string) []string {
	names, ok := m.members[label]
	if !ok {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Len reports the number of labels.
func (m *AggregationMap) Len() int {
	return len(m.order)
}

// Total reports the number of names summed across all labels.
func (m *AggregationMap) Total() int {
	total := 0
	for _, names := range m.members {
		total += len(names)
	}
	return total
}

// All iterates over labels and their members in first-seen order.
func (m *AggregationMap) All() iter.Seq2[string, []string] {
	return func(yield func(string, []string) bool) {
		for _, label := range m.order {
			if !yield(label, m.Members(label)) {
				return
			}
		}
	}
}

// ToMap returns an unordered copy, convenient for comparisons.
func (m *AggregationMap) ToMap() map[string][]string {
	out := make(map[string][]string, len(m.members))
	for label := range m.members {
		out[label] = m.Members(label)
	}
	return out
}
