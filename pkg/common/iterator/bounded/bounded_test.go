package bounded

import (
	"fmt"
	"sort"
	"testing"
)

// mockIterator is a simple in-memory iterator for testing
type mockIterator struct {
	data  map[int32]string
	keys  []int32
	index int
}

func newMockIterator(data map[int32]string) *mockIterator {
	keys := make([]int32, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return &mockIterator{
		data:  data,
		keys:  keys,
		index: -1,
	}
}

func (m *mockIterator) SeekToFirst() {
	if len(m.keys) > 0 {
		m.index = 0
	} else {
		m.index = -1
	}
}

func (m *mockIterator) SeekToLast() {
	if len(m.keys) > 0 {
		m.index = len(m.keys) - 1
	} else {
		m.index = -1
	}
}

func (m *mockIterator) Seek(target int32) bool {
	for i, key := range m.keys {
		if key >= target {
			m.index = i
			return true
		}
	}
	m.index = -1
	return false
}

func (m *mockIterator) Next() bool {
	if m.index >= 0 && m.index < len(m.keys)-1 {
		m.index++
		return true
	}
	m.index = -1
	return false
}

func (m *mockIterator) Key() int32 {
	if m.Valid() {
		return m.keys[m.index]
	}
	return 0
}

func (m *mockIterator) Value() []byte {
	if m.Valid() {
		return []byte(m.data[m.keys[m.index]])
	}
	return nil
}

func (m *mockIterator) Valid() bool {
	return m.index >= 0 && m.index < len(m.keys)
}

func (m *mockIterator) Err() error {
	return nil
}

func testData() map[int32]string {
	data := make(map[int32]string)
	for _, k := range []int32{-20, -10, 0, 10, 20} {
		data[k] = fmt.Sprintf("v%d", k)
	}
	return data
}

func collect(b *BoundedIterator) []int32 {
	var keys []int32
	for b.SeekToFirst(); b.Valid(); b.Next() {
		keys = append(keys, b.Key())
	}
	return keys
}

func equalKeys(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBoundedIterator_NoBounds(t *testing.T) {
	boundedIter := NewBoundedIterator(newMockIterator(testData()), nil, nil)

	expected := []int32{-20, -10, 0, 10, 20}
	if got := collect(boundedIter); !equalKeys(got, expected) {
		t.Errorf("Expected keys %v, got %v", expected, got)
	}

	// After all elements, Next should return false
	if boundedIter.Next() {
		t.Error("Expected Next() to return false after all elements")
	}

	boundedIter.SeekToLast()
	if !boundedIter.Valid() {
		t.Fatal("Expected iterator to be valid after SeekToLast")
	}
	if boundedIter.Key() != 20 {
		t.Errorf("Expected key 20, got %d", boundedIter.Key())
	}
}

func TestBoundedIterator_WithBounds(t *testing.T) {
	// [-10, 10) keeps -10 and 0
	boundedIter := Range(newMockIterator(testData()), -10, 10)

	expected := []int32{-10, 0}
	if got := collect(boundedIter); !equalKeys(got, expected) {
		t.Errorf("Expected keys %v, got %v", expected, got)
	}

	boundedIter.SeekToLast()
	if !boundedIter.Valid() {
		t.Fatal("Expected iterator to be valid after SeekToLast")
	}
	if boundedIter.Key() != 0 {
		t.Errorf("Expected key 0, got %d", boundedIter.Key())
	}
	if string(boundedIter.Value()) != "v0" {
		t.Errorf("Expected value v0, got %q", boundedIter.Value())
	}
}

func TestBoundedIterator_OpenSides(t *testing.T) {
	start := int32(5)
	boundedIter := NewBoundedIterator(newMockIterator(testData()), &start, nil)
	if got, expected := collect(boundedIter), []int32{10, 20}; !equalKeys(got, expected) {
		t.Errorf("Expected keys %v, got %v", expected, got)
	}

	end := int32(-10)
	boundedIter = NewBoundedIterator(newMockIterator(testData()), nil, &end)
	if got, expected := collect(boundedIter), []int32{-20}; !equalKeys(got, expected) {
		t.Errorf("Expected keys %v, got %v", expected, got)
	}

	// Changing the caller's variable must not move the bound
	end = 100
	if got, expected := collect(boundedIter), []int32{-20}; !equalKeys(got, expected) {
		t.Errorf("Expected keys %v after changing the source variable, got %v", expected, got)
	}
}

func TestBoundedIterator_Seek(t *testing.T) {
	boundedIter := Range(newMockIterator(testData()), -10, 10)

	tests := []struct {
		target      int32
		expectValid bool
		expectKey   int32
	}{
		{-30, true, -10}, // Before range, should go to start bound
		{-10, true, -10}, // At range start
		{-5, true, 0},    // Between keys
		{0, true, 0},     // Within range
		{10, false, 0},   // At range end (exclusive)
		{15, false, 0},   // After range
	}

	for i, test := range tests {
		found := boundedIter.Seek(test.target)
		if found != test.expectValid {
			t.Errorf("Test %d: Seek(%d) returned %v, expected %v",
				i, test.target, found, test.expectValid)
		}

		if test.expectValid && boundedIter.Key() != test.expectKey {
			t.Errorf("Test %d: Seek(%d) key is %d, expected %d",
				i, test.target, boundedIter.Key(), test.expectKey)
		}
	}
}

func TestBoundedIterator_EmptyRange(t *testing.T) {
	boundedIter := Range(newMockIterator(testData()), 1, 9)

	boundedIter.SeekToFirst()
	if boundedIter.Valid() {
		t.Errorf("Expected no keys in [1, 9), got %d", boundedIter.Key())
	}

	boundedIter.SeekToLast()
	if boundedIter.Valid() {
		t.Errorf("Expected SeekToLast to find nothing in [1, 9), got %d", boundedIter.Key())
	}
}

func TestBoundedIterator_SetBounds(t *testing.T) {
	boundedIter := NewBoundedIterator(newMockIterator(testData()), nil, nil)

	boundedIter.Seek(0)

	// Bounds that include 0
	lo, hi := int32(-10), int32(20)
	boundedIter.SetBounds(&lo, &hi)
	if !boundedIter.Valid() || boundedIter.Key() != 0 {
		t.Fatal("Iterator should remain valid at 0 after setting bounds that include it")
	}

	// Bounds that exclude 0
	lo, hi = 10, 30
	boundedIter.SetBounds(&lo, &hi)
	if boundedIter.Valid() {
		t.Fatal("Iterator should be invalid after setting bounds that exclude current position")
	}

	boundedIter.SeekToFirst()
	if !boundedIter.Valid() || boundedIter.Key() != 10 {
		t.Errorf("Expected SeekToFirst to land on 10")
	}
}
