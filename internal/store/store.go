package store

import (
	"sort"
	"strings"

	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
)

const (
	// DefaultAPNCapacity is the number of APN records a store holds unless
	// configured otherwise
	DefaultAPNCapacity = 10

	// WildcardAPN is consulted when no record matches a DNN
	WildcardAPN = "*"

	component = "store"
)

// APNStore is a fixed-capacity arena of APN records. Slots are handed out
// lowest index first and only become visible to FindAPN once committed.
//
// APNStore is not safe for concurrent use; the owning backend serializes
// access.
type APNStore struct {
	records []APNRecord
	byName  map[string]int
	free    freeList
}

// Stats is a point-in-time summary of a store
type Stats struct {
	Capacity int            `json:"capacity"`
	APNs     int            `json:"apns"`
	Profiles map[string]int `json:"profiles"`
}

// NewAPNStore creates a store holding at most capacity APN records
func NewAPNStore(capacity int) *APNStore {
	if capacity <= 0 {
		capacity = DefaultAPNCapacity
	}

	s := &APNStore{
		records: make([]APNRecord, capacity),
		byName:  make(map[string]int, capacity),
		free:    newFreeList(capacity),
	}
	for i := range s.records {
		s.records[i].slot = i
		s.records[i].reset()
	}
	return s
}

// FindAPN returns the valid record whose name matches case-insensitively
func (s *APNStore) FindAPN(name string) (*APNRecord, bool) {
	idx, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	rec := &s.records[idx]
	if !rec.valid {
		return nil, false
	}
	return rec, true
}

// AllocateAPN reserves a free slot for name. The record stays invisible to
// lookups until Commit; on failure the caller must Release it.
func (s *APNStore) AllocateAPN(name string) (*APNRecord, error) {
	idx, ok := s.free.pop()
	if !ok {
		return nil, dbierrors.Newf(dbierrors.ErrCodeStoreFull, component,
			"too many APNs, capacity %d reached", len(s.records)).
			WithMetadata("apn", name)
	}

	rec := &s.records[idx]
	rec.reset()
	rec.Name = name
	rec.inUse = true
	return rec, nil
}

// Commit marks an allocated record valid and makes it visible to lookups
func (s *APNStore) Commit(rec *APNRecord) error {
	key := strings.ToLower(rec.Name)
	if other, ok := s.byName[key]; ok && other != rec.slot {
		return dbierrors.Newf(dbierrors.ErrCodeAPNAlreadyLoaded, component,
			"apn %s is already loaded", rec.Name).
			WithMetadata("apn", rec.Name)
	}

	rec.valid = true
	s.byName[key] = rec.slot
	return nil
}

// Release invalidates a record, drops its profiles and returns the slot
func (s *APNStore) Release(rec *APNRecord) {
	if rec == nil || !rec.inUse {
		return
	}
	if idx, ok := s.byName[strings.ToLower(rec.Name)]; ok && idx == rec.slot {
		delete(s.byName, strings.ToLower(rec.Name))
	}
	rec.reset()
	s.free.push(rec.slot)
}

// Reset invalidates and releases every record
func (s *APNStore) Reset() {
	for i := range s.records {
		s.records[i].reset()
	}
	s.byName = make(map[string]int, len(s.records))
	s.free = newFreeList(len(s.records))
}

// Len returns the number of valid records
func (s *APNStore) Len() int {
	return len(s.byName)
}

// Capacity returns the maximum number of records
func (s *APNStore) Capacity() int {
	return len(s.records)
}

// Names returns the names of valid records, sorted
func (s *APNStore) Names() []string {
	names := make([]string, 0, len(s.byName))
	for _, idx := range s.byName {
		names = append(names, s.records[idx].Name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a summary of the store
func (s *APNStore) Stats() Stats {
	stats := Stats{
		Capacity: len(s.records),
		APNs:     len(s.byName),
		Profiles: make(map[string]int, len(s.byName)),
	}
	for _, idx := range s.byName {
		rec := &s.records[idx]
		stats.Profiles[rec.Name] = rec.ProfileCount()
	}
	return stats
}

// freeList hands out the lowest free slot first
type freeList struct {
	// descending, so the lowest index sits at the end
	slots []int
}

func newFreeList(n int) freeList {
	slots := make([]int, n)
	for i := range slots {
		slots[i] = n - 1 - i
	}
	return freeList{slots: slots}
}

func (f *freeList) pop() (int, bool) {
	n := len(f.slots)
	if n == 0 {
		return 0, false
	}
	idx := f.slots[n-1]
	f.slots = f.slots[:n-1]
	return idx, true
}

func (f *freeList) push(idx int) {
	pos := sort.Search(len(f.slots), func(i int) bool { return f.slots[i] < idx })
	f.slots = append(f.slots, 0)
	copy(f.slots[pos+1:], f.slots[pos:])
	f.slots[pos] = idx
}

func (f *freeList) len() int {
	return len(f.slots)
}
