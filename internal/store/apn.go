package store

import (
	"github.com/mir00r/subscriber-dbi/internal/domain"
	dbierrors "github.com/mir00r/subscriber-dbi/internal/errors"
)

// MaxProfiles is the number of charging profiles one APN can hold
const MaxProfiles = 256

// Profile is one charging-characteristic profile of an APN. ID -1 is the
// APN's default profile.
type Profile struct {
	ID    int32
	QoS   domain.QoS
	slot  int
	inUse bool
	valid bool
}

// Valid reports whether the profile has been committed
func (p *Profile) Valid() bool {
	return p.valid
}

// APNRecord is one named APN/DNN with its bounded profile table
type APNRecord struct {
	Name string
	// AMBR is the APN-level AMBR; sessions currently take the profile MBR instead
	AMBR domain.Bitrate

	slot     int
	inUse    bool
	valid    bool
	profiles [MaxProfiles]Profile
	byID     map[int32]int
	free     freeList
}

func (a *APNRecord) reset() {
	a.Name = ""
	a.AMBR = domain.Bitrate{}
	a.inUse = false
	a.valid = false
	for i := range a.profiles {
		a.profiles[i] = Profile{slot: i}
	}
	a.byID = make(map[int32]int)
	a.free = newFreeList(MaxProfiles)
}

// Valid reports whether the record is visible to lookups
func (a *APNRecord) Valid() bool {
	return a.valid
}

// FindProfile returns the valid profile with the given id
func (a *APNRecord) FindProfile(id int32) (*Profile, bool) {
	idx, ok := a.byID[id]
	if !ok {
		return nil, false
	}
	p := &a.profiles[idx]
	if !p.valid {
		return nil, false
	}
	return p, true
}

// AllocateProfile reserves a free profile slot for id
func (a *APNRecord) AllocateProfile(id int32) (*Profile, error) {
	idx, ok := a.free.pop()
	if !ok {
		return nil, dbierrors.Newf(dbierrors.ErrCodeStoreFull, component,
			"too many profiles for apn %s, capacity %d reached", a.Name, MaxProfiles).
			WithMetadata("apn", a.Name).
			WithMetadata("id", id)
	}

	p := &a.profiles[idx]
	*p = Profile{ID: id, slot: idx, inUse: true}
	return p, nil
}

// CommitProfile marks an allocated profile valid
func (a *APNRecord) CommitProfile(p *Profile) error {
	if _, exists := a.FindProfile(p.ID); exists {
		return duplicateProfile(a.Name, p.ID)
	}
	p.valid = true
	a.byID[p.ID] = p.slot
	return nil
}

// ReleaseProfile drops a profile and frees its slot
func (a *APNRecord) ReleaseProfile(p *Profile) {
	if p == nil || !p.inUse {
		return
	}
	if idx, ok := a.byID[p.ID]; ok && idx == p.slot {
		delete(a.byID, p.ID)
	}
	slot := p.slot
	*p = Profile{slot: slot}
	a.free.push(slot)
}

// Profiles returns copies of the valid profiles in slot order
func (a *APNRecord) Profiles() []Profile {
	out := make([]Profile, 0, len(a.byID))
	for i := range a.profiles {
		if a.profiles[i].valid {
			out = append(out, a.profiles[i])
		}
	}
	return out
}

// ProfileCount returns the number of valid profiles
func (a *APNRecord) ProfileCount() int {
	return len(a.byID)
}

// FreeProfiles returns how many profile slots are still available
func (a *APNRecord) FreeProfiles() int {
	return a.free.len()
}

func duplicateProfile(apn string, id int32) error {
	return dbierrors.Newf(dbierrors.ErrCodeDuplicateProfile, component,
		"duplicated profile with id %d for apn %s", id, apn).
		WithMetadata("apn", apn).
		WithMetadata("id", id)
}

// CheckDuplicate returns DUPLICATE_PROFILE when id is already present
func (a *APNRecord) CheckDuplicate(id int32) error {
	if _, exists := a.FindProfile(id); exists {
		return duplicateProfile(a.Name, id)
	}
	return nil
}
