package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// Store holds the six regions of a model directory for one session.
type Store struct {
	dir  string
	mode Mode

	revisions *region
	pages     *region
	users     *region

	assignments *region
	topics      *region
	userTopics  *region

	numRevisions int64
	numPages     int64
	numUsers     int64

	hp      Hyperparameters
	summary *Summary

	activeOnce  sync.Once
	activeUsers int64
}

// Open opens every region of dir. The immutable regions are always mapped
// read-only; mode decides how the mutable ones are held.
func Open(dir string, mode Mode) (*Store, error) {
	s, err := OpenRevisions(dir)
	if err != nil {
		return nil, err
	}
	s.mode = mode
	if err := s.openInference(accessFor(mode)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenRevisions opens only the immutable revision, page and user regions.
func OpenRevisions(dir string) (*Store, error) {
	s := &Store{dir: dir, mode: ReadOnly}

	var err error
	if s.revisions, err = openRegion(filepath.Join(dir, RevisionsFile), accessImmutable); err != nil {
		return nil, err
	}
	if s.pages, err = openRegion(filepath.Join(dir, PageIndexFile), accessImmutable); err != nil {
		s.Close()
		return nil, err
	}
	if s.users, err = openRegion(filepath.Join(dir, UserIndexFile), accessImmutable); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.validateImmutable(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) openInference(how access) error {
	var err error
	if s.assignments, err = openRegion(filepath.Join(s.dir, AssignmentsFile), how); err != nil {
		return err
	}
	if s.topics, err = openRegion(filepath.Join(s.dir, TopicIndexFile), how); err != nil {
		return err
	}
	if s.userTopics, err = openRegion(filepath.Join(s.dir, UserTopicFile), how); err != nil {
		return err
	}
	return s.validateInference()
}

func (s *Store) validateImmutable() error {
	rev := s.revisions.data
	if len(rev) < revHeaderSize {
		return fmt.Errorf("%w: %s is truncated", ErrCorruptRegion, RevisionsFile)
	}
	s.numRevisions = getI64(rev, 0)
	if s.numRevisions < 0 || int64(len(rev)) != revisionsRegionSize(s.numRevisions) {
		return fmt.Errorf("%w: %s holds %d bytes for %d revisions",
			ErrCorruptRegion, RevisionsFile, len(rev), s.numRevisions)
	}

	var err error
	if s.numPages, err = validateIndex(s.pages.data, PageIndexFile); err != nil {
		return err
	}
	if s.numUsers, err = validateIndex(s.users.data, UserIndexFile); err != nil {
		return err
	}
	return nil
}

func validateIndex(b []byte, name string) (int64, error) {
	if len(b) < idxHeaderSize {
		return 0, fmt.Errorf("%w: %s is truncated", ErrCorruptRegion, name)
	}
	n := getI64(b, 0)
	if n < 0 || idxHeaderSize+idxEntrySize*n > int64(len(b)) {
		return 0, fmt.Errorf("%w: %s claims %d entries", ErrCorruptRegion, name, n)
	}
	for i := int64(0); i < n; i++ {
		off := idxHeaderSize + int(i)*idxEntrySize
		count, at := getI64(b, off), getI64(b, off+8)
		if count == 0 {
			continue
		}
		if count < 0 || at < 0 || at+8*count > int64(len(b)) {
			return 0, fmt.Errorf("%w: %s entry %d points outside the file", ErrCorruptRegion, name, i)
		}
	}
	return n, nil
}

func (s *Store) validateInference() error {
	a := s.assignments.data
	if len(a) < asgHeaderSize {
		return fmt.Errorf("%w: %s is truncated", ErrCorruptRegion, AssignmentsFile)
	}
	s.hp = readHyperparameters(a)
	if getI64(a, asgCountOff) != s.numRevisions || int64(len(a)) != assignmentsRegionSize(s.numRevisions) {
		return fmt.Errorf("%w: %s does not match %d revisions", ErrCorruptRegion, AssignmentsFile, s.numRevisions)
	}

	t := s.topics.data
	if len(t) < sumHeaderSize {
		return fmt.Errorf("%w: %s is truncated", ErrCorruptRegion, TopicIndexFile)
	}
	if getI32(t, sumTopicsOff) != s.hp.Topics || getI32(t, sumPovsOff) != s.hp.Povs ||
		getI64(t, sumPagesOff) != s.numPages ||
		int64(len(t)) != summaryRegionSize(s.hp.Topics, s.hp.Povs, s.numPages) {
		return fmt.Errorf("%w: %s does not match the model header", ErrCorruptRegion, TopicIndexFile)
	}

	u := s.userTopics.data
	if len(u) < userHeaderSize {
		return fmt.Errorf("%w: %s is truncated", ErrCorruptRegion, UserTopicFile)
	}
	if getI64(u, userCountOff) != s.numUsers || getI64(u, userTopicsOff) != int64(s.hp.Topics) ||
		getI64(u, userPovsOff) != int64(s.hp.Povs) ||
		int64(len(u)) != userTopicRegionSize(s.numUsers, s.hp.Topics, s.hp.Povs) {
		return fmt.Errorf("%w: %s does not match the model header", ErrCorruptRegion, UserTopicFile)
	}

	s.summary = newSummary(t, s.hp.Topics, s.hp.Povs, s.numPages)
	return nil
}

func readHyperparameters(a []byte) Hyperparameters {
	return Hyperparameters{
		Topics:     getI32(a, asgTopicsOff),
		Povs:       getI32(a, asgPovsOff),
		PsiAlpha:   getF64(a, asgPsiAlphaOff),
		PsiBeta:    getF64(a, asgPsiBetaOff),
		GammaAlpha: getF64(a, asgGammaAlphaOff),
		GammaBeta:  getF64(a, asgGammaBetaOff),
		Beta:       getF64(a, asgBetaOff),
		Alpha:      getF64(a, asgAlphaOff),
	}
}

func writeHyperparameters(a []byte, h Hyperparameters) {
	putI32(a, asgTopicsOff, h.Topics)
	putI32(a, asgPovsOff, h.Povs)
	putF64(a, asgPsiAlphaOff, h.PsiAlpha)
	putF64(a, asgPsiBetaOff, h.PsiBeta)
	putF64(a, asgGammaAlphaOff, h.GammaAlpha)
	putF64(a, asgGammaBetaOff, h.GammaBeta)
	putF64(a, asgBetaOff, h.Beta)
	putF64(a, asgAlphaOff, h.Alpha)
}

// Close releases every region. Staged regions are written back first.
func (s *Store) Close() error {
	var errs []error
	for _, r := range []*region{s.assignments, s.topics, s.userTopics, s.revisions, s.pages, s.users} {
		if r == nil {
			continue
		}
		if err := r.close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.summary = nil
	return errors.Join(errs...)
}

// Discard releases every region without writing staged changes back, so
// the files keep the state they had when opened. Direct mappings write
// through and cannot be rolled back.
func (s *Store) Discard() error {
	var errs []error
	for _, r := range []*region{s.assignments, s.topics, s.userTopics, s.revisions, s.pages, s.users} {
		if r == nil {
			continue
		}
		if err := r.discard(); err != nil {
			errs = append(errs, err)
		}
	}
	s.summary = nil
	return errors.Join(errs...)
}

// Flush schedules dirty pages of direct mappings for write-back.
func (s *Store) Flush() error {
	var errs []error
	for _, r := range []*region{s.assignments, s.topics, s.userTopics} {
		if r == nil {
			continue
		}
		if err := r.flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Dir() string { return s.dir }
func (s *Store) Mode() Mode { return s.mode }
func (s *Store) NumRevisions() int64 { return s.numRevisions }
func (s *Store) NumPages() int64 { return s.numPages }
func (s *Store) NumUsers() int64 { return s.numUsers }

// HasInference reports whether the mutable regions are loaded.
func (s *Store) HasInference() bool { return s.summary != nil }

func (s *Store) Hyperparameters() Hyperparameters { return s.hp }

// Revision returns the record for id.
func (s *Store) Revision(id int64) Revision {
	off := revHeaderSize + revRecordSize*int(id)
	return decodeRevision(s.revisions.data[off : off+revRecordSize])
}

// PageRevisions returns the ids of a page's revisions in ingestion order.
func (s *Store) PageRevisions(page int64) IDList {
	return indexList(s.pages.data, page)
}

// UserRevisions returns the ids of a user's revisions in ingestion order.
func (s *Store) UserRevisions(user int64) IDList {
	return indexList(s.users.data, user)
}

func indexList(b []byte, id int64) IDList {
	off := idxHeaderSize + int(id)*idxEntrySize
	count, at := getI64(b, off), getI64(b, off+8)
	if count == 0 {
		return IDList{}
	}
	return IDList{b: b[at : at+8*count]}
}

// Assignment returns a revision's current (topic, pov).
func (s *Store) Assignment(id int64) Assignment {
	off := asgHeaderSize + asgRecordSize*int(id)
	return Assignment{
		Topic: getI32(s.assignments.data, off),
		Pov:   getI32(s.assignments.data, off+4),
	}
}

// SetAssignment overwrites a revision's (topic, pov) without touching any
// statistic.
func (s *Store) SetAssignment(id int64, a Assignment) {
	off := asgHeaderSize + asgRecordSize*int(id)
	putI32(s.assignments.data, off, a.Topic)
	putI32(s.assignments.data, off+4, a.Pov)
}

// Iterations is the number of completed sampling sweeps.
func (s *Store) Iterations() int64 {
	return getI64(s.assignments.data, asgIterationsOff)
}

// IncrementIterations bumps the sweep counter and returns the new value.
func (s *Store) IncrementIterations() int64 {
	n := s.Iterations() + 1
	putI64(s.assignments.data, asgIterationsOff, n)
	return n
}

// SetIterations overwrites the sweep counter.
func (s *Store) SetIterations(n int64) {
	putI64(s.assignments.data, asgIterationsOff, n)
}

// Summary returns the live topic summary.
func (s *Store) Summary() *Summary { return s.summary }

// ActiveUsers counts users with at least one revision.
func (s *Store) ActiveUsers() int64 {
	s.activeOnce.Do(func() {
		for u := int64(0); u < s.numUsers; u++ {
			if s.UserRevisions(u).Len() > 0 {
				s.activeUsers++
			}
		}
	})
	return s.activeUsers
}
