package store

import "fmt"

// lookup returns the record for id, rejecting ids that are out of range or
// phantom.
func (s *Store) lookup(id int64) (Revision, error) {
	if id < 0 || id >= s.numRevisions {
		return Revision{}, fmt.Errorf("%w: %d", ErrNoRevision, id)
	}
	r := s.Revision(id)
	if !r.Exists() {
		return Revision{}, fmt.Errorf("%w: %d", ErrNoRevision, id)
	}
	return r, nil
}

// ChangeIndexes applies by to every statistic the revision's current
// assignment contributes: its page count, its user entry and the two
// counters of the link to its parent. The link is skipped while the parent
// is unassigned. The link to its child is left to the child's own call.
func (s *Store) ChangeIndexes(id int64, by int64) error {
	if s.summary == nil {
		return ErrNoInference
	}
	rev, err := s.lookup(id)
	if err != nil {
		return err
	}
	a := s.Assignment(id)
	if !a.Assigned() {
		return fmt.Errorf("change indexes of revision %d: %w", id, ErrUnassigned)
	}

	parent := Unassigned
	if rev.Parent >= 0 {
		parent = s.Assignment(rev.Parent)
	}
	total, ref := ReferenceLocations(parent, a, rev.Disagrees)

	if _, err := s.summary.AddPageCount(a.Topic, int64(rev.Page), by); err != nil {
		return fmt.Errorf("change indexes of revision %d: %w", id, err)
	}
	if _, err := s.summary.Add(total, by); err != nil {
		return fmt.Errorf("change indexes of revision %d: %w", id, err)
	}
	if ref != Scratch {
		if _, err := s.summary.Add(ref, by); err != nil {
			return fmt.Errorf("change indexes of revision %d: %w", id, err)
		}
	}
	if _, err := s.AddUserTopic(int64(rev.User), a.Topic, a.Pov, float64(by)); err != nil {
		return fmt.Errorf("change indexes of revision %d: %w", id, err)
	}
	return nil
}

// ChangeAssignment relabels an assigned revision, undoing and redoing its
// own contribution and that of its assigned child around the write.
func (s *Store) ChangeAssignment(id int64, to Assignment) error {
	rev, err := s.lookup(id)
	if err != nil {
		return err
	}
	if !to.Assigned() || to.Topic >= s.hp.Topics || to.Pov >= s.hp.Povs {
		return fmt.Errorf("change assignment of revision %d to %v: out of range", id, to)
	}
	child := rev.Child >= 0 && s.Assignment(rev.Child).Assigned()

	if child {
		if err := s.ChangeIndexes(rev.Child, -1); err != nil {
			return err
		}
	}
	if err := s.ChangeIndexes(id, -1); err != nil {
		return err
	}
	s.SetAssignment(id, to)
	if err := s.ChangeIndexes(id, 1); err != nil {
		return err
	}
	if child {
		return s.ChangeIndexes(rev.Child, 1)
	}
	return nil
}
