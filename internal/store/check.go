package store

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// User entries are alpha plus counts accumulated in floating point, so a
// cleared entry may be off by rounding.
const userTolerance = 1e-9

// Info describes a model directory.
type Info struct {
	Revisions   int64
	Pages       int64
	Users       int64
	ActiveUsers int64
	Assigned    int64
	Iterations  int64
	Hyper       Hyperparameters
}

// Info summarizes the store. Iterations, Assigned and Hyper are zero when
// the mutable regions are not loaded.
func (s *Store) Info() Info {
	info := Info{
		Revisions:   s.numRevisions,
		Pages:       s.numPages,
		Users:       s.numUsers,
		ActiveUsers: s.ActiveUsers(),
	}
	if s.summary == nil {
		return info
	}
	info.Iterations = s.Iterations()
	info.Hyper = s.hp
	for id := int64(0); id < s.numRevisions; id++ {
		if s.Assignment(id).Assigned() {
			info.Assigned++
		}
	}
	return info
}

// CheckZero lists every counter that differs from its empty value: topic
// counters and page counts must be zero and user entries must equal alpha.
// An empty result means the statistics are fully cleared.
func (s *Store) CheckZero() []string {
	var problems []string
	sum := s.summary
	for t := int32(0); t < s.hp.Topics; t++ {
		ts := sum.Topic(t)
		for _, c := range []struct {
			name string
			v    int64
		}{
			{"total", ts.Total},
			{"revert_general", ts.RevertGeneral},
			{"norevert_general", ts.NoRevertGeneral},
			{"revert_topic", ts.RevertTopic},
			{"norevert_topic", ts.NoRevertTopic},
		} {
			if c.v != 0 {
				problems = append(problems, fmt.Sprintf("topic %d %s = %d", t, c.name, c.v))
			}
		}
		for p := int32(0); p < s.hp.Povs; p++ {
			for a := int32(0); a < s.hp.Povs; a++ {
				if p == a {
					continue
				}
				ps, _ := sum.PovPair(t, p, a)
				if ps.Revert != 0 || ps.NoRevert != 0 {
					problems = append(problems, fmt.Sprintf("topic %d pov (%d,%d) = %d/%d", t, p, a, ps.Revert, ps.NoRevert))
				}
			}
		}
		for page := int64(0); page < s.numPages; page++ {
			if c := sum.PageCount(t, page); c != 0 {
				problems = append(problems, fmt.Sprintf("topic %d page %d = %d", t, page, c))
			}
		}
	}
	for u := int64(0); u < s.numUsers; u++ {
		for t := int32(0); t < s.hp.Topics; t++ {
			for p := int32(0); p < s.hp.Povs; p++ {
				if v := s.UserTopic(u, t, p); math.Abs(v-s.hp.Alpha) > userTolerance {
					problems = append(problems, fmt.Sprintf("user %d (%d,%d) = %g", u, t, p, v))
				}
			}
		}
	}
	return problems
}

// SetAssignments loads "revision topic pov" lines into a freshly created
// store and then counts every assigned revision into the statistics. It
// returns the number of assignments read.
func (s *Store) SetAssignments(r io.Reader) (int, error) {
	if s.summary == nil {
		return 0, ErrNoInference
	}
	sc := bufio.NewScanner(r)
	n, line := 0, 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return n, fmt.Errorf("assignments line %d: want 3 fields, got %d", line, len(fields))
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return n, fmt.Errorf("assignments line %d: %w", line, err)
		}
		topic, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return n, fmt.Errorf("assignments line %d: %w", line, err)
		}
		pov, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			return n, fmt.Errorf("assignments line %d: %w", line, err)
		}
		if _, err := s.lookup(id); err != nil {
			return n, fmt.Errorf("assignments line %d: %w", line, err)
		}
		if topic < 0 || topic >= int64(s.hp.Topics) || pov < 0 || pov >= int64(s.hp.Povs) {
			return n, fmt.Errorf("assignments line %d: (%d,%d) out of range", line, topic, pov)
		}
		s.SetAssignment(id, Assignment{Topic: int32(topic), Pov: int32(pov)})
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("reading assignments: %w", err)
	}

	for id := int64(0); id < s.numRevisions; id++ {
		if !s.Assignment(id).Assigned() {
			continue
		}
		if err := s.ChangeIndexes(id, 1); err != nil {
			return n, err
		}
	}
	return n, nil
}
