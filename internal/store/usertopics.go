package store

import "fmt"

func (s *Store) userBase(user int64) int {
	return userHeaderSize + 8*int(user)*s.hp.TopicPovs()
}

// UserTopic reads one entry of a user's topic/pov vector.
func (s *Store) UserTopic(user int64, topic, pov int32) float64 {
	i := int(topic)*int(s.hp.Povs) + int(pov)
	return getF64(s.userTopics.data, s.userBase(user)+8*i)
}

// CopyUserTopics copies a user's topic/pov vector into dst, which is grown
// to the vector length when needed, and returns it.
func (s *Store) CopyUserTopics(user int64, dst []float64) []float64 {
	n := s.hp.TopicPovs()
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	base := s.userBase(user)
	for i := range dst {
		dst[i] = getF64(s.userTopics.data, base+8*i)
	}
	return dst
}

// AddUserTopic applies d to one entry of a user's vector and returns the
// new value.
func (s *Store) AddUserTopic(user int64, topic, pov int32, d float64) (float64, error) {
	off := s.userBase(user) + 8*(int(topic)*int(s.hp.Povs)+int(pov))
	v := getF64(s.userTopics.data, off) + d
	putF64(s.userTopics.data, off, v)
	if v < 0 {
		return v, fmt.Errorf("%w: user %d (%d,%d) = %g", ErrNegativeCount, user, topic, pov, v)
	}
	return v, nil
}

// FillUserTopics sets every entry of a user's vector to v.
func (s *Store) FillUserTopics(user int64, v float64) {
	base := s.userBase(user)
	for i := 0; i < s.hp.TopicPovs(); i++ {
		putF64(s.userTopics.data, base+8*i, v)
	}
}
