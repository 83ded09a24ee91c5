package store

import (
	"bytes"
	"fmt"
)

// StatKind names one kind of sufficient-statistic counter.
type StatKind uint8

const (
	StatScratch StatKind = iota
	StatTopicTotal
	StatRevertGeneral
	StatNoRevertGeneral
	StatRevertTopic
	StatNoRevertTopic
	StatPovRevert
	StatPovNoRevert
)

func (k StatKind) String() string {
	switch k {
	case StatScratch:
		return "scratch"
	case StatTopicTotal:
		return "topic_total"
	case StatRevertGeneral:
		return "revert_general"
	case StatNoRevertGeneral:
		return "norevert_general"
	case StatRevertTopic:
		return "revert_topic"
	case StatNoRevertTopic:
		return "norevert_topic"
	case StatPovRevert:
		return "pov_revert"
	case StatPovNoRevert:
		return "pov_norevert"
	}
	return fmt.Sprintf("StatKind(%d)", k)
}

// StatLocation identifies one counter of the topic summary. Pov and
// Antagonist are only meaningful for the two pov kinds; Topic is ignored for
// scratch.
type StatLocation struct {
	Kind       StatKind
	Topic      int32
	Pov        int32
	Antagonist int32
}

// Scratch is the no-op location that absorbs updates for unassigned
// endpoints.
var Scratch = StatLocation{Kind: StatScratch}

func (l StatLocation) String() string {
	switch l.Kind {
	case StatScratch:
		return "scratch"
	case StatPovRevert, StatPovNoRevert:
		return fmt.Sprintf("%s[%d](%d,%d)", l.Kind, l.Topic, l.Pov, l.Antagonist)
	}
	return fmt.Sprintf("%s[%d]", l.Kind, l.Topic)
}

// ReferenceLocations returns the two counters a single parent to child link
// contributes to: the child's topic total and the reference counter picked
// by comparing the two assignments. Both are scratch when the child is
// unassigned; the second is scratch when only the parent is.
func ReferenceLocations(parent, child Assignment, disagrees bool) (StatLocation, StatLocation) {
	if !child.Assigned() {
		return Scratch, Scratch
	}
	total := StatLocation{Kind: StatTopicTotal, Topic: child.Topic}
	switch {
	case parent.Topic == child.Topic && parent.Pov != child.Pov:
		kind := StatPovNoRevert
		if disagrees {
			kind = StatPovRevert
		}
		return total, StatLocation{Kind: kind, Topic: child.Topic, Pov: child.Pov, Antagonist: parent.Pov}
	case parent.Topic == child.Topic:
		kind := StatNoRevertTopic
		if disagrees {
			kind = StatRevertTopic
		}
		return total, StatLocation{Kind: kind, Topic: child.Topic}
	case parent.Assigned():
		kind := StatNoRevertGeneral
		if disagrees {
			kind = StatRevertGeneral
		}
		return total, StatLocation{Kind: kind, Topic: child.Topic}
	}
	return total, Scratch
}

// TopicSummary is a copy of one topic's scalar counters.
type TopicSummary struct {
	Total           int64
	RevertGeneral   int64
	NoRevertGeneral int64
	RevertTopic     int64
	NoRevertTopic   int64
}

// PovSummary is the antagonism record for one ordered pov pair.
type PovSummary struct {
	Revert   int64
	NoRevert int64
}

// Summary is a view of the topic summary region. The per-topic counters may
// be a private replica; the page block is always the live region, since each
// page is written only by the worker that owns it.
type Summary struct {
	topics []byte
	pages  []byte

	numTopics int32
	numPovs   int32
	numPages  int64
	stride    int
}

func newSummary(b []byte, topics, povs int32, pages int64) *Summary {
	split := summaryTopicsSize(topics, povs)
	return &Summary{
		topics:    b[:split],
		pages:     b[split:],
		numTopics: topics,
		numPovs:   povs,
		numPages:  pages,
		stride:    topicStride(povs),
	}
}

// Clone returns a replica with its own copy of the per-topic counters.
func (s *Summary) Clone() *Summary {
	c := *s
	c.topics = bytes.Clone(s.topics)
	return &c
}

// CopyFrom overwrites the per-topic counters with those of src.
func (s *Summary) CopyFrom(src *Summary) {
	copy(s.topics, src.topics)
}

// Equal reports whether both summaries hold identical per-topic counters.
func (s *Summary) Equal(o *Summary) bool {
	return bytes.Equal(s.topics[sumHeaderSize:], o.topics[sumHeaderSize:])
}

func (s *Summary) Topics() int32 { return s.numTopics }
func (s *Summary) Povs() int32 { return s.numPovs }
func (s *Summary) Pages() int64 { return s.numPages }

func (s *Summary) topicBase(t int32) int {
	return sumHeaderSize + int(t)*s.stride
}

// Topic returns a copy of topic t's scalar counters.
func (s *Summary) Topic(t int32) TopicSummary {
	base := s.topicBase(t)
	return TopicSummary{
		Total:           getI64(s.topics, base+topicTotalOff),
		RevertGeneral:   getI64(s.topics, base+revertGeneralOff),
		NoRevertGeneral: getI64(s.topics, base+noRevertGeneralOff),
		RevertTopic:     getI64(s.topics, base+revertTopicOff),
		NoRevertTopic:   getI64(s.topics, base+noRevertTopicOff),
	}
}

func (s *Summary) povBase(t, pov, ant int32) (int, error) {
	if pov == ant {
		return 0, fmt.Errorf("%w: topic %d pov %d", ErrSamePov, t, pov)
	}
	idx := int(s.numPovs-1)*int(pov) + int(ant)
	if ant > pov {
		idx--
	}
	return s.topicBase(t) + topicFixedSize + povRecordSize*idx, nil
}

// PovPair returns the antagonism record of pov against ant within topic t.
func (s *Summary) PovPair(t, pov, ant int32) (PovSummary, error) {
	base, err := s.povBase(t, pov, ant)
	if err != nil {
		return PovSummary{}, err
	}
	return PovSummary{
		Revert:   getI64(s.topics, base+povRevertOff),
		NoRevert: getI64(s.topics, base+povNoRevertOff),
	}, nil
}

func (s *Summary) offset(l StatLocation) (int, error) {
	switch l.Kind {
	case StatScratch:
		return sumScratchOff, nil
	case StatTopicTotal:
		return s.topicBase(l.Topic) + topicTotalOff, nil
	case StatRevertGeneral:
		return s.topicBase(l.Topic) + revertGeneralOff, nil
	case StatNoRevertGeneral:
		return s.topicBase(l.Topic) + noRevertGeneralOff, nil
	case StatRevertTopic:
		return s.topicBase(l.Topic) + revertTopicOff, nil
	case StatNoRevertTopic:
		return s.topicBase(l.Topic) + noRevertTopicOff, nil
	case StatPovRevert, StatPovNoRevert:
		base, err := s.povBase(l.Topic, l.Pov, l.Antagonist)
		if err != nil {
			return 0, err
		}
		if l.Kind == StatPovRevert {
			return base + povRevertOff, nil
		}
		return base + povNoRevertOff, nil
	}
	return 0, fmt.Errorf("unknown stat kind %d", l.Kind)
}

// Value reads the counter at l.
func (s *Summary) Value(l StatLocation) (int64, error) {
	off, err := s.offset(l)
	if err != nil {
		return 0, err
	}
	return getI64(s.topics, off), nil
}

// Add applies d to the counter at l and returns the new value. A result
// below zero is stored and reported as ErrNegativeCount.
func (s *Summary) Add(l StatLocation, d int64) (int64, error) {
	off, err := s.offset(l)
	if err != nil {
		return 0, err
	}
	v := getI64(s.topics, off) + d
	putI64(s.topics, off, v)
	if v < 0 {
		return v, fmt.Errorf("%w: %s = %d", ErrNegativeCount, l, v)
	}
	return v, nil
}

// PageCount is the number of page's revisions assigned to topic t.
func (s *Summary) PageCount(t int32, page int64) int64 {
	return getI64(s.pages, 8*(int(t)*int(s.numPages)+int(page)))
}

// AddPageCount applies d to a page count and returns the new value.
func (s *Summary) AddPageCount(t int32, page int64, d int64) (int64, error) {
	off := 8 * (int(t)*int(s.numPages) + int(page))
	v := getI64(s.pages, off) + d
	putI64(s.pages, off, v)
	if v < 0 {
		return v, fmt.Errorf("%w: page %d topic %d = %d", ErrNegativeCount, page, t, v)
	}
	return v, nil
}

// ResetScratch restores the scratch counter to its sentinel.
func (s *Summary) ResetScratch() {
	putI64(s.topics, sumScratchOff, ScratchSentinel)
}
