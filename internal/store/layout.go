package store

import (
	"encoding/binary"
	"math"
)

// Region file names inside a model directory.
const (
	RevisionsFile   = "revisions_mmap"
	PageIndexFile   = "page_index_mmap"
	UserIndexFile   = "user_index_mmap"
	AssignmentsFile = "revision_assignment_mmap"
	TopicIndexFile  = "topic_index_mmap"
	UserTopicFile   = "user_topic_mmap"
)

// ScratchSentinel is the value the scratch counter is reset to before every
// sweep. Deltas routed to scratch can never drive it negative.
const ScratchSentinel = math.MaxInt64 / 2

// Revisions region: int64 count, then packed records.
const (
	revHeaderSize = 8
	revRecordSize = 36

	revPageOff      = 0
	revTimestampOff = 4
	revUserOff      = 12
	revParentOff    = 16
	revChildOff     = 24
	revDisagreesOff = 32
)

// Page and user index regions: int64 count, entries, then the id lists.
const (
	idxHeaderSize = 8
	idxEntrySize  = 16
)

// Assignments region.
const (
	asgHeaderSize = 72
	asgRecordSize = 8

	asgTopicsOff     = 0
	asgPovsOff       = 4
	asgIterationsOff = 8
	asgCountOff      = 16
	asgPsiAlphaOff   = 24
	asgPsiBetaOff    = 32
	asgGammaAlphaOff = 40
	asgGammaBetaOff  = 48
	asgBetaOff       = 56
	asgAlphaOff      = 64
)

// Topic summary region.
const (
	sumHeaderSize = 24

	sumScratchOff = 0
	sumTopicsOff  = 8
	sumPovsOff    = 12
	sumPagesOff   = 16

	topicFixedSize = 40
	povRecordSize  = 16

	topicTotalOff      = 0
	revertGeneralOff   = 8
	noRevertGeneralOff = 16
	revertTopicOff     = 24
	noRevertTopicOff   = 32

	povRevertOff   = 0
	povNoRevertOff = 8
)

// User topic region.
const (
	userHeaderSize = 24

	userCountOff  = 0
	userTopicsOff = 8
	userPovsOff   = 16
)

var le = binary.LittleEndian

func getI64(b []byte, off int) int64 { return int64(le.Uint64(b[off:])) }
func putI64(b []byte, off int, v int64) { le.PutUint64(b[off:], uint64(v)) }
func getI32(b []byte, off int) int32 { return int32(le.Uint32(b[off:])) }
func putI32(b []byte, off int, v int32) { le.PutUint32(b[off:], uint32(v)) }
func getF64(b []byte, off int) float64 { return math.Float64frombits(le.Uint64(b[off:])) }
func putF64(b []byte, off int, v float64) { le.PutUint64(b[off:], math.Float64bits(v)) }

// topicStride is the byte size of one topic's fixed counters plus its
// antagonism matrix.
func topicStride(povs int32) int {
	return topicFixedSize + povRecordSize*int(povs)*int(povs-1)
}

func revisionsRegionSize(count int64) int64 {
	return revHeaderSize + revRecordSize*count
}

func indexRegionSize(entries, ids int64) int64 {
	return idxHeaderSize + idxEntrySize*entries + 8*ids
}

func assignmentsRegionSize(count int64) int64 {
	return asgHeaderSize + asgRecordSize*count
}

func summaryTopicsSize(topics, povs int32) int64 {
	return sumHeaderSize + int64(topics)*int64(topicStride(povs))
}

func summaryRegionSize(topics, povs int32, pages int64) int64 {
	return summaryTopicsSize(topics, povs) + 8*int64(topics)*pages
}

func userTopicRegionSize(users int64, topics, povs int32) int64 {
	return userHeaderSize + 8*users*int64(topics)*int64(povs)
}
