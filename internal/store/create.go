package store

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Create writes fresh mutable regions into dir for the revisions already
// ingested there. Every assignment starts unassigned, every counter at zero
// and every user vector at alpha. Existing mutable regions are replaced.
func Create(dir string, hp Hyperparameters, threads int) error {
	if err := hp.Validate(); err != nil {
		return fmt.Errorf("creating model: %w", err)
	}
	if threads < 1 {
		threads = 1
	}
	base, err := OpenRevisions(dir)
	if err != nil {
		return fmt.Errorf("creating model: %w", err)
	}
	revs, pages, users := base.numRevisions, base.numPages, base.numUsers
	if err := base.Close(); err != nil {
		return fmt.Errorf("creating model: %w", err)
	}

	asg := make([]byte, assignmentsRegionSize(revs))
	writeHyperparameters(asg, hp)
	putI64(asg, asgCountOff, revs)
	for id := int64(0); id < revs; id++ {
		off := asgHeaderSize + asgRecordSize*int(id)
		putI32(asg, off, -1)
		putI32(asg, off+4, -1)
	}

	sum := make([]byte, summaryRegionSize(hp.Topics, hp.Povs, pages))
	putI64(sum, sumScratchOff, ScratchSentinel)
	putI32(sum, sumTopicsOff, hp.Topics)
	putI32(sum, sumPovsOff, hp.Povs)
	putI64(sum, sumPagesOff, pages)

	ut := make([]byte, userTopicRegionSize(users, hp.Topics, hp.Povs))
	putI64(ut, userCountOff, users)
	putI64(ut, userTopicsOff, int64(hp.Topics))
	putI64(ut, userPovsOff, int64(hp.Povs))
	width := hp.TopicPovs()
	var g errgroup.Group
	for shard := 0; shard < threads; shard++ {
		g.Go(func() error {
			for u := int64(shard); u < users; u += int64(threads) {
				off := userHeaderSize + 8*int(u)*width
				for i := 0; i < width; i++ {
					putF64(ut, off+8*i, hp.Alpha)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for name, data := range map[string][]byte{
		AssignmentsFile: asg,
		TopicIndexFile:  sum,
		UserTopicFile:   ut,
	} {
		if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

// WriteRevisionRegions writes the three immutable regions. pageLists and
// userLists hold the revision ids of each page and user in order; a
// Revision with Page -1 marks an id that does not exist.
func WriteRevisionRegions(dir string, revs []Revision, pageLists, userLists [][]int64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	rb := make([]byte, revisionsRegionSize(int64(len(revs))))
	putI64(rb, 0, int64(len(revs)))
	for i, r := range revs {
		off := revHeaderSize + revRecordSize*i
		encodeRevision(rb[off:off+revRecordSize], r)
	}
	if err := writeFileAtomic(filepath.Join(dir, RevisionsFile), rb); err != nil {
		return fmt.Errorf("writing %s: %w", RevisionsFile, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, PageIndexFile), encodeIndex(pageLists)); err != nil {
		return fmt.Errorf("writing %s: %w", PageIndexFile, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, UserIndexFile), encodeIndex(userLists)); err != nil {
		return fmt.Errorf("writing %s: %w", UserIndexFile, err)
	}
	return nil
}

func encodeIndex(lists [][]int64) []byte {
	var ids int64
	for _, l := range lists {
		ids += int64(len(l))
	}
	b := make([]byte, indexRegionSize(int64(len(lists)), ids))
	putI64(b, 0, int64(len(lists)))
	at := idxHeaderSize + idxEntrySize*len(lists)
	for i, l := range lists {
		off := idxHeaderSize + idxEntrySize*i
		putI64(b, off, int64(len(l)))
		putI64(b, off+8, int64(at))
		for _, id := range l {
			putI64(b, at, id)
			at += 8
		}
	}
	return b
}
