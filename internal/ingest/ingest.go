// Package ingest turns a tab-separated revision stream into the immutable
// regions of a model directory.
//
// Each line is
//
//	page <TAB> timestamp <TAB> user <TAB> revision <TAB> parent <TAB> t|f
//
// where parent is -1 for a revision with no parent and the last field says
// whether the revision disagrees with (reverts) its parent.
package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/allenlavoie/topic-pov/internal/logging"
	"github.com/allenlavoie/topic-pov/internal/store"
)

var (
	// ErrMalformed is returned for a line that does not parse.
	ErrMalformed = errors.New("malformed revision line")

	// ErrCyclicParents is returned when parent links loop back on
	// themselves.
	ErrCyclicParents = errors.New("cyclic parent links")
)

const maxLine = 1 << 20

// Options controls ingestion.
type Options struct {
	// SkipMalformed logs and drops bad lines instead of failing.
	SkipMalformed bool
	Logger        *logging.Logger
}

// Stats describes one ingestion.
type Stats struct {
	Lines     int64
	Skipped   int64
	Revisions int64
	Pages     int64
	Users     int64

	CrossPage     int64
	SecondChild   int64
	MissingParent int64
}

// Record is one parsed input line.
type Record struct {
	Page      int32
	Timestamp int64
	User      int32
	Revision  int64
	Parent    int64
	Disagrees bool
}

// corpus is the resolved form of a stream, ready to be written.
type corpus struct {
	records   []Record
	revs      []store.Revision
	pageLists [][]int64
	userLists [][]int64
	stats     Stats
}

// Ingest reads r and writes the revision, page and user regions into dir.
func Ingest(dir string, r io.Reader, opts Options) (Stats, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	c, err := build(r, opts.SkipMalformed, log)
	if err != nil {
		return Stats{}, err
	}
	if err := store.WriteRevisionRegions(dir, c.revs, c.pageLists, c.userLists); err != nil {
		return Stats{}, err
	}
	log.Info("ingested revisions",
		"dir", dir,
		"revisions", c.stats.Revisions,
		"pages", c.stats.Pages,
		"users", c.stats.Users,
		"skipped", c.stats.Skipped,
		"cross_page", c.stats.CrossPage,
		"second_child", c.stats.SecondChild,
		"missing_parent", c.stats.MissingParent,
	)
	return c.stats, nil
}

func build(r io.Reader, skip bool, log *logging.Logger) (*corpus, error) {
	records, stats, err := readRecords(r, skip, log)
	if err != nil {
		return nil, err
	}
	c := &corpus{records: records, stats: stats}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	return c, nil
}

// ReadRecords parses every line of r.
func ReadRecords(r io.Reader) ([]Record, error) {
	records, _, err := readRecords(r, false, logging.Nop())
	return records, err
}

func readRecords(r io.Reader, skip bool, log *logging.Logger) ([]Record, Stats, error) {
	var (
		records []Record
		stats   Stats
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)
	for sc.Scan() {
		stats.Lines++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			err = fmt.Errorf("line %d: %w", stats.Lines, err)
			if !skip {
				return nil, stats, err
			}
			stats.Skipped++
			log.Warn("skipping revision line", "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("reading revisions: %w", err)
	}
	return records, stats, nil
}

func parseLine(line string) (Record, error) {
	f := strings.Split(line, "\t")
	if len(f) != 6 {
		return Record{}, fmt.Errorf("%w: %d fields, want 6", ErrMalformed, len(f))
	}
	var (
		rec Record
		err error
	)
	num := func(name, s string, bits int) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(strings.TrimSpace(s), 10, bits)
		if err != nil {
			err = fmt.Errorf("%w: %s %q", ErrMalformed, name, s)
		}
		return v
	}
	rec.Page = int32(num("page", f[0], 32))
	rec.Timestamp = num("timestamp", f[1], 64)
	rec.User = int32(num("user", f[2], 32))
	rec.Revision = num("revision", f[3], 64)
	rec.Parent = num("parent", f[4], 64)
	if err != nil {
		return Record{}, err
	}
	switch strings.TrimSpace(f[5]) {
	case "t":
		rec.Disagrees = true
	case "f":
	default:
		return Record{}, fmt.Errorf("%w: disagrees %q, want t or f", ErrMalformed, f[5])
	}
	switch {
	case rec.Page < 0:
		return Record{}, fmt.Errorf("%w: negative page %d", ErrMalformed, rec.Page)
	case rec.User < 0:
		return Record{}, fmt.Errorf("%w: negative user %d", ErrMalformed, rec.User)
	case rec.Revision < 0:
		return Record{}, fmt.Errorf("%w: negative revision %d", ErrMalformed, rec.Revision)
	case rec.Parent == rec.Revision:
		return Record{}, fmt.Errorf("%w: revision %d is its own parent", ErrMalformed, rec.Revision)
	}
	if rec.Parent < -1 {
		rec.Parent = -1
	}
	return rec, nil
}

// resolve sizes the regions, fills the revision records and links each
// revision to its parent in input order.
func (c *corpus) resolve() error {
	var maxRev, maxPage, maxUser int64 = -1, -1, -1
	for _, r := range c.records {
		maxRev = max(maxRev, r.Revision)
		maxPage = max(maxPage, int64(r.Page))
		maxUser = max(maxUser, int64(r.User))
	}
	c.stats.Revisions = maxRev + 1
	c.stats.Pages = maxPage + 1
	c.stats.Users = maxUser + 1

	c.revs = make([]store.Revision, c.stats.Revisions)
	for i := range c.revs {
		c.revs[i] = store.Revision{Page: -1, User: -1, Parent: -1, Child: -1}
	}
	c.pageLists = make([][]int64, c.stats.Pages)
	c.userLists = make([][]int64, c.stats.Users)
	for _, r := range c.records {
		if c.revs[r.Revision].Exists() {
			return fmt.Errorf("%w: revision %d appears twice", ErrMalformed, r.Revision)
		}
		c.revs[r.Revision] = store.Revision{
			Page:      r.Page,
			Timestamp: r.Timestamp,
			User:      r.User,
			Parent:    -1,
			Child:     -1,
			Disagrees: r.Disagrees,
		}
		c.pageLists[r.Page] = append(c.pageLists[r.Page], r.Revision)
		c.userLists[r.User] = append(c.userLists[r.User], r.Revision)
	}

	for _, r := range c.records {
		if r.Parent < 0 {
			continue
		}
		switch {
		case r.Parent >= c.stats.Revisions || !c.revs[r.Parent].Exists():
			c.stats.MissingParent++
		case c.revs[r.Parent].Page != r.Page:
			c.stats.CrossPage++
		case c.revs[r.Parent].Child >= 0:
			c.stats.SecondChild++
		default:
			c.revs[r.Revision].Parent = r.Parent
			c.revs[r.Parent].Child = r.Revision
		}
	}
	return c.checkAcyclic()
}

// checkAcyclic walks every parent chain. Each revision has at most one
// parent and one child, so a cycle is a chain with no root.
func (c *corpus) checkAcyclic() error {
	const (
		unseen = iota
		walking
		done
	)
	state := make([]uint8, len(c.revs))
	for id := range c.revs {
		var path []int64
		cur := int64(id)
		for cur >= 0 && state[cur] == unseen {
			state[cur] = walking
			path = append(path, cur)
			cur = c.revs[cur].Parent
		}
		if cur >= 0 && state[cur] == walking {
			return fmt.Errorf("%w: through revision %d", ErrCyclicParents, cur)
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}
