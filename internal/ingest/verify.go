package ingest

import (
	"fmt"
	"io"
	"slices"

	"github.com/allenlavoie/topic-pov/internal/logging"
	"github.com/allenlavoie/topic-pov/internal/store"
)

const maxProblems = 100

// Verify re-reads the stream in r and checks the immutable regions in dir
// against it. It returns a description of every mismatch found, up to a
// limit; an empty result means the regions match.
func Verify(dir string, r io.Reader) ([]string, error) {
	c, err := build(r, false, logging.Nop())
	if err != nil {
		return nil, err
	}
	st, err := store.OpenRevisions(dir)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var problems []string
	report := func(format string, args ...any) bool {
		problems = append(problems, fmt.Sprintf(format, args...))
		return len(problems) < maxProblems
	}

	if st.NumRevisions() != c.stats.Revisions || st.NumPages() != c.stats.Pages || st.NumUsers() != c.stats.Users {
		report("counts: stored %d revisions, %d pages, %d users; input has %d, %d, %d",
			st.NumRevisions(), st.NumPages(), st.NumUsers(),
			c.stats.Revisions, c.stats.Pages, c.stats.Users)
		return problems, nil
	}

	for id := int64(0); id < st.NumRevisions(); id++ {
		got, want := st.Revision(id), c.revs[id]
		if got != want {
			if !report("revision %d: stored %+v, want %+v", id, got, want) {
				return problems, nil
			}
			continue
		}
		if got.Child >= 0 && st.Revision(got.Child).Parent != id {
			if !report("revision %d: child %d does not point back", id, got.Child) {
				return problems, nil
			}
		}
		if got.Parent >= 0 && st.Revision(got.Parent).Child != id {
			if !report("revision %d: parent %d does not point back", id, got.Parent) {
				return problems, nil
			}
		}
	}
	for page := int64(0); page < st.NumPages(); page++ {
		if !slices.Equal(st.PageRevisions(page).Slice(), c.pageLists[page]) {
			if !report("page %d: revision list differs from input order", page) {
				return problems, nil
			}
		}
	}
	for user := int64(0); user < st.NumUsers(); user++ {
		if !slices.Equal(st.UserRevisions(user).Slice(), c.userLists[user]) {
			if !report("user %d: revision list differs from input order", user) {
				return problems, nil
			}
		}
	}
	return problems, nil
}
