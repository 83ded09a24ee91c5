// Package compose renders a labelled model as a markdown report.
package compose

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/allenlavoie/topic-pov/internal/compare"
	"github.com/allenlavoie/topic-pov/internal/database"
	"github.com/allenlavoie/topic-pov/internal/store"
)

// Options limits the report's tables.
type Options struct {
	// Pairs are the user pairs whose antagonism is ranked.
	Pairs      []compare.Pair
	TopPairs   int
	RecentRuns int
}

// Composer composes reports for one model. The ledger may be nil.
type Composer struct {
	st *store.Store
	db *database.DB
}

// NewComposer creates a report composer.
func NewComposer(st *store.Store, db *database.DB) *Composer {
	return &Composer{st: st, db: db}
}

// ModelReport returns the report in markdown. It needs the model's
// inference regions.
func (c *Composer) ModelReport(opts Options) (string, error) {
	if !c.st.HasInference() {
		return "", fmt.Errorf("model in %s has no inference state", c.st.Dir())
	}
	if opts.TopPairs <= 0 {
		opts.TopPairs = 10
	}
	if opts.RecentRuns <= 0 {
		opts.RecentRuns = 10
	}

	sections := []string{
		c.infoSection(),
		c.topicSection(),
		c.controversySection(),
	}
	pairs, err := c.pairSection(opts.Pairs, opts.TopPairs)
	if err != nil {
		return "", err
	}
	sections = append(sections, pairs)
	runs, err := c.runSection(opts.RecentRuns)
	if err != nil {
		return "", err
	}
	sections = append(sections, runs)
	return strings.Join(sections, "\n\n") + "\n", nil
}

func (c *Composer) infoSection() string {
	info := c.st.Info()
	hp := info.Hyper
	var b strings.Builder
	b.WriteString("# Model report\n\n")
	fmt.Fprintf(&b, "- **Directory:** `%s`\n", c.st.Dir())
	fmt.Fprintf(&b, "- **Iterations:** %d\n", info.Iterations)
	fmt.Fprintf(&b, "- **Revisions:** %d (%d labelled)\n", info.Revisions, info.Assigned)
	fmt.Fprintf(&b, "- **Pages:** %d\n", info.Pages)
	fmt.Fprintf(&b, "- **Users:** %d (%d with edits)\n", info.Users, info.ActiveUsers)
	fmt.Fprintf(&b, "- **Topics:** %d with %d POVs each\n", hp.Topics, hp.Povs)
	fmt.Fprintf(&b, "- **Priors:** psi %g/%g, gamma %g/%g, beta %g, alpha %g",
		hp.PsiAlpha, hp.PsiBeta, hp.GammaAlpha, hp.GammaBeta, hp.Beta, hp.Alpha)
	return b.String()
}

func rate(revert, noRevert int64) string {
	if revert+noRevert == 0 {
		return "-"
	}
	return fmt.Sprintf("%.3f", float64(revert)/float64(revert+noRevert))
}

func (c *Composer) topicSection() string {
	sum := c.st.Summary()
	var b strings.Builder
	b.WriteString("## Topics\n\n")
	b.WriteString("| topic | revisions | general revert rate | topic revert rate |\n")
	b.WriteString("|---:|---:|---:|---:|")
	for t := int32(0); t < sum.Topics(); t++ {
		ts := sum.Topic(t)
		fmt.Fprintf(&b, "\n| %d | %d | %s | %s |", t, ts.Total,
			rate(ts.RevertGeneral, ts.NoRevertGeneral), rate(ts.RevertTopic, ts.NoRevertTopic))
	}
	return b.String()
}

func (c *Composer) controversySection() string {
	hp := c.st.Hyperparameters()
	controversy := compare.AllPovControversy(c.st)
	var b strings.Builder
	b.WriteString("## POV controversy\n\n")
	b.WriteString("| topic | pov | controversy |\n")
	b.WriteString("|---:|---:|---:|")
	for t := int32(0); t < hp.Topics; t++ {
		for p := int32(0); p < hp.Povs; p++ {
			fmt.Fprintf(&b, "\n| %d | %d | %.3f |", t, p, controversy[int(t)*int(hp.Povs)+int(p)])
		}
	}
	return b.String()
}

func (c *Composer) pairSection(pairs []compare.Pair, top int) (string, error) {
	var b strings.Builder
	b.WriteString("## Most antagonistic user pairs\n\n")
	if len(pairs) == 0 {
		b.WriteString("_No user pairs configured._")
		return b.String(), nil
	}
	ranked := make([]compare.Pair, len(pairs))
	for i, p := range pairs {
		if p.First < 0 || p.First >= c.st.NumUsers() || p.Second < 0 || p.Second >= c.st.NumUsers() {
			return "", fmt.Errorf("user pair (%d, %d) out of range", p.First, p.Second)
		}
		p.Antagonism = compare.UserAntagonism(c.st, p.First, p.Second)
		ranked[i] = p
	}
	slices.SortStableFunc(ranked, func(x, y compare.Pair) int {
		return cmp.Or(cmp.Compare(y.Antagonism, x.Antagonism),
			cmp.Compare(x.First, y.First), cmp.Compare(x.Second, y.Second))
	})
	b.WriteString("| users | antagonism |\n")
	b.WriteString("|---|---:|")
	for _, p := range ranked[:min(top, len(ranked))] {
		fmt.Fprintf(&b, "\n| %d / %d | %.4f |", p.First, p.Second, p.Antagonism)
	}
	return b.String(), nil
}

func (c *Composer) runSection(limit int) (string, error) {
	var b strings.Builder
	b.WriteString("## Recent runs\n\n")
	if c.db == nil {
		b.WriteString("_No ledger._")
		return b.String(), nil
	}
	runs, err := c.db.ListRuns(limit)
	if err != nil {
		return "", fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		b.WriteString("_No runs recorded._")
		return b.String(), nil
	}
	b.WriteString("| run | command | status | iterations | started |\n")
	b.WriteString("|---|---|---|---:|---|")
	for _, r := range runs {
		started := ""
		if r.StartedAt != nil {
			started = *r.StartedAt
		}
		fmt.Fprintf(&b, "\n| [%s](/runs/%s) | %s | %s | %d | %s |",
			shortID(r.ID), r.ID, r.Command, r.Status, r.Iterations, started)
	}
	return b.String(), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
