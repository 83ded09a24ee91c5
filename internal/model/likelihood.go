package model

import (
	"math"

	"github.com/allenlavoie/topic-pov/internal/store"
)

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// UsersPagesLogLikelihood is the shardable part of the log-likelihood: the
// user and page gamma terms for users and pages congruent to shard mod n.
// Users without revisions are skipped.
func UsersPagesLogLikelihood(src Source, sum *store.Summary, shard, n int) float64 {
	hp := src.Hyperparameters()
	tp := float64(hp.TopicPovs())

	var ll float64
	for u := int64(shard); u < src.NumUsers(); u += int64(n) {
		edits := src.UserRevisions(u).Len()
		if edits == 0 {
			continue
		}
		ll -= lgamma(float64(edits) + hp.Alpha*tp)
		for t := int32(0); t < hp.Topics; t++ {
			for p := int32(0); p < hp.Povs; p++ {
				ll += lgamma(src.UserTopic(u, t, p))
			}
		}
	}
	for t := int32(0); t < hp.Topics; t++ {
		for page := int64(shard); page < src.NumPages(); page += int64(n) {
			ll += lgamma(float64(sum.PageCount(t, page)) + hp.Beta)
		}
	}
	return ll
}

// RemainderLogLikelihood is the part of the log-likelihood that depends only
// on the topic summary and the prior normalizers.
func RemainderLogLikelihood(src Source, sum *store.Summary) float64 {
	hp := src.Hyperparameters()
	tp := float64(hp.TopicPovs())
	users := float64(src.ActiveUsers())
	pages := float64(src.NumPages())
	topics := float64(hp.Topics)
	pairs := float64(hp.Povs) * float64(hp.Povs-1)

	ll := users*lgamma(hp.Alpha*tp) - users*tp*lgamma(hp.Alpha)
	ll += topics*lgamma(hp.Beta*pages) - topics*pages*lgamma(hp.Beta)

	for t := int32(0); t < hp.Topics; t++ {
		ts := sum.Topic(t)
		ll -= lgamma(float64(ts.Total) + hp.Beta*pages)
		ll += betaTerm(ts.RevertGeneral, ts.NoRevertGeneral, hp.GammaAlpha, hp.GammaBeta)
		ll += betaTerm(ts.RevertTopic, ts.NoRevertTopic, hp.GammaAlpha, hp.GammaBeta)
		for p := int32(0); p < hp.Povs; p++ {
			for a := int32(0); a < hp.Povs; a++ {
				if p == a {
					continue
				}
				ps, _ := sum.PovPair(t, p, a)
				ll += betaTerm(ps.Revert, ps.NoRevert, hp.PsiAlpha, hp.PsiBeta)
			}
		}
	}

	ll += 2 * topics * (lgamma(hp.GammaAlpha+hp.GammaBeta) - lgamma(hp.GammaAlpha) - lgamma(hp.GammaBeta))
	ll += pairs * topics * (lgamma(hp.PsiAlpha+hp.PsiBeta) - lgamma(hp.PsiAlpha) - lgamma(hp.PsiBeta))
	return ll
}

func betaTerm(revert, norevert int64, a, b float64) float64 {
	return lgamma(float64(revert)+a) + lgamma(float64(norevert)+b) - lgamma(float64(revert+norevert)+a+b)
}

// LogLikelihood computes the full marginal log-likelihood on one goroutine.
func LogLikelihood(src Source, sum *store.Summary) float64 {
	return RemainderLogLikelihood(src, sum) + UsersPagesLogLikelihood(src, sum, 0, 1)
}
