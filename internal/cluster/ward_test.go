package cluster

import (
	"math"
	"testing"
)

func TestSquaredDistances(t *testing.T) {
	points := [][]float64{
		{1.0, 0.0},
		{0.0, 1.0},
		{1.0, 1.0},
	}
	d := squaredDistances(points)

	expected := [][]float64{
		{0, 2, 1},
		{2, 0, 1},
		{1, 1, 0},
	}
	for i := range expected {
		for j := range expected[i] {
			if math.Abs(d[i][j]-expected[i][j]) > 1e-10 {
				t.Errorf("d[%d][%d] = %f, expected %f", i, j, d[i][j], expected[i][j])
			}
		}
	}
}

func TestWardLinkageSimple(t *testing.T) {
	// 3 nearby points and 1 outlier
	points := [][]float64{
		{0, 0},
		{1, 0},
		{3, 0},
		{10, 10},
	}

	merges := wardLinkage(points)
	if len(merges) != 3 {
		t.Fatalf("expected 3 merges, got %d", len(merges))
	}

	if merges[0].a != 0 || merges[0].b != 1 || merges[0].distance != 1 {
		t.Errorf("expected first merge 0+1 at 1, got %+v", merges[0])
	}
	// d({0,1}, 2)^2 = (2*9 + 2*4 - 1) / 3
	if merges[1].a != 4 || merges[1].b != 2 || math.Abs(merges[1].distance-math.Sqrt(25.0/3)) > 1e-12 {
		t.Errorf("expected second merge {0,1}+2, got %+v", merges[1])
	}
	if merges[2].a != 5 || merges[2].b != 3 || merges[2].size != 4 {
		t.Errorf("expected final merge of everything, got %+v", merges[2])
	}

	for i := 1; i < len(merges); i++ {
		if merges[i].distance < merges[i-1].distance-1e-10 {
			t.Errorf("merge distances should be non-decreasing: %f < %f", merges[i].distance, merges[i-1].distance)
		}
	}
}

func TestWardLinkageTwoPoints(t *testing.T) {
	merges := wardLinkage([][]float64{{0, 0}, {3, 4}})
	if len(merges) != 1 || math.Abs(merges[0].distance-5) > 1e-12 {
		t.Errorf("expected one merge at height 5, got %+v", merges)
	}
	if wardLinkage([][]float64{{1}}) != nil {
		t.Error("expected no merges for a single point")
	}
}

func TestCutDendrogramThreshold(t *testing.T) {
	points := [][]float64{
		{0, 0},
		{1, 0},
		{3, 0},
		{10, 10},
	}

	labels := cutDendrogram(wardLinkage(points), 4, 5.0)

	if labels[0] != labels[1] || labels[1] != labels[2] {
		t.Errorf("expected points 0,1,2 in same cluster, got labels %v", labels)
	}
	if labels[3] == labels[0] {
		t.Errorf("expected point 3 in different cluster, got labels %v", labels)
	}
	if labels[0] != 0 || labels[3] != 1 {
		t.Errorf("expected labels numbered by first appearance, got %v", labels)
	}
}

func TestCutDendrogramAllSeparate(t *testing.T) {
	points := [][]float64{
		{1.0, 0.0},
		{0.0, 1.0},
		{-1.0, 0.0},
	}

	labels := cutDendrogram(wardLinkage(points), 3, 0.001)

	if labels[0] == labels[1] || labels[1] == labels[2] || labels[0] == labels[2] {
		t.Errorf("expected all separate clusters with tiny threshold, got labels %v", labels)
	}
}

func TestCutDendrogramAllMerged(t *testing.T) {
	points := [][]float64{
		{1.0, 0.0},
		{0.0, 1.0},
		{-1.0, 0.0},
	}

	labels := cutDendrogram(wardLinkage(points), 3, 100.0)

	if labels[0] != labels[1] || labels[1] != labels[2] {
		t.Errorf("expected all in same cluster with large threshold, got labels %v", labels)
	}
}
