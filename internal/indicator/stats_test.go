package indicator

import (
	"math"
	"testing"
)

func TestStdDevIsPopulation(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := StdDev(values); math.Abs(got-2) > 1e-9 {
		t.Fatalf("expected population std 2, got %v", got)
	}
	if got := StdDev([]float64{5}); got != 0 {
		t.Fatalf("expected 0 for single sample, got %v", got)
	}
}

func TestMeanAndSum(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	if got := Mean(values); got != 2.5 {
		t.Errorf("expected mean 2.5, got %v", got)
	}
	if got := Sum(values); got != 10 {
		t.Errorf("expected sum 10, got %v", got)
	}
	if Mean(nil) != 0 || Sum(nil) != 0 {
		t.Errorf("expected zero for empty input")
	}
}

func TestSliceTailCopies(t *testing.T) {
	values := []float64{1, 2, 3}
	tail := SliceTail(values, 2)
	tail[0] = 100
	if values[1] != 2 {
		t.Fatalf("SliceTail must not alias the input")
	}
	if got := SliceTail(values, 10); len(got) != 3 {
		t.Fatalf("expected whole slice when n exceeds length, got %d", len(got))
	}
}
