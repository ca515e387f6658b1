package benchmark

import (
	"fmt"
	"math"
	"sort"
)

// Record is the timing result of one run key. The JSON shape matches one
// entry of a hyperfine --export-json document, so records written by either
// runner are read the same way. All times are in seconds.
type Record struct {
	Key       string    `json:"key,omitempty"`
	Command   string    `json:"command"`
	Mean      float64   `json:"mean"`
	Stddev    float64   `json:"stddev"`
	Median    float64   `json:"median"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Times     []float64 `json:"times"`
	ExitCodes []int     `json:"exit_codes"`
}

// document is the on-disk layout: {"results": [record]}.
type document struct {
	Results []Record `json:"results"`
}

// Runtime formats the mean runtime, adding the standard deviation when the
// record holds more than one timed run.
func (r Record) Runtime() string {
	if len(r.Times) > 1 {
		return fmt.Sprintf("%.3f ± %.3f", r.Mean, r.Stddev)
	}
	return fmt.Sprintf("%.3f", r.Mean)
}

// Failed reports whether any timed run exited non-zero.
func (r Record) Failed() bool {
	for _, code := range r.ExitCodes {
		if code != 0 {
			return true
		}
	}
	return false
}

// NewRecord computes summary statistics over the timed runs.
// Stddev is the sample standard deviation, zero for a single run.
func NewRecord(key, command string, times []float64, exitCodes []int) Record {
	r := Record{
		Key:       key,
		Command:   command,
		Times:     times,
		ExitCodes: exitCodes,
	}
	if len(times) == 0 {
		return r
	}

	sum := 0.0
	r.Min, r.Max = times[0], times[0]
	for _, t := range times {
		sum += t
		r.Min = math.Min(r.Min, t)
		r.Max = math.Max(r.Max, t)
	}
	r.Mean = sum / float64(len(times))
	r.Median = median(times)

	if len(times) > 1 {
		sq := 0.0
		for _, t := range times {
			d := t - r.Mean
			sq += d * d
		}
		r.Stddev = math.Sqrt(sq / float64(len(times)-1))
	}
	return r
}

func median(times []float64) float64 {
	sorted := make([]float64, len(times))
	copy(sorted, times)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
