package blow

import (
	"math"
	"strconv"
	"time"
)

// CSVHeader names the columns of Record.CSVFields.
var CSVHeader = []string{"time_ms", "E_low", "E_mid", "SER", "centroid_Hz", "candidate"}

// Snapshot is the rounded diagnostic view of one frame.
type Snapshot struct {
	ELow      float64 `json:"eLow"`
	EMid      float64 `json:"eMid"`
	Ratio     float64 `json:"ratio"`
	Centroid  float64 `json:"centroid"`
	Candidate bool    `json:"candidate"`
}

// NewSnapshot rounds features for display: energies and centroid to integers,
// the ratio to one decimal.
func NewSnapshot(f Features, candidate bool) Snapshot {
	return Snapshot{
		ELow:      math.Round(f.ELow),
		EMid:      math.Round(f.EMid),
		Ratio:     math.Round(f.Ratio*10) / 10,
		Centroid:  math.Round(f.Centroid),
		Candidate: candidate,
	}
}

// Record is one line of the diagnostic history.
type Record struct {
	Elapsed   time.Duration
	Features  Features
	Candidate bool
}

// CSVFields renders the record in CSVHeader order.
func (r Record) CSVFields() []string {
	candidate := "0"
	if r.Candidate {
		candidate = "1"
	}
	return []string{
		strconv.FormatInt(r.Elapsed.Milliseconds(), 10),
		strconv.FormatFloat(math.Round(r.Features.ELow), 'f', 0, 64),
		strconv.FormatFloat(math.Round(r.Features.EMid), 'f', 0, 64),
		strconv.FormatFloat(r.Features.Ratio, 'f', 2, 64),
		strconv.FormatFloat(math.Round(r.Features.Centroid), 'f', 0, 64),
		candidate,
	}
}
