package models

// Temp is a single temperature sample and its 32-bit Unix time.
type Temp struct {
	Temp float32 `json:"temp"`
	Time int32   `json:"time"`
}

// Hist is a sensor's temperature history as parallel slices, newest first.
type Hist struct {
	Temps []float32 `json:"temps"`
	Times []int32   `json:"times"`
}

// GroupAverages collapses samples into the mean of each run of size
// consecutive samples, stamped with the time of the run's last sample.
// A trailing run shorter than size is dropped.
func GroupAverages(samples []Temp, size int) Hist {
	hist := Hist{Temps: []float32{}, Times: []int32{}}
	if size <= 0 {
		return hist
	}
	for end := size; end <= len(samples); end += size {
		var sum float32
		for _, s := range samples[end-size : end] {
			sum += s.Temp
		}
		hist.Temps = append(hist.Temps, sum/float32(size))
		hist.Times = append(hist.Times, samples[end-1].Time)
	}
	return hist
}
