package drowsiness

// DefaultOpenRatio is the height/width ratio above which an eye counts as open.
const DefaultOpenRatio = 0.2

// EyeRegion is an axis-aligned eye bounding box in frame coordinates.
type EyeRegion struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Center returns the middle point of the region.
func (r EyeRegion) Center() (x, y int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// ClosureSample is the openness classification of one region.
type ClosureSample struct {
	// Region is the detected eye box.
	Region EyeRegion
	// Ratio is Region.Height / Region.Width, or 0 for an empty width.
	Ratio float64
	// IsOpen reports Ratio > threshold.
	IsOpen bool
}

// Estimator classifies eye regions as open or closed.
type Estimator struct {
	// Threshold is the exclusive lower bound of an open ratio.
	Threshold float64
}

// DefaultEstimator returns an estimator with the calibrated threshold.
func DefaultEstimator() Estimator {
	return Estimator{Threshold: DefaultOpenRatio}
}

// Estimate computes the openness ratio of region and classifies it.
// Regions without a positive width are reported closed with a zero ratio.
func (e Estimator) Estimate(region EyeRegion) ClosureSample {
	sample := ClosureSample{Region: region}
	if region.Width <= 0 {
		return sample
	}

	sample.Ratio = float64(region.Height) / float64(region.Width)
	sample.IsOpen = sample.Ratio > e.Threshold

	return sample
}

// EstimateAll classifies every region in detection order.
func (e Estimator) EstimateAll(regions []EyeRegion) []ClosureSample {
	samples := make([]ClosureSample, 0, len(regions))
	for _, region := range regions {
		samples = append(samples, e.Estimate(region))
	}

	return samples
}

// AllClosed reports whether no sample is open.
// An empty slice counts as closed: with no eyes in view nothing contradicts
// the closed assumption, so a face that left the frame also raises the alarm.
func AllClosed(samples []ClosureSample) bool {
	for _, sample := range samples {
		if sample.IsOpen {
			return false
		}
	}

	return true
}
