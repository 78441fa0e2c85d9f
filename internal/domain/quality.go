package domain

import "time"

// Quality is a coarse connection classification derived from one RTT sample.
type Quality int

const (
	QualityNormal Quality = iota
	QualityMedium
	QualityLow
)

const (
	LowQualityRTT    = 800 * time.Millisecond
	MediumQualityRTT = 300 * time.Millisecond
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	default:
		return "normal"
	}
}

// ClassifyRTT is a pure function of the sample: above 800ms is Low, above 300ms Medium.
func ClassifyRTT(rtt time.Duration) Quality {
	switch {
	case rtt > LowQualityRTT:
		return QualityLow
	case rtt > MediumQualityRTT:
		return QualityMedium
	default:
		return QualityNormal
	}
}
