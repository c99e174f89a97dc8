package detector

import (
	"strings"

	"github.com/sentinair/sentinair/pkg/events"
)

// FeatureVectorSize is the fixed length of every extracted vector. A
// model trained on one feature layout must never be scored against a
// different layout, so both the length and the ordering below are part
// of the model generation contract.
const FeatureVectorSize = 20

// FeatureVector is the fixed-length numeric encoding of one event.
type FeatureVector = []float64

// Extract deterministically maps one event to its feature vector:
// two time-of-day features, a four-way one-hot event-type encoding,
// then up to four category-specific features, zero-padded or truncated
// to exactly FeatureVectorSize entries. Missing payload fields encode
// as zeros; extraction never fails.
func Extract(evt events.Event) FeatureVector {
	features := make([]float64, 0, FeatureVectorSize)

	features = append(features,
		float64(evt.Timestamp.Hour()),
		float64(evt.Timestamp.Weekday()),
	)

	for _, et := range events.AllEventTypes {
		features = append(features, oneIf(evt.Type == et))
	}

	switch evt.Type {
	case events.EventFileAccess:
		path := evt.PayloadString("file_path", "")
		lower := strings.ToLower(path)
		features = append(features,
			float64(len(path)),
			float64(strings.Count(path, "/")+strings.Count(path, `\`)),
			oneIf(strings.HasSuffix(lower, ".exe")),
			oneIf(strings.Contains(lower, "system")),
		)
	case events.EventUSB:
		features = append(features,
			oneIf(evt.PayloadString("event_type", "") == "insert"),
			float64(evt.PayloadLen("device_name")),
			oneIf(evt.PayloadString("vendor_id", "") == "unknown"),
		)
	case events.EventProcessLaunch:
		appName := evt.PayloadString("app_name", "")
		features = append(features,
			float64(len(appName)),
			oneIf(strings.HasSuffix(strings.ToLower(appName), ".exe")),
			oneIf(strings.Contains(strings.ToLower(evt.PayloadString("app_path", "")), "temp")),
		)
	case events.EventUserBehavior:
		features = append(features,
			evt.PayloadFloat("duration_seconds", 0)/3600.0,
			float64(evt.PayloadLen("keystroke_patterns")),
			float64(evt.PayloadLen("mouse_patterns")),
		)
	}

	// Pad or truncate to the fixed size.
	for len(features) < FeatureVectorSize {
		features = append(features, 0.0)
	}
	return features[:FeatureVectorSize]
}

func oneIf(cond bool) float64 {
	if cond {
		return 1.0
	}
	return 0.0
}
