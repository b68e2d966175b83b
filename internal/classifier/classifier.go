// Package classifier defines the gateway to the image classifier and a
// scripted implementation that replays a detection timeline from YAML.
package classifier

import (
	"context"

	"github.com/npratt/reeler/internal/fishing"
)

// Classifier returns the single highest-confidence label within allowed whose
// confidence exceeds the configured threshold. ok is false when nothing
// qualifies. An error means the gateway itself failed.
type Classifier interface {
	Detect(ctx context.Context, allowed fishing.LabelSet) (det fishing.Detection, ok bool, err error)
}

// Best picks the highest-confidence candidate within allowed whose confidence
// exceeds threshold. Gateways that receive a full score vector use it to apply the
// contract above.
func Best(candidates []fishing.Detection, allowed fishing.LabelSet, threshold float64) (fishing.Detection, bool) {
	var best fishing.Detection
	found := false
	for _, c := range candidates {
		if !allowed.Has(c.Label) || c.Confidence <= threshold {
			continue
		}
		if !found || c.Confidence > best.Confidence {
			best = c
			found = true
		}
	}
	return best, found
}
