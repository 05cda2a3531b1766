package letor

// Normalize min-max scales the vectors of one query in place. Each enabled
// feature maps to (v-min)/(max-min) over the group; a feature with the same
// value in every vector becomes 0, as does every disabled feature.
func Normalize(values []Values, enabled FeatureSet) {
	if len(values) == 0 {
		return
	}
	for i := 0; i < NumFeatures; i++ {
		if !enabled[i] {
			for j := range values {
				values[j][i] = 0
			}
			continue
		}
		lo, hi := values[0][i], values[0][i]
		for _, v := range values[1:] {
			lo = min(lo, v[i])
			hi = max(hi, v[i])
		}
		span := hi - lo
		for j := range values {
			if span == 0 {
				values[j][i] = 0
			} else {
				values[j][i] = (values[j][i] - lo) / span
			}
		}
	}
}
