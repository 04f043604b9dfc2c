package types

// layerRank orders the retention tiers. Promotion rules may only move a
// memory one level up per pass; the single sanctioned demotion is
// semantic -> episodic.
var layerRank = map[string]int{
	LayerWorking:  0,
	LayerEpisodic: 1,
	LayerSemantic: 2,
	LayerArchival: 3,
}

// LayerRank returns the tier's position in the working < episodic < semantic
// < archival ordering, or -1 for an unknown layer.
func LayerRank(layer string) int {
	rank, ok := layerRank[layer]
	if !ok {
		return -1
	}
	return rank
}

// IsValidLayerTransition validates a single-pass layer move.
//
// Valid transitions:
//
//	working  -> episodic | semantic   (semantic only via fast-track)
//	episodic -> semantic
//	semantic -> archival | episodic   (episodic is the demotion rule)
//	archival -> (terminal, no transitions out)
//
// A transition to the current layer is rejected; a pass that changes nothing
// simply applies no transition.
func IsValidLayerTransition(currentLayer, newLayer string) bool {
	if !IsValidLayer(currentLayer) || !IsValidLayer(newLayer) {
		return false
	}
	if currentLayer == newLayer {
		return false
	}

	switch currentLayer {
	case LayerWorking:
		return newLayer == LayerEpisodic || newLayer == LayerSemantic

	case LayerEpisodic:
		return newLayer == LayerSemantic

	case LayerSemantic:
		return newLayer == LayerArchival || newLayer == LayerEpisodic

	case LayerArchival:
		return false // Terminal tier, no transitions out

	default:
		return false
	}
}
