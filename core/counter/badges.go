package counter

// tierNames indexes badge tiers by value; index 0 is the unranked state.
var tierNames = [TierCount + 1]string{
	"Unranked",
	"Bronze",
	"Silver",
	"Gold",
	"Platinum",
	"Diamond",
	"Master",
	"Legend",
}

// TierFor derives the badge tier earned by a lifetime increment count against
// the supplied threshold table. It is a pure, total function.
func TierFor(increments uint64, thresholds [TierCount]uint64) uint8 {
	tier := uint8(0)
	for i := 0; i < TierCount; i++ {
		if increments >= thresholds[i] {
			tier = uint8(i + 1)
		}
	}
	return tier
}

// TierName returns the display name for a tier value. Out-of-range values map
// to the unranked name.
func TierName(tier uint8) string {
	if int(tier) >= len(tierNames) {
		return tierNames[0]
	}
	return tierNames[tier]
}
