package features

import (
	"fmt"
	"strings"
)

// baseIntervalMinutes is the assumed sampling grid for target alignment.
// Targets always step horizon/15 rows forward regardless of the detected
// per-station cadence; the interval estimator only governs the lag and
// rolling transforms. This is a pipeline-wide constant, not a config knob.
const baseIntervalMinutes = 15

// TargetColumn returns the target column name for a horizon in minutes.
func TargetColumn(horizonMinutes int) string {
	return fmt.Sprintf("target_%dmin", horizonMinutes)
}

// IsTargetColumn reports whether a column holds a prediction target.
func IsTargetColumn(name string) bool {
	return strings.HasPrefix(name, "target_")
}

// applyTargets adds one target column per horizon: the station's own
// water_level horizon/15 rows later. Rows near the end of a station's
// series get NaN targets for the longer horizons; that is expected and is
// resolved by the training split, never by the cleaner.
func applyTargets(f *Frame, horizons []int) {
	water := f.Col(ColWaterLevel)

	for _, horizon := range horizons {
		shift := horizon / baseIntervalMinutes
		col := f.NewNaNCol()
		for _, group := range f.stationGroups() {
			for gi, row := range group {
				if gi+shift < len(group) {
					col[row] = water[group[gi+shift]]
				}
			}
		}
		f.SetCol(TargetColumn(horizon), col)
	}
}
