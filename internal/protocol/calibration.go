package protocol

import "errors"

var errZeroSlope = errors.New("calibration: slope must be non-zero")

// Calibration is the linear map between peltier and sample-chip temperature:
// chip = peltier*Slope + Intercept.
type Calibration struct {
	Slope     float64 `mapstructure:"slope" json:"slope"`
	Intercept float64 `mapstructure:"intercept" json:"intercept"`
}

// Identity leaves temperatures unchanged.
var Identity = Calibration{Slope: 1}

func (c Calibration) Validate() error {
	if c.Slope == 0 {
		return errZeroSlope
	}
	return nil
}

func (c Calibration) IsIdentity() bool { return c.Slope == 1 && c.Intercept == 0 }

func (c Calibration) PeltierToChip(t float64) float64 { return t*c.Slope + c.Intercept }

func (c Calibration) ChipToPeltier(t float64) float64 { return (t - c.Intercept) / c.Slope }
