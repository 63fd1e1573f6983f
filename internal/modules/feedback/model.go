// README: Driver feedback on a resolved location; append-only ground truth for later tuning.
package feedback

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"vectra/internal/geo"
)

var (
	ErrValidation = errors.New("invalid feedback")
	ErrClosed     = errors.New("feedback queue closed")
)

const maxCommentLen = 1000

// Feedback never mutates the refined record it refers to.
type Feedback struct {
	AddressID      string   `json:"address_id"`
	DriverID       string   `json:"driver_id"`
	IsNavPointOK   bool     `json:"is_np_ok"`
	IsEntryPointOK bool     `json:"is_ep_ok"`
	CorrectedLat   *float64 `json:"corrected_lat,omitempty"`
	CorrectedLon   *float64 `json:"corrected_lon,omitempty"`
	Comment        string   `json:"comment,omitempty"`

	CreatedAt time.Time `json:"-"`
}

func (f Feedback) Validate() error {
	if !geo.IsGeohash(f.AddressID) {
		return fmt.Errorf("%w: address_id must be a geohash", ErrValidation)
	}
	if strings.TrimSpace(f.DriverID) == "" {
		return fmt.Errorf("%w: driver_id is required", ErrValidation)
	}
	if (f.CorrectedLat == nil) != (f.CorrectedLon == nil) {
		return fmt.Errorf("%w: corrected_lat and corrected_lon go together", ErrValidation)
	}
	if f.CorrectedLat != nil {
		lat, lon := *f.CorrectedLat, *f.CorrectedLon
		if math.IsNaN(lat) || lat < -90 || lat > 90 || math.IsNaN(lon) || lon < -180 || lon > 180 {
			return fmt.Errorf("%w: corrected position out of range", ErrValidation)
		}
	}
	if len(f.Comment) > maxCommentLen {
		return fmt.Errorf("%w: comment longer than %d bytes", ErrValidation, maxCommentLen)
	}
	return nil
}
