package decode

import "github.com/embedstream/streamcore/internal/ffmpeg"

// Capabilities describes which video decode backends are usable on this
// device. Software decode is always assumed available since it only
// requires a working ffmpeg binary; hardware decode additionally requires a
// detected accelerator.
type Capabilities struct {
	SoftwareAvailable bool
	HWAccels          []ffmpeg.HWAccelInfo
}

// PreferredHWAccel returns the best available hardware accelerator, or nil
// if none were detected. Delegates to the same priority table ffmpeg uses
// for its own recommendation so decode and probing agree.
func (c Capabilities) PreferredHWAccel() *ffmpeg.HWAccelInfo {
	return ffmpeg.GetRecommendedHWAccel(c.HWAccels)
}

// HasHWAccel reports whether any hardware accelerator was detected.
func (c Capabilities) HasHWAccel() bool {
	return c.PreferredHWAccel() != nil
}
