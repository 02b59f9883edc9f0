package spotify

import "github.com/joshp123/gohome-spotify/internal/remote"

type apiDevice struct {
	ID            *string `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	IsActive      bool    `json:"is_active"`
	IsRestricted  bool    `json:"is_restricted"`
	VolumePercent *int    `json:"volume_percent"`
}

type devicesResponse struct {
	Devices *[]apiDevice `json:"devices"`
}

type playbackResponse struct {
	Device    *apiDevice `json:"device"`
	IsPlaying bool       `json:"is_playing"`
}

func (d apiDevice) toRemote() remote.Device {
	out := remote.Device{
		Name:     d.Name,
		Type:     d.Type,
		IsActive: d.IsActive,
	}
	if d.ID != nil {
		out.ID = *d.ID
	}
	if d.VolumePercent != nil {
		out.VolumePercent = *d.VolumePercent
	}
	return out
}
