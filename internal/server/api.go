package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joshp123/gohome-spotify/internal/accessory"
	"github.com/joshp123/gohome-spotify/internal/core"
	"github.com/joshp123/gohome-spotify/internal/fader"
	"github.com/joshp123/gohome-spotify/internal/reconcile"
)

type api struct {
	accessories Accessories
	fades       Fades
	plugins     *core.Registry
}

// AccessoryView is the JSON form of one registered accessory.
type AccessoryView struct {
	DeviceID string           `json:"device_id"`
	UUID     string           `json:"uuid"`
	Name     string           `json:"name"`
	Kind     string           `json:"kind"`
	On       *bool            `json:"on,omitempty"`
	Fade     *fader.FadeState `json:"fade,omitempty"`
}

type healthResponse struct {
	Status  string            `json:"status"`
	Plugins []core.PluginInfo `json:"plugins,omitempty"`
}

type powerRequest struct {
	On *bool `json:"on"`
}

type volumeRequest struct {
	Volume *int `json:"volume"`
}

type volumeResponse struct {
	DeviceID string `json:"device_id"`
	Volume   int    `json:"volume"`
}

func (a *api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if a.plugins != nil {
		resp.Plugins = a.plugins.List()
		if !a.plugins.Healthy() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	if a.plugins == nil {
		writeJSON(w, http.StatusOK, []core.PluginInfo{})
		return
	}
	writeJSON(w, http.StatusOK, a.plugins.List())
}

func (a *api) handleListAccessories(w http.ResponseWriter, _ *http.Request) {
	accs := a.accessories.Accessories()
	views := make([]AccessoryView, 0, len(accs))
	for _, acc := range accs {
		views = append(views, a.view(acc))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *api) handleGetAccessory(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.view(acc))
}

func (a *api) handleSetPower(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.lookup(w, r)
	if !ok {
		return
	}
	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.On == nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, `body must be {"on": bool}`)
		return
	}
	if err := acc.PowerSet(r.Context(), *req.On); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.view(acc))
}

func (a *api) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	acc, ok := a.lookup(w, r)
	if !ok {
		return
	}
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Volume == nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, `body must be {"volume": int}`)
		return
	}
	if *req.Volume < 0 || *req.Volume > 100 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "volume must be between 0 and 100")
		return
	}
	if err := acc.VolumeSet(r.Context(), *req.Volume); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, volumeResponse{DeviceID: acc.DeviceID(), Volume: *req.Volume})
}

func (a *api) handleListFades(w http.ResponseWriter, _ *http.Request) {
	if a.fades == nil {
		writeJSON(w, http.StatusOK, []fader.FadeState{})
		return
	}
	writeJSON(w, http.StatusOK, a.fades.ActiveAll())
}

func (a *api) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := a.accessories.Tick(r.Context())
	switch {
	case errors.Is(err, reconcile.ErrTickInProgress):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *api) lookup(w http.ResponseWriter, r *http.Request) (*accessory.Accessory, bool) {
	id := chi.URLParam(r, "id")
	acc, ok := a.accessories.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "accessory "+id+" not registered")
		return nil, false
	}
	return acc, true
}

func (a *api) view(acc *accessory.Accessory) AccessoryView {
	v := AccessoryView{
		DeviceID: acc.DeviceID(),
		UUID:     acc.UUID(),
		Name:     acc.DisplayName(),
		Kind:     acc.Kind(),
	}
	if on, known := acc.LastPower(); known {
		v.On = &on
	}
	if a.fades != nil {
		if state, ok := a.fades.Active(acc.DeviceID()); ok {
			v.Fade = &state
		}
	}
	return v
}
