package oauth

import (
	"encoding/json"
	"fmt"
	"time"
)

const SchemaVersion = 1

// MirrorState is the refresh state mirrored to remote storage after a
// rotation.
type MirrorState struct {
	SchemaVersion int       `json:"schema_version"`
	Provider      string    `json:"provider"`
	ClientID      string    `json:"client_id"`
	RefreshToken  string    `json:"refresh_token"`
	RotatedAt     time.Time `json:"rotated_at"`
}

func (s MirrorState) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.Provider == "" {
		return fmt.Errorf("state missing provider")
	}
	if s.RefreshToken == "" {
		return fmt.Errorf("state missing refresh_token")
	}
	return nil
}

func EncodeState(state MirrorState) ([]byte, error) {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

func DecodeState(data []byte) (MirrorState, error) {
	var state MirrorState
	if err := json.Unmarshal(data, &state); err != nil {
		return MirrorState{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return MirrorState{}, err
	}
	return state, nil
}
