package model

import "time"

// RotationState tracks how many compounding cycles the active target has received.
type RotationState struct {
	Target       string    `json:"target"`
	Held         int       `json:"held"`
	Compounded   int       `json:"compounded"`
	Rotations    int       `json:"rotations"`
	LastActionAt time.Time `json:"last_action_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
