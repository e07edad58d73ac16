package domain

// ConferenceLeg is one outbound call attached to a provider conference.
// Legs are not retained after creation; the provider owns their state.
type ConferenceLeg struct {
	LegID         string `json:"legId"`
	TargetAddress string `json:"targetAddress"`
	ConferenceID  string `json:"conferenceId"`
}
