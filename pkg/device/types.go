// Package device discovers and controls the devices of a Mi Home account
// through the encrypted cloud RPC layer.
package device

// Record describes one controllable endpoint discovered in the account.
// Records are unique per MAC address across all discovery sources; when the
// same MAC surfaces more than once, the first-seen record wins.
type Record struct {
	// DID is the cloud device identifier.
	DID string `json:"did"`

	// Name is the user-assigned label.
	Name string `json:"name"`

	// Model is the vendor model string (e.g. "zhimi.airpurifier.ma2").
	Model string `json:"model"`

	// MAC is the device hardware address and the deduplication key.
	MAC string `json:"mac"`

	// LocalIP is the LAN address hint, when the cloud knows one.
	LocalIP string `json:"localip"`

	// Token is the device's local binding secret, usable for LAN control.
	Token string `json:"token"`

	// IsOnline reports cloud reachability at discovery time.
	IsOnline bool `json:"isOnline"`
}
