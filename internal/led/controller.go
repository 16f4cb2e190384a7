package led

// Controller abstracts board LED control.
type Controller interface {
	// Set controls an LED's state and optional pattern
	// Parameters:
	//   ledType: board LED identifier from the board table (e.g., "act", "pwr")
	//   enabled: whether the LED should be on or off
	//   pattern: optional pattern ("solid", "blink", "heartbeat");
	//            empty string means no pattern change
	Set(ledType string, enabled bool, pattern string) error

	// Available returns the list of LED types supported by this controller
	Available() []string

	// Patterns returns the list of patterns supported by this controller
	Patterns() []string
}
