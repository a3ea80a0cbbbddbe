package audio

// Device is the audio capture/playback collaborator interface spec.md §1
// excludes from the core's direct implementation. No example repo in the
// retrieved pack imports a concrete capture/playback binding (no
// portaudio/malgo/oto dependency appears in any manifest), so voxhub ships
// only this interface plus a deterministic in-memory double for tests; a
// real binary wires in a platform-specific implementation separately.
type Device interface {
	// Capture returns one 256-sample frame read from the input device, per
	// spec.md §5's "each 256-sample capture spawns a short-lived task".
	Capture() ([]int16, error)
	// Play writes one decoded PCM frame to the output device.
	Play(samples []int16) error
	// Close releases the device.
	Close() error
}
