// Package protocol implements the binary packet format spoken by network
// microphones. A microphone announces its format with a hello packet and then
// streams sequenced PCM-16 audio packets over UDP.
package protocol
