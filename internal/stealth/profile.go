// Package stealth randomizes browser fingerprints and rotates the network
// egress identity between page visits.
package stealth

import "math/rand"

// Profile is the randomized fingerprint applied to a browser session.
type Profile struct {
	UserAgent string
	Width     int64
	Height    int64
}

// Desktop Chrome user agents. The portal serves a different, harder to parse
// layout to anything that looks like a bot or a phone.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

var viewports = [][2]int64{
	{1280, 800},
	{1366, 768},
	{1440, 900},
	{1536, 864},
	{1680, 1050},
	{1920, 1080},
}

// RandomProfile draws a user agent and viewport from the pools.
func RandomProfile(rng *rand.Rand) Profile {
	ua := userAgents[rng.Intn(len(userAgents))]
	vp := viewports[rng.Intn(len(viewports))]
	return Profile{UserAgent: ua, Width: vp[0], Height: vp[1]}
}

// RandomViewport draws a viewport only, for mid-session resizes.
func RandomViewport(rng *rand.Rand) (width, height int64) {
	vp := viewports[rng.Intn(len(viewports))]
	return vp[0], vp[1]
}
