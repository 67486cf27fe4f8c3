// Package util provides small, stateless utility functions shared across
// the application. Functions here have no dependencies on other internal
// packages.
package util

import (
	"fmt"
	"math/rand/v2"
)

// adjectives and nouns form the human-readable suffix appended to a
// sandbox container's name for operator legibility in `docker ps` output.
// Routing never uses this word pair: the subdomain is always the full
// UUIDv4 (spec §9 "Subdomain pattern").
var adjectives = []string{
	"amber", "azure", "bold", "calm", "cedar", "clean", "clear",
	"crisp", "dawn", "dusk", "emerald", "fair", "firm", "fleet",
	"frost", "gold", "grand", "green", "grey", "iron", "jade",
	"keen", "lark", "lean", "light", "lunar", "maple", "mist",
	"noble", "north", "oak", "onyx", "open", "peak", "pine",
	"plain", "prime", "quick", "quiet", "rapid", "regal", "ridge",
	"river", "rose", "ruby", "sage", "sand", "sharp", "shore",
	"silk", "silver", "slate", "solar", "solid", "stark", "steel",
	"stone", "storm", "swift", "teal", "terra", "tidal", "true",
	"vale", "vast", "warm", "white", "wild", "wind",
}

var nouns = []string{
	"arc", "bay", "beam", "bird", "blade", "bloom", "bolt", "bond",
	"brook", "cliff", "cloud", "coast", "core", "crest", "crow",
	"dale", "dawn", "delta", "dune", "dust", "echo", "edge", "fern",
	"field", "flame", "flare", "fleet", "flow", "fog", "ford",
	"forge", "fox", "frost", "gale", "gate", "glen", "grove", "gust",
	"hawk", "hill", "horizon", "isle", "keep", "lake", "lark", "leaf",
	"light", "line", "lynx", "mast", "mesa", "mill", "mist", "moon",
	"moss", "mount", "node", "ore", "path", "peak", "pine", "plain",
	"pond", "pool", "port", "pulse", "ridge", "rift", "rise", "river",
	"rock", "root", "run", "sand", "seed", "shore", "sky", "slope",
	"snow", "sol", "spark", "spire", "spring", "star", "stem", "step",
	"stone", "stream", "sun", "surf", "surge", "tide", "trail", "tree",
	"vale", "veil", "vine", "wake", "wave", "wind", "wing", "wood",
}

// RandomSlugWord returns a single "adjective-noun" pair, e.g. "amber-ridge".
// Used to make sandbox container names legible in `docker ps` output
// without affecting routing, which keys exclusively off the full UUIDv4
// subdomain.
func RandomSlugWord() string {
	adjective := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	return fmt.Sprintf("%s-%s", adjective, noun)
}

// ShortID returns the leading n characters of id, or the whole string if
// shorter. Used to keep container names readable when embedding a UUID.
func ShortID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
