package profile

import (
	"fmt"
	"math/rand"
)

var adjectives = []string{
	"happy", "sunny", "clever", "brave", "mighty",
	"gentle", "wise", "calm", "swift", "bright",
}

var animals = []string{
	"gorilla", "dolphin", "tiger", "eagle", "panda",
	"koala", "wolf", "fox", "rabbit", "turtle",
}

// RandomName generates a friendly profile name that does not collide
// with any existing profile directory.
func (st *Store) RandomName() string {
	existing := make(map[string]bool)
	for _, name := range st.List() {
		existing[name] = true
	}

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("%s_%s", adjectives[rand.Intn(len(adjectives))], animals[rand.Intn(len(animals))])
		if !existing[name] {
			return name
		}
	}

	// Word pool exhausted, disambiguate with a numeric suffix.
	for {
		name := fmt.Sprintf("%s_%s_%d",
			adjectives[rand.Intn(len(adjectives))],
			animals[rand.Intn(len(animals))],
			rand.Intn(999)+1)
		if !existing[name] {
			return name
		}
	}
}
