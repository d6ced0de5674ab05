package osm

import "github.com/paulmach/osm"

// drivable lists the highway values a car may use.
var drivable = map[string]bool{
	"motorway":       true,
	"motorway_link":  true,
	"trunk":          true,
	"trunk_link":     true,
	"primary":        true,
	"primary_link":   true,
	"secondary":      true,
	"secondary_link": true,
	"tertiary":       true,
	"tertiary_link":  true,
	"unclassified":   true,
	"residential":    true,
	"living_street":  true,
	"service":        true,
}

// carProfile reports which directions of a way a car may travel. Both are
// false for ways cars cannot use at all.
func carProfile(tags osm.Tags) (forward, backward bool) {
	hw := tags.Find("highway")
	if !drivable[hw] || tags.Find("area") == "yes" {
		return false, false
	}
	switch tags.Find("access") {
	case "no", "private":
		return false, false
	}
	if tags.Find("motor_vehicle") == "no" {
		return false, false
	}

	// Motorways and roundabouts are one-way unless tagged otherwise.
	forward = true
	backward = hw != "motorway" && hw != "motorway_link" && tags.Find("junction") != "roundabout"

	switch tags.Find("oneway") {
	case "yes", "true", "1":
		return true, false
	case "-1", "reverse":
		return false, true
	case "no":
		return true, true
	case "reversible":
		// Direction changes by time of day.
		return false, false
	}
	return forward, backward
}
