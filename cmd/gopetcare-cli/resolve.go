package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/joshp123/gopetcare/petkit"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	name = replacer.Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveDevice matches input against a device id or name.
func resolveDevice(kind, input string, names map[int64]string) (int64, error) {
	if id, err := strconv.ParseInt(input, 10, 64); err == nil {
		if _, ok := names[id]; ok {
			return id, nil
		}
	}
	needle := normalizeName(input)
	for id, name := range names {
		if normalizeName(name) == needle {
			return id, nil
		}
	}
	available := make([]string, 0, len(names))
	for _, name := range names {
		available = append(available, name)
	}
	sort.Strings(available)
	return 0, fmt.Errorf("%s %q not found. Available: %s", kind, input, strings.Join(available, ", "))
}

func fountainNames(snapshot *petkit.Snapshot) map[int64]string {
	names := make(map[int64]string, len(snapshot.Fountains))
	for id, fountain := range snapshot.Fountains {
		names[id] = fountain.Name
	}
	return names
}

func litterBoxNames(snapshot *petkit.Snapshot) map[int64]string {
	names := make(map[int64]string, len(snapshot.LitterBoxes))
	for id, box := range snapshot.LitterBoxes {
		names[id] = box.Name
	}
	return names
}

func feederNames(snapshot *petkit.Snapshot) map[int64]string {
	names := make(map[int64]string, len(snapshot.Feeders))
	for id, feeder := range snapshot.Feeders {
		names[id] = feeder.Name
	}
	return names
}
