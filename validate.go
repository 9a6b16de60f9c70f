package spider2

// file validate.go cross-checks the description files of an experiment
// before a session is built from them.

import (
	"fmt"

	"golang.org/x/exp/maps"
)

// CheckFileFormats reads every description file named in the map and reports
// the first one that fails to parse.  Map keys select the expected format.
func CheckFileFormats(fullpathmap map[string]string) (bool, error) {
	empty := make([]byte, 0)
	for _, n := range maps.Keys(fullpathmap) {
		var err error
		filepath := fullpathmap[n]
		switch n {
		case "graph":
			_, err = ReadGraphDesc(filepath, true, empty)
		case "platform":
			_, err = ReadPlatformDesc(filepath, true, empty)
		case "timing":
			_, err = ReadTimingList(filepath, true, empty)
		default:
			// optional config files
			err = nil
		}
		if err != nil {
			return false, fmt.Errorf("description file %s (%s): %w", filepath, n, err)
		}
	}
	return true, nil
}
