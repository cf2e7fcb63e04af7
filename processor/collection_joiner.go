package processor

import (
	"fmt"

	"github.com/nci/s2cloudless/utils"
)

func indexCollection(c utils.Collection, role string) (map[string]*utils.Image, error) {
	lookup := make(map[string]*utils.Image, len(c))
	for _, img := range c {
		if _, found := lookup[img.Index]; found {
			return nil, fmt.Errorf("%s collection: %s: %w", role, img.Index, utils.ErrDuplicateIndex)
		}
		lookup[img.Index] = img
	}
	return lookup, nil
}

// JoinCollections pairs every primary image with the secondary image of
// the same acquisition index. The joined collection keeps the primary
// order and always has the primary cardinality; primaries without a
// match carry a nil Companion and are listed in the returned *JoinError.
func JoinCollections(primary, secondary utils.Collection) (utils.Collection, error) {
	if _, err := indexCollection(primary, "primary"); err != nil {
		return nil, err
	}
	lookup, err := indexCollection(secondary, "secondary")
	if err != nil {
		return nil, err
	}

	joined := make(utils.Collection, 0, len(primary))
	var missing []string
	for _, img := range primary {
		companion, found := lookup[img.Index]
		if !found {
			missing = append(missing, img.Index)
		}
		joined = append(joined, img.WithCompanion(companion))
	}

	if len(missing) > 0 {
		return joined, &utils.JoinError{Missing: missing}
	}
	return joined, nil
}
