package hotpath

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// PathHash returns a stable, order-sensitive hash of an id sequence.
// Identical ordered lists always hash identically; any reordering changes
// the hash.
func PathHash(ids []string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(ids, "|")), 16)
}
