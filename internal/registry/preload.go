package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/cormdev/corm/internal/schema"
	"github.com/cormdev/corm/internal/session"
)

// batchGroup dedupes concurrent PreloadCollections calls against the same
// session for the same attribute and owner set (spec.md §4.2's batch
// loader): two goroutines racing to read the same unloaded collection off
// the same owners issue one query between them instead of two.
var batchGroup singleflight.Group

// DedupedPreload wraps (*session.Cache).PreloadCollections with a
// singleflight dedupe keyed on the session's trace id, the attribute, and
// the sorted owner primary keys, so concurrent callers asking for the same
// batch share one query.
func DedupedPreload(ctx context.Context, c *session.Cache, attr *schema.Attribute, owners []*session.Instance) error {
	key := batchKey(c, attr, owners)
	_, err, _ := batchGroup.Do(key, func() (any, error) {
		return nil, c.PreloadCollections(ctx, attr, owners)
	})
	return err
}

func batchKey(c *session.Cache, attr *schema.Attribute, owners []*session.Instance) string {
	pks := make([]string, len(owners))
	for i, o := range owners {
		pks[i] = fmt.Sprint(o.PKValue())
	}
	sort.Strings(pks)
	return c.TraceID.String() + "|" + attr.Entity.Name + "." + attr.Name + "|" + strings.Join(pks, ",")
}
