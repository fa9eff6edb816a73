package replication

import (
	"context"

	"github.com/nadb-org/nadb/rpcproto"
)

// Applier applies a replicated operation to a secondary's local store,
// bypassing the replication broadcast path entirely (a secondary must
// never re-broadcast what it applies, per §4.8).
type Applier interface {
	ApplySet(ctx context.Context, msg rpcproto.Message) error
	ApplyDelete(ctx context.Context, msg rpcproto.Message) error
	ApplyMetadata(ctx context.Context, msg rpcproto.Message) error
}
