package mirror

import (
	"context"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgmetrics"
)

// Push uploads root and everything it transitively references to client's
// remote, per spec §4.10: try to add root on the remote; if the remote
// reports MissingChildren, push each of those first, then retry root. The
// recursion bottoms out at leaves, which always succeed on first try.
func Push(ctx context.Context, store *object.Store, client *Client, root id.ID) error {
	err := pushOne(ctx, store, client, root)
	if err != nil {
		tgmetrics.MirrorPushBlocksTotal.WithLabelValues("error").Inc()
		return err
	}
	tgmetrics.MirrorPushBlocksTotal.WithLabelValues("ok").Inc()
	return nil
}

func pushOne(ctx context.Context, store *object.Store, client *Client, i id.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := store.RawGet(i)
	if err != nil {
		return err
	}

	outcome, err := client.TryAddBlock(ctx, payload)
	if err != nil {
		return err
	}
	if outcome.Added {
		return nil
	}

	for _, child := range outcome.MissingChildren {
		if err := pushOne(ctx, store, client, child); err != nil {
			return err
		}
	}

	retry, err := client.TryAddBlock(ctx, payload)
	if err != nil {
		return err
	}
	if !retry.Added {
		// The remote reported the same (or a new) set of missing children
		// immediately after we supplied the previous set — the remote's
		// closure check and ours disagree, which should not happen against
		// a correctly-implemented Server.
		return tryAddDidNotConverge(i)
	}
	return nil
}

// Pull downloads root and everything it transitively references from
// client's remote into store, the mirror image of Push: get root from the
// remote; if storing it locally reports MissingChildren, pull each of those
// first, then retry.
func Pull(ctx context.Context, store *object.Store, client *Client, root id.ID) error {
	err := pullOne(ctx, store, client, root)
	if err != nil {
		tgmetrics.MirrorPullBlocksTotal.WithLabelValues("error").Inc()
		return err
	}
	tgmetrics.MirrorPullBlocksTotal.WithLabelValues("ok").Inc()
	return nil
}

func pullOne(ctx context.Context, store *object.Store, client *Client, i id.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	have, err := store.Has(i)
	if err != nil {
		return err
	}
	if have {
		return nil
	}

	payload, err := client.GetBlock(ctx, i)
	if err != nil {
		return err
	}

	outcome, err := store.RawTryAdd(payload)
	if err != nil {
		return err
	}
	if outcome.Added {
		return nil
	}

	for _, child := range outcome.MissingChildren {
		if err := pullOne(ctx, store, client, child); err != nil {
			return err
		}
	}

	retry, err := store.RawTryAdd(payload)
	if err != nil {
		return err
	}
	if !retry.Added {
		return tryAddDidNotConverge(i)
	}
	return nil
}

func tryAddDidNotConverge(i id.ID) error {
	return &convergenceError{id: i}
}

type convergenceError struct {
	id id.ID
}

func (e *convergenceError) Error() string {
	return "mirror: " + e.id.String() + " still reported missing children after supplying its closure"
}
