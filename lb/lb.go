package lb

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jlevesy/chaosgcp/gcp"
	"github.com/jlevesy/chaosgcp/operation"
)

// NewActionsFromContext builds Actions for the project of gctx. Regional
// targets are available when gctx carries a region.
func NewActionsFromContext(
	ctx context.Context,
	gctx gcp.Context,
	waiter *operation.Waiter,
	logger *zap.Logger,
	clientOpts []option.ClientOption,
	opts ...ActionsOption,
) (*Actions, func() error, error) {
	global, err := NewGlobalURLMaps(ctx, gctx.ProjectID, clientOpts...)
	if err != nil {
		return nil, nil, err
	}

	if gctx.Region == "" {
		return NewActions(global, waiter, logger, opts...), global.Close, nil
	}

	regional, err := NewRegionalURLMaps(ctx, gctx.ProjectID, gctx.Region, clientOpts...)
	if err != nil {
		_ = global.Close()
		return nil, nil, err
	}

	closeAll := func() error {
		if err := regional.Close(); err != nil {
			_ = global.Close()
			return err
		}

		return global.Close()
	}

	allOpts := make([]ActionsOption, 0, len(opts)+1)
	allOpts = append(allOpts, opts...)
	allOpts = append(allOpts, WithRegionalURLMaps(regional))

	return NewActions(global, waiter, logger, allOpts...), closeAll, nil
}
