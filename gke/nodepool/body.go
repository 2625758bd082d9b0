package nodepool

import (
	"fmt"

	"cloud.google.com/go/container/apiv1/containerpb"

	"github.com/jlevesy/chaosgcp/gcp"
)

// DecodeNodePool turns a REST shaped node pool body into its API message.
// Field names may be either camelCase or snake_case, and the body may still be
// wrapped under a "nodePool" key like older API versions required.
func DecodeNodePool(body map[string]any) (*containerpb.NodePool, error) {
	for _, key := range []string{"nodePool", "node_pool"} {
		if inner, ok := body[key].(map[string]any); ok {
			body = inner
			break
		}
	}

	var np containerpb.NodePool
	if err := gcp.FromDict(body, &np); err != nil {
		return nil, fmt.Errorf("decoding node pool body: %w", err)
	}

	return &np, nil
}
