package web

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deemkeen/loxodon/util"
)

// Kinds of locally minted documents that remote servers dereference at
// their canonical /ap/<kind>/<uuid> address.
var objectKinds = map[string]bool{
	"follow":   true,
	"accept":   true,
	"undo":     true,
	"announce": true,
	"like":     true,
	"create":   true,
	"note":     true,
	"article":  true,
}

// GetStoredObject serves a locally minted activity or content object from
// the object store by its canonical identifier.
func (s *Server) GetStoredObject(ctx context.Context, host, kind, id string) (json.RawMessage, error) {
	if !objectKinds[kind] {
		return nil, fmt.Errorf("unknown object kind: %s", kind)
	}

	key := fmt.Sprintf("%s://%s/ap/%s/%s", s.Conf.Conf.Protocol, host, kind, id)
	raw, err := s.DB.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("object not found: %s", key)
	}
	return raw, nil
}

// NodeInfo renders the nodeinfo 2.0 document.
func (s *Server) NodeInfo() map[string]any {
	return map[string]any{
		"version": "2.0",
		"software": map[string]any{
			"name":    util.Name,
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services": map[string]any{
			"inbound":  []string{},
			"outbound": []string{},
		},
		"openRegistrations": false,
		"usage": map[string]any{
			"users": map[string]any{"total": 1},
		},
		"metadata": map[string]any{},
	}
}
