package connector

import (
	"fmt"

	"github.com/openshelf/catalogd/internal/catalog"
)

// Buffer size for the record streams handed to the job runner.
const streamBuffer = 64

// Registry builds connectors for the closed set of connector types, sharing
// one HTTP client across all implementations.
type Registry struct {
	client *Client
}

// NewRegistry creates a Registry.
func NewRegistry(client *Client) *Registry {
	return &Registry{client: client}
}

// Create returns the connector implementation for the given type.
func (r *Registry) Create(connectorType catalog.ConnectorType) (catalog.Connector, error) {
	switch connectorType {
	case catalog.ConnectorGutenberg:
		return NewGutenberg(r.client), nil
	case catalog.ConnectorStandardEbooks:
		return NewStandardEbooks(r.client), nil
	case catalog.ConnectorOpenLibrary:
		return NewOpenLibrary(r.client), nil
	case catalog.ConnectorEpubGratis:
		return NewEpubGratis(r.client), nil
	case catalog.ConnectorEpublibre:
		return NewEpublibre(r.client), nil
	case catalog.ConnectorEpubbooks:
		return NewEpubbooks(r.client), nil
	default:
		return nil, fmt.Errorf("unknown connector type %q", connectorType)
	}
}
