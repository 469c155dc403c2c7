// Package factory constructs a backend.Client purely from a
// model.Backend record, the one place that knows how to turn stored
// connection details into a live client for either backend kind.
package factory

import (
	"fmt"

	"torrent-gateway/internal/backend"
	"torrent-gateway/internal/backend/rtorrent"
	"torrent-gateway/internal/backend/transmission"
	"torrent-gateway/internal/model"
)

// NewClient builds a backend.Client for b. Construction never talks
// to the network; the returned client dials lazily on first call.
func NewClient(b *model.Backend) (backend.Client, error) {
	scheme := "http"
	if b.UseSSL {
		scheme = "https"
	}
	switch b.Kind {
	case model.KindRTorrent:
		path := b.RPCPath
		if path == "" {
			path = "/RPC2"
		}
		endpoint := fmt.Sprintf("%s://%s:%d%s", scheme, b.Host, b.Port, path)
		return rtorrent.New(endpoint, b.Auth), nil
	case model.KindTransmission:
		path := b.RPCPath
		if path == "" {
			path = "/transmission/rpc"
		}
		endpoint := fmt.Sprintf("%s://%s:%d%s", scheme, b.Host, b.Port, path)
		return transmission.New(endpoint, b.Auth), nil
	default:
		return nil, fmt.Errorf("unsupported backend kind %q", b.Kind)
	}
}
