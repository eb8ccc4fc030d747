package handler

import (
	"fmt"
	"plugin"
)

// LoadPlugin loads a handler from a Go plugin.
//
// The plugin must export a variable named Handler whose value implements
// Handler:
//
//	package main
//
//	type keys struct{}
//
//	func (keys) Name() string { return "keys" }
//	func (keys) Run(ctx context.Context, localPath string, repo *types.Repository, log handler.LogSink) (bool, error) { ... }
//
//	var Handler handler.Handler = keys{}
//
// Build with:
//
//	go build -buildmode=plugin -o keys.so keys.go
func LoadPlugin(path string) (Handler, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plugin %s: %w", path, err)
	}

	sym, err := p.Lookup("Handler")
	if err != nil {
		return nil, fmt.Errorf("plugin %s must export 'Handler' symbol: %w", path, err)
	}

	// Lookup returns a pointer to the exported variable.
	var h Handler
	switch v := sym.(type) {
	case *Handler:
		if v != nil {
			h = *v
		}
	case Handler:
		h = v
	}
	if h == nil {
		return nil, fmt.Errorf("plugin %s: 'Handler' symbol is not a Handler", path)
	}
	if h.Name() == "" {
		return nil, fmt.Errorf("plugin %s: handler name is required", path)
	}
	return h, nil
}
