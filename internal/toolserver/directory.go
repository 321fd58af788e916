package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/catalog"
)

var ErrServerUnknown = fmt.Errorf("toolserver: server not connected")

// Directory tracks the connected tool servers and feeds their advertised
// tools into the catalog. It is the single dispatch point for direct tool
// invocations and sandbox bound calls.
type Directory struct {
	cat         *catalog.Catalog
	dialTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewDirectory(cat *catalog.Catalog, dialTimeout time.Duration) *Directory {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Directory{
		cat:         cat,
		dialTimeout: dialTimeout,
		clients:     make(map[string]*Client),
	}
}

// Connect dials the named server, harvests its tools, and registers each as
// a catalog descriptor under the server's name. Reconnecting an already
// connected name replaces the old connection.
func (d *Directory) Connect(ctx context.Context, name, network, address string) error {
	client, err := Dial(network, address, d.dialTimeout)
	if err != nil {
		return err
	}

	for _, t := range client.Tools() {
		in := catalog.RegisterInput{
			ID:           catalog.ID{Server: name, Tool: t.Name},
			Description:  t.Description,
			InputSchema:  t.InputSchema,
			OutputSchema: t.OutputSchema,
		}
		if err := d.cat.Register(ctx, in); err != nil {
			client.Close()
			return fmt.Errorf("toolserver: registering %s.%s: %w", name, t.Name, err)
		}
	}

	d.mu.Lock()
	old := d.clients[name]
	d.clients[name] = client
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	log.Printf("toolserver: connected %s (%d tools)", name, len(client.Tools()))
	return nil
}

// Disconnect closes the named server's connection and retires its tools, so
// new routing treats them as absent while in-flight sessions still get a
// clear "retired" error.
func (d *Directory) Disconnect(name string) {
	d.mu.Lock()
	client, ok := d.clients[name]
	delete(d.clients, name)
	d.mu.Unlock()
	if !ok {
		return
	}
	_ = client.Close()
	d.cat.RetireServer(name)
	log.Printf("toolserver: disconnected %s", name)
}

// Connected lists the currently connected server names.
func (d *Directory) Connected() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.clients))
	for name := range d.clients {
		names = append(names, name)
	}
	return names
}

// Invoke dispatches one tool call to the owning server. A retired tool fails
// with a clear error instead of reaching the wire; a transport failure
// disconnects the server and retires its tools so routing stops picking
// them.
func (d *Directory) Invoke(ctx context.Context, id catalog.ID, args json.RawMessage) (json.RawMessage, error) {
	if desc, ok := d.cat.LookupAny(id); ok && desc.State == catalog.Retired {
		return nil, fmt.Errorf("tool %s retired", id)
	}

	d.mu.RLock()
	client, ok := d.clients[id.Server]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerUnknown, id.Server)
	}

	result, err := client.Call(ctx, id.Tool, args)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("tool %s: %w", id, err)
	}
	d.cat.RecordExecution(id)
	return result, nil
}

// CloseAll disconnects every server without retiring tools; used at
// shutdown where the catalog is going away anyway.
func (d *Directory) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, client := range d.clients {
		_ = client.Close()
		delete(d.clients, name)
	}
}
