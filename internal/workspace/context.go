// Package workspace implements the per-workspace supervisor: the
// distributed lock that makes it a cluster singleton, the request loop over
// the shared KV store, the dispatchers for chatbot and process requests,
// and the cross-replica response channels.
package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/workmesh/ndp/internal/chatbot"
	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/kv"
	"github.com/workmesh/ndp/internal/llm"
	"github.com/workmesh/ndp/internal/llm/providers"
	"github.com/workmesh/ndp/internal/observability"
	"github.com/workmesh/ndp/internal/process"
	"github.com/workmesh/ndp/internal/signals"
	"github.com/workmesh/ndp/internal/thread"
	"github.com/workmesh/ndp/internal/tools"
	"github.com/workmesh/ndp/pkg/models"
)

// Config carries the shared collaborators every workspace context uses.
type Config struct {
	Store     kv.Store
	Providers *providers.Registry
	Tools     *tools.Registry
	Counter   *llm.TokenCounter

	Models         map[string]llm.ModelInfo
	DefaultPersona models.Persona

	// Metrics may be nil; all observation helpers tolerate that.
	Metrics *observability.Metrics

	Stop *signals.Stopping
}

// Context is the in-memory state of one supervised workspace: its process
// manager, thread store, and the derived workspace URI. It exists only on
// the replica currently holding the workspace lock.
type Context struct {
	cfg       Config
	workspace string
	uri       ids.ProcessURI

	Manager *process.Manager
	Threads *thread.Store
}

// NewContext builds the context for a workspace key ("{scope}/{suffix}").
func NewContext(cfg Config, workspace string) (*Context, error) {
	uri, err := ids.ParseProcessURI(ids.Scheme + "://" + workspace)
	if err != nil {
		return nil, fmt.Errorf("workspace: bad workspace key %q: %w", workspace, err)
	}
	return &Context{
		cfg:       cfg,
		workspace: workspace,
		uri:       uri,
		Manager:   process.NewManager(cfg.Store, cfg.Stop),
		Threads:   thread.NewStore(cfg.Store),
	}, nil
}

// Workspace returns the workspace key.
func (c *Context) Workspace() string { return c.workspace }

// URI returns the workspace's root process URI.
func (c *Context) URI() ids.ProcessURI { return c.uri }

// ChatbotConfig projects the context into the orchestrator's dependencies.
func (c *Context) ChatbotConfig() chatbot.Config {
	return chatbot.Config{
		Store:          c.cfg.Store,
		Threads:        c.Threads,
		Providers:      c.cfg.Providers,
		Tools:          c.cfg.Tools,
		Manager:        c.Manager,
		Counter:        c.cfg.Counter,
		Models:         c.cfg.Models,
		DefaultPersona: c.cfg.DefaultPersona,
		Stop:           c.cfg.Stop,
	}
}

// RegisterService records a remote service and mints the secret that
// grants it push rights. Secret and records share the workday TTL.
func (c *Context) RegisterService(ctx context.Context, serviceID string, decls []models.ToolDecl) (string, error) {
	secret := ids.NewSecret()
	ref := models.ServiceRef{Workspace: c.workspace, ServiceID: serviceID}
	svc := models.RegisteredService{
		Workspace: c.workspace,
		ServiceID: serviceID,
		Tools:     decls,
		CreatedAt: time.Now().UTC(),
	}
	if err := kv.SetTyped(ctx, c.cfg.Store, kv.SecretServiceKey(secret), ref, kv.TTLSecret); err != nil {
		return "", err
	}
	if err := kv.SetTyped(ctx, c.cfg.Store, kv.ServiceKey(c.workspace, serviceID), svc, kv.TTLSecret); err != nil {
		return "", err
	}
	if _, err := c.cfg.Store.SAdd(ctx, kv.ServiceSetKey(c.workspace), serviceID); err != nil {
		return "", err
	}
	if _, err := c.cfg.Store.Expire(ctx, kv.ServiceSetKey(c.workspace), kv.TTLSecret); err != nil {
		return "", err
	}
	return secret, nil
}

// ResolveServiceSecret maps a secret back to its service, when the secret
// is valid and belongs to this workspace.
func (c *Context) ResolveServiceSecret(ctx context.Context, secret string) (models.ServiceRef, bool, error) {
	ref, ok, err := kv.GetTyped[models.ServiceRef](ctx, c.cfg.Store, kv.SecretServiceKey(secret))
	if err != nil || !ok {
		return models.ServiceRef{}, false, err
	}
	if ref.Workspace != c.workspace {
		return models.ServiceRef{}, false, nil
	}
	return ref, true, nil
}

// PushAction queues a client action for the service that should execute it.
func (c *Context) PushAction(ctx context.Context, action models.ClientAction) error {
	key := kv.ActionsKey(c.workspace, action.ServiceID)
	if err := kv.PushTyped(ctx, c.cfg.Store, key, action); err != nil {
		return err
	}
	_, err := c.cfg.Store.Expire(ctx, key, kv.TTLSecret)
	return err
}

// TakeActions drains the queued actions of a service.
func (c *Context) TakeActions(ctx context.Context, serviceID string) ([]models.ClientAction, error) {
	key := kv.ActionsKey(c.workspace, serviceID)
	var out []models.ClientAction
	for {
		raw, ok, err := c.cfg.Store.LPop(ctx, key)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		if a, ok := kv.DecodeTyped[models.ClientAction](raw, key); ok {
			out = append(out, a)
		}
	}
}
