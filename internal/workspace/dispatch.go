package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/workmesh/ndp/internal/chatbot"
	"github.com/workmesh/ndp/internal/ids"
	"github.com/workmesh/ndp/internal/ndperr"
	"github.com/workmesh/ndp/internal/process"
	"github.com/workmesh/ndp/pkg/models"
)

// pollInterval paces the reply and progress pollers between edges.
const pollInterval = time.Second

// Dispatch runs one wrapped request to completion, streaming responses to
// its channel. Whatever happens, the channel receives exactly one terminal
// sentinel.
func (c *Context) Dispatch(ctx context.Context, wrapped models.WrappedRequest) {
	resp := newResponder(c.cfg.Store, c.workspace, wrapped.ChannelID)
	log := slog.With("component", "workspace", "workspace", c.workspace, "kind", wrapped.Request.Kind)

	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panicked", "panic", r)
			resp.Error(ndperr.New(500, "WorkspaceError.panic", ndperr.KindRuntime,
				fmt.Sprintf("dispatch panicked: %v", r)))
		}
		resp.Close()
	}()

	var err error
	switch req := wrapped.Request; req.Kind {
	case models.RequestChatbotSpawn:
		err = c.dispatchChatbot(ctx, resp, req.ChatbotSpawn)
	case models.RequestProcessSpawn:
		err = c.dispatchSpawn(ctx, resp, req.ProcessSpawn)
	case models.RequestProcessSigkill:
		err = c.dispatchSigkill(ctx, req.ProcessSigkill)
	case models.RequestProcessUpdate:
		err = c.dispatchUpdate(ctx, req.ProcessUpdate)
	default:
		err = ndperr.New(400, "WorkspaceError.unknown_request", ndperr.KindNormal,
			"unknown request kind "+string(req.Kind))
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.Warn("dispatch failed", "error", err)
		resp.Error(err)
	}
	c.cfg.Metrics.ObserveRequest(string(wrapped.Request.Kind), outcome)
}

// dispatchChatbot spawns a chatbot turn and streams provisional replies on
// every flush edge until the process result appears, then a final done
// reply.
func (c *Context) dispatchChatbot(ctx context.Context, resp *responder, req *models.ChatbotSpawnRequest) error {
	if req == nil {
		return ndperr.New(400, "WorkspaceError.bad_request", ndperr.KindNormal, "missing chatbotSpawn payload")
	}
	replies := chatbot.NewReplyService(req.ClientTools)
	bot := chatbot.New(c.ChatbotConfig(), c.workspace, req, replies)

	uri, err := c.uri.Child(ids.NewProcessID())
	if err != nil {
		return err
	}
	h, err := c.Manager.SpawnProcess(ctx, process.Spawn{
		URI:    uri,
		Name:   chatbot.ProcessName,
		Runner: bot,
	})
	if err != nil {
		return err
	}
	resp.Value(models.ChatbotReply{Status: models.ReplyPartial, URI: uri.String()})

	listener := h.Listen()
	defer h.Unlisten(listener)

	for !listener.HasResult() {
		fired, stopped := replies.Flush().Wait(pollInterval, c.cfg.Stop)
		if stopped {
			replies.Stop().Set()
			break
		}
		if fired {
			committed, provisional, actions := replies.Snapshot()
			resp.Value(models.ChatbotReply{
				Status:  models.ReplyPartial,
				Parts:   append(committed, provisional...),
				Actions: actions,
			})
		}
	}
	if err := listener.WaitResult(c.cfg.Stop); err != nil {
		return err
	}

	result := h.Status().Result
	if result != nil && result.Kind == models.ResultFailure {
		e, dErr := ndperr.DecodeJSON(result.Failure.Error)
		if dErr != nil {
			return ndperr.New(500, "WorkspaceError.bad_envelope", ndperr.KindRuntime,
				"chatbot failed with an undecodable error").WithCause(dErr)
		}
		return e
	}
	resp.Value(models.ChatbotReply{
		Status:  models.ReplyDone,
		Parts:   replies.Committed(),
		Actions: replies.Actions(),
		URI:     uri.String(),
	})
	return nil
}

// dispatchSpawn runs a registered tool as a standalone process, streaming
// one event per progress edge and a final event carrying the result.
func (c *Context) dispatchSpawn(ctx context.Context, resp *responder, req *models.ProcessSpawnRequest) error {
	if req == nil {
		return ndperr.New(400, "WorkspaceError.bad_request", ndperr.KindNormal, "missing processSpawn payload")
	}
	prov, err := c.cfg.Tools.Lookup(req.Name)
	if err != nil {
		return err
	}
	processID := req.ProcessID
	if processID == "" {
		processID = ids.NewProcessID()
	}
	uri, err := c.uri.Child(processID)
	if err != nil {
		return err
	}
	h, err := c.Manager.SpawnProcess(ctx, process.Spawn{
		URI:       uri,
		Name:      req.Name,
		Arguments: req.Arguments,
		Schema:    prov.Compiled(),
		Runner:    prov.Factory(req.Arguments),
	})
	if err != nil {
		return err
	}
	resp.Value(models.ProcessEvent{URI: uri.String()})

	listener := h.Listen()
	defer h.Unlisten(listener)

	seen := 0
	emit := func() {
		status := h.Status()
		for ; seen < len(status.Progress); seen++ {
			resp.Value(models.ProcessEvent{Progress: status.Progress[seen]})
		}
	}
	for !listener.HasResult() {
		fired, err := listener.WaitProgress(pollInterval, c.cfg.Stop)
		if err != nil {
			return err
		}
		if fired {
			listener.ClearProgress()
			emit()
		}
	}
	emit()
	result := h.Status().Result
	resp.Value(models.ProcessEvent{Result: result})
	if result != nil {
		c.cfg.Metrics.ObserveTool(req.Name, string(result.Kind))
	}
	return nil
}

// dispatchSigkill delivers a stop to the target process.
func (c *Context) dispatchSigkill(ctx context.Context, req *models.ProcessSigkillRequest) error {
	if req == nil {
		return ndperr.New(400, "WorkspaceError.bad_request", ndperr.KindNormal, "missing processSigkill payload")
	}
	return c.Manager.SendSigkill(ctx, req.URI)
}

// dispatchUpdate pushes progress, a result, or client actions into a
// process on behalf of a secret holder. The secret must map to the target
// process or to a service registered with this workspace.
func (c *Context) dispatchUpdate(ctx context.Context, req *models.ProcessUpdateRequest) error {
	if req == nil {
		return ndperr.New(400, "WorkspaceError.bad_request", ndperr.KindNormal, "missing processUpdate payload")
	}
	if err := c.authorizeUpdate(ctx, req); err != nil {
		return err
	}
	if len(req.Progress) > 0 || req.Result != nil {
		if err := c.Manager.Update(ctx, req.URI, req.Progress, req.Result); err != nil {
			return err
		}
	}
	for _, action := range req.Actions {
		if err := c.PushAction(ctx, action); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) authorizeUpdate(ctx context.Context, req *models.ProcessUpdateRequest) error {
	denied := ndperr.New(403, "WorkspaceError.bad_secret", ndperr.KindNormal,
		"secret grants no push rights for "+req.URI)
	if req.Secret == "" {
		return denied
	}
	uri, ok, err := c.Manager.ResolveSecret(ctx, req.Secret)
	if err != nil {
		return err
	}
	if ok {
		if uri != req.URI {
			return denied
		}
		return nil
	}
	if _, ok, err := c.ResolveServiceSecret(ctx, req.Secret); err != nil || !ok {
		if err != nil {
			return err
		}
		return denied
	}
	return nil
}
