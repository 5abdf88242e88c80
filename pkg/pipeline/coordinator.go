// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/compat"
	"github.com/kadirpekel/switchboard/pkg/extract"
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/protocol/gemini"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
	"github.com/kadirpekel/switchboard/pkg/routing"
	"github.com/kadirpekel/switchboard/pkg/tokens"
	"github.com/kadirpekel/switchboard/pkg/transform"
	"github.com/kadirpekel/switchboard/pkg/upstream"
)

// DefaultTimeout bounds one request end to end unless the provider overrides
// it.
const DefaultTimeout = 120 * time.Second

// Upstream is the outbound surface the coordinator dispatches through.
// *upstream.Client satisfies it; tests substitute fakes.
type Upstream interface {
	CallOpenAI(ctx context.Context, dec *routing.Decision, req *openai.ChatRequest) (*upstream.Result, error)
	StreamOpenAI(ctx context.Context, dec *routing.Decision, req *openai.ChatRequest) (*upstream.ChunkStream, error)
	CallGemini(ctx context.Context, dec *routing.Decision, req *gemini.Request) (*gemini.Response, error)
	CallAnthropic(ctx context.Context, dec *routing.Decision, req *anthropic.Request) (*anthropic.Response, error)
}

// Coordinator owns per-request wiring and final assembly.
type Coordinator struct {
	engine   *routing.Engine
	up       Upstream
	pre      *tokens.Preprocessor
	limits   map[string]int
	selector *compat.Selector
	settings compat.Settings
	cache    *Cache
	logger   *slog.Logger
	rec      StageRecorder
	timeout  time.Duration
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithPreprocessor enables token preprocessing.
func WithPreprocessor(pre *tokens.Preprocessor) Option {
	return func(c *Coordinator) { c.pre = pre }
}

// WithModelLimits sets per-target token limits, keyed "provider/model".
func WithModelLimits(limits map[string]int) Option {
	return func(c *Coordinator) { c.limits = limits }
}

// WithSettings sets the compatibility switches.
func WithSettings(set compat.Settings) Option {
	return func(c *Coordinator) { c.settings = set }
}

// WithCache enables the stage cache.
func WithCache(cache *Cache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStageRecorder attaches the stage-duration recorder.
func WithStageRecorder(rec StageRecorder) Option {
	return func(c *Coordinator) {
		if rec != nil {
			c.rec = rec
		}
	}
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New builds a coordinator.
func New(engine *routing.Engine, up Upstream, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:   engine,
		up:       up,
		selector: compat.NewSelector(),
		settings: compat.DefaultSettings(),
		logger:   slog.Default(),
		rec:      noopStageRecorder{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// prepare validates, routes, and token-preprocesses one request. The
// returned request may be a rewritten copy.
func (c *Coordinator) prepare(req *anthropic.Request) (*RequestContext, *anthropic.Request, *routing.Decision, error) {
	rc := NewRequestContext(c.logger)

	rc.SetStage(StageValidate)
	if err := anthropic.Validate(req); err != nil {
		return rc, nil, nil, apierror.Wrap(apierror.CodeValidation, err, err.Error()).
			WithRequestID(rc.ID).
			WithStage(StageValidate)
	}

	rc.SetStage(StageRoute)
	dec, err := c.engine.Route(req)
	if err != nil {
		return rc, nil, nil, c.decorate(rc, err)
	}

	if c.pre != nil {
		rc.SetStage(StageTokens)
		res := c.pre.Process(req, c.limits[dec.Provider+"/"+dec.Model])
		if res.Redirect != "" {
			rc.SetMetadata("redirected-category", string(res.Redirect))
			if dec, err = c.engine.Resolve(res.Redirect); err != nil {
				return rc, nil, nil, c.decorate(rc, err)
			}
		}
		if len(res.Applied) > 0 {
			rc.SetMetadata("token-strategies", res.Applied)
			rc.Logger.Debug("token preprocessing applied",
				"strategies", res.Applied, "estimate", res.Estimate)
		}
		req = res.Request
	}

	rc.SetDecision(dec)
	rc.Logger.Info("routed",
		"category", string(dec.Category), "provider", dec.Provider, "model", dec.Model)
	return rc, req, dec, nil
}

// Handle runs one non-streaming request end to end and returns the
// Anthropic-shaped response.
func (c *Coordinator) Handle(ctx context.Context, req *anthropic.Request) (*anthropic.Response, error) {
	rc, req, dec, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, rc, dec, req)
}

// HandleDirect dispatches to an explicit target, bypassing category routing.
// The proxy surface uses it after resolving the provider itself.
func (c *Coordinator) HandleDirect(ctx context.Context, dec *routing.Decision, req *anthropic.Request) (*anthropic.Response, error) {
	rc := NewRequestContext(c.logger)

	rc.SetStage(StageValidate)
	if err := anthropic.Validate(req); err != nil {
		return nil, apierror.Wrap(apierror.CodeValidation, err, err.Error()).
			WithRequestID(rc.ID).
			WithStage(StageValidate)
	}

	rc.SetDecision(dec)
	rc.Logger.Info("proxying", "provider", dec.Provider, "model", dec.Model)
	return c.dispatch(ctx, rc, dec, req)
}

func (c *Coordinator) dispatch(ctx context.Context, rc *RequestContext, dec *routing.Decision, req *anthropic.Request) (*anthropic.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		resp *anthropic.Response
		err  error
	)
	switch dec.Protocol {
	case routing.ProtocolAnthropic:
		rc.SetStage(StageUpstream)
		resp, err = c.up.CallAnthropic(ctx, dec, req)
	case routing.ProtocolGemini:
		resp, err = c.handleGemini(ctx, rc, dec, req)
	default:
		resp, err = c.handleOpenAI(ctx, rc, dec, req)
	}
	if err != nil {
		return nil, c.decorate(rc, err)
	}

	resp = c.runResponseStage(rc, StagePostprocess, resp, postprocessResponse)
	rc.Logger.Info("completed", "stop_reason", string(resp.StopReason), "elapsed", rc.Elapsed())
	return resp, nil
}

func (c *Coordinator) handleOpenAI(ctx context.Context, rc *RequestContext, dec *routing.Decision, req *anthropic.Request) (*anthropic.Response, error) {
	rc.SetStage(StageTransform)
	chatReq, warnings := transform.AnthropicToOpenAI(req, dec.Model)

	rc.SetStage(StageCompat)
	profile := c.profile(dec)
	warnings = append(warnings, compat.AdaptRequest(profile, chatReq)...)
	c.logWarnings(rc, warnings)

	rc.SetStage(StageUpstream)
	result, err := c.up.CallOpenAI(ctx, dec, chatReq)
	if err != nil {
		return nil, err
	}

	rc.SetStage(StagePreprocess)
	if abn := compat.DetectAbnormal(result.Body, result.Status); abn != nil {
		return nil, abn.WithProvider(dec.Provider).WithModel(dec.Model)
	}
	body, repairWarnings, err := c.repair(dec, result.Body)
	if err != nil {
		return nil, err
	}
	c.logWarnings(rc, repairWarnings)

	rc.SetStage(StageTranslate)
	chatResp, err := openai.DecodeResponse(body)
	if err != nil {
		return nil, apierror.Wrap(apierror.CodeAbnormalResponse, err, "repaired response does not decode").
			WithProvider(dec.Provider).
			WithModel(dec.Model)
	}
	resp, translateWarnings := transform.OpenAIResponseToAnthropic(chatResp, req.Model)
	c.logWarnings(rc, translateWarnings)
	return resp, nil
}

func (c *Coordinator) handleGemini(ctx context.Context, rc *RequestContext, dec *routing.Decision, req *anthropic.Request) (*anthropic.Response, error) {
	rc.SetStage(StageTransform)
	gemReq, warnings := transform.AnthropicToGemini(req, dec.Model)
	c.logWarnings(rc, warnings)

	rc.SetStage(StageUpstream)
	gemResp, err := c.up.CallGemini(ctx, dec, gemReq)
	if err != nil {
		return nil, err
	}

	rc.SetStage(StageTranslate)
	resp, translateWarnings := transform.GeminiResponseToAnthropic(gemResp, req.Model)
	c.logWarnings(rc, translateWarnings)
	return resp, nil
}

// repair runs the compatibility repair pass, consulting the stage cache when
// one is wired.
func (c *Coordinator) repair(dec *routing.Decision, body map[string]any) (map[string]any, []string, error) {
	if c.cache == nil {
		return compat.RepairResponse(body, c.settings)
	}

	raw, _ := json.Marshal(body)
	key := CacheKey(StagePreprocess, dec.Provider, dec.Model, raw)
	if cached, ok := c.cache.Get(key); ok {
		var out map[string]any
		if json.Unmarshal(cached, &out) == nil {
			return out, nil, nil
		}
	}

	repaired, warnings, err := compat.RepairResponse(body, c.settings)
	if err != nil {
		return nil, warnings, err
	}
	if encoded, encErr := json.Marshal(repaired); encErr == nil {
		c.cache.Put(key, encoded)
	}
	return repaired, warnings, nil
}

func (c *Coordinator) profile(dec *routing.Decision) *compat.Profile {
	if dec.Profile != "" {
		if p, ok := c.selector.Named(dec.Profile); ok {
			return p
		}
	}
	return c.selector.Select(dec.Provider, dec.Model)
}

// decorate stamps request coordinates onto an error.
func (c *Coordinator) decorate(rc *RequestContext, err error) error {
	apiErr, ok := apierror.AsError(err)
	if !ok {
		apiErr = apierror.Wrap(apierror.CodeUpstream, err, err.Error())
	}
	if apiErr.RequestID == "" {
		apiErr.WithRequestID(rc.ID)
	}
	if apiErr.Stage == "" {
		apiErr.WithStage(rc.Stage())
	}
	if dec := rc.Decision(); dec != nil && apiErr.Provider == "" {
		apiErr.WithProvider(dec.Provider).WithModel(dec.Model)
	}
	return apiErr
}

func (c *Coordinator) logWarnings(rc *RequestContext, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	rc.Logger.Debug("translation warnings", "warnings", strings.Join(warnings, "; "))
}

// EmitFunc receives one streaming event; returning an error aborts the
// stream.
type EmitFunc func(anthropic.StreamEvent) error

// HandleStream runs one streaming request, forwarding deltas as they arrive.
// Tool-call extraction runs on the accumulated text, and the terminal
// stop_reason is decided only after the last delta.
func (c *Coordinator) HandleStream(ctx context.Context, req *anthropic.Request, emit EmitFunc) error {
	rc, req, dec, err := c.prepare(req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Only the OpenAI protocol streams natively; the rest run the
	// non-streaming path and replay the result as events.
	if dec.Protocol != routing.ProtocolOpenAI {
		resp, err := c.replayProtocol(ctx, rc, dec, req)
		if err != nil {
			return c.decorate(rc, err)
		}
		return replayResponse(resp, emit)
	}

	rc.SetStage(StageTransform)
	chatReq, warnings := transform.AnthropicToOpenAI(req, dec.Model)
	rc.SetStage(StageCompat)
	warnings = append(warnings, compat.AdaptRequest(c.profile(dec), chatReq)...)
	c.logWarnings(rc, warnings)

	rc.SetStage(StageUpstream)
	stream, err := c.up.StreamOpenAI(ctx, dec, chatReq)
	if err != nil {
		return c.decorate(rc, err)
	}
	defer stream.Close()

	rc.SetStage(StageStreaming)
	return c.consumeStream(rc, req.Model, stream, emit)
}

// replayProtocol runs the non-streaming dispatch for a protocol that does
// not stream.
func (c *Coordinator) replayProtocol(ctx context.Context, rc *RequestContext, dec *routing.Decision, req *anthropic.Request) (*anthropic.Response, error) {
	var (
		resp *anthropic.Response
		err  error
	)
	if dec.Protocol == routing.ProtocolAnthropic {
		rc.SetStage(StageUpstream)
		resp, err = c.up.CallAnthropic(ctx, dec, req)
	} else {
		resp, err = c.handleGemini(ctx, rc, dec, req)
	}
	if err != nil {
		return nil, err
	}
	return c.runResponseStage(rc, StagePostprocess, resp, postprocessResponse), nil
}

// toolAccum gathers one streamed tool call's fragments.
type toolAccum struct {
	id   string
	name string
	args strings.Builder
}

func (c *Coordinator) consumeStream(rc *RequestContext, model string, stream *upstream.ChunkStream, emit EmitFunc) error {
	envelope := anthropic.NewResponse(model)
	if err := emit(anthropic.MessageStartEvent(envelope)); err != nil {
		return err
	}

	var (
		textOpen  bool
		accumText strings.Builder
		toolCalls = map[int]*toolAccum{}
		toolOrder []int
		finish    string
		usage     anthropic.Usage
	)

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return c.decorate(rc, apierror.Wrap(apierror.CodeUpstream, err, "stream read failed"))
		}

		if chunk.Usage != nil {
			usage = anthropic.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		delta := choice.Delta
		if delta == nil {
			continue
		}

		if text := delta.ContentText(); text != "" {
			if !textOpen {
				if err := emit(anthropic.TextStartEvent(0)); err != nil {
					return err
				}
				textOpen = true
			}
			accumText.WriteString(text)
			if err := emit(anthropic.TextDeltaEvent(0, text)); err != nil {
				return err
			}
		}

		// Fragments are keyed by the delta's index so interleaved parallel
		// calls stay attributed. Providers that omit the index open a call
		// on id/name and append arguments to the latest one.
		for _, tc := range delta.ToolCalls {
			var key int
			switch {
			case tc.Index != nil:
				key = *tc.Index
			case tc.ID != "" || tc.Function.Name != "":
				key = len(toolOrder)
			case len(toolOrder) > 0:
				key = toolOrder[len(toolOrder)-1]
			default:
				continue
			}

			acc, ok := toolCalls[key]
			if !ok {
				acc = &toolAccum{}
				toolCalls[key] = acc
				toolOrder = append(toolOrder, key)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
	}

	if textOpen {
		if err := emit(anthropic.BlockStopEvent(0)); err != nil {
			return err
		}
	}

	// Text-embedded calls surface after the structured ones; both force the
	// terminal stop_reason to tool_use.
	extracted, _ := extract.FromText(accumText.String())

	index := 0
	if textOpen {
		index = 1
	}
	emitTool := func(id, name, args string) error {
		if id == "" {
			id = anthropic.NewToolUseID()
		}
		if err := emit(anthropic.ToolUseStartEvent(index, id, name)); err != nil {
			return err
		}
		if args != "" && args != "{}" {
			if err := emit(anthropic.InputJSONDeltaEvent(index, args)); err != nil {
				return err
			}
		}
		if err := emit(anthropic.BlockStopEvent(index)); err != nil {
			return err
		}
		index++
		return nil
	}

	for _, key := range toolOrder {
		tc := toolCalls[key]
		if err := emitTool(tc.id, tc.name, tc.args.String()); err != nil {
			return err
		}
	}
	for _, call := range extracted {
		args, _ := json.Marshal(call.Input)
		if err := emitTool("", call.Name, string(args)); err != nil {
			return err
		}
	}

	if c.settings.StrictFinishReason {
		// Providers often omit usage on streams; the accumulated text is
		// proof enough that output was produced.
		produced := usage.OutputTokens
		if produced == 0 && accumText.Len() > 0 {
			produced = (accumText.Len() + 3) / 4
		}
		if abn := compat.MissingFinish(produced, finish); abn != nil {
			return c.decorate(rc, abn)
		}
	}

	stop := transform.OpenAIFinishToStop(finish)
	if len(toolCalls) > 0 || len(extracted) > 0 {
		stop = anthropic.StopToolUse
	}
	if err := emit(anthropic.MessageDeltaEvent(stop, usage)); err != nil {
		return err
	}
	if err := emit(anthropic.MessageStopEvent()); err != nil {
		return err
	}

	rc.Logger.Info("stream completed", "stop_reason", string(stop), "elapsed", rc.Elapsed())
	return nil
}

// replayResponse renders a complete response as the streaming event
// sequence.
func replayResponse(resp *anthropic.Response, emit EmitFunc) error {
	if err := emit(anthropic.MessageStartEvent(resp)); err != nil {
		return err
	}
	for i, block := range resp.Content {
		switch block.Type {
		case anthropic.BlockText:
			if err := emit(anthropic.TextStartEvent(i)); err != nil {
				return err
			}
			if err := emit(anthropic.TextDeltaEvent(i, block.Text)); err != nil {
				return err
			}
		case anthropic.BlockToolUse:
			if err := emit(anthropic.ToolUseStartEvent(i, block.ID, block.Name)); err != nil {
				return err
			}
			args, _ := json.Marshal(block.Input)
			if err := emit(anthropic.InputJSONDeltaEvent(i, string(args))); err != nil {
				return err
			}
		default:
			continue
		}
		if err := emit(anthropic.BlockStopEvent(i)); err != nil {
			return err
		}
	}
	if err := emit(anthropic.MessageDeltaEvent(resp.StopReason, resp.Usage)); err != nil {
		return err
	}
	return emit(anthropic.MessageStopEvent())
}
