// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package provider runs tenant-owned authentication scripts. Each request
// gets its own Runtime: the tenant's provider sources are concatenated,
// loaded into a fresh JavaScript context and queried through two well-known
// classes, UserLoginProvider and UserValidationProvider.
package provider

import (
	"context"
	"crypto/md5" // #nosec G501 - exposed to scripts for legacy digests, not for security
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/stacklok/gatehouse/pkg/entities"
)

// DefaultBudget is the wall-clock budget for one provider run. Exceeding it
// interrupts the script and fails the login or validation.
const DefaultBudget = 30 * time.Second

const maxRedirects = 100

// Provider lookup failures.
var (
	ErrMissingLoginProvider      = errors.New("tenant scripts define no UserLoginProvider class")
	ErrMissingValidationProvider = errors.New("tenant scripts define no UserValidationProvider class")
)

// LoginResult is what UserLoginProvider produced for one credential pair.
type LoginResult struct {
	CanLogin bool
	Subject  string
	Profile  any
	Role     string
	Scopes   []string
}

// Runtime is a single-request script context. It is not safe for concurrent
// use and must be Closed after the request.
type Runtime struct {
	vm        *goja.Runtime
	logger    *slog.Logger
	contextID string
	committed []string
	client    *http.Client
	ctx       context.Context

	closeOnce sync.Once
	done      chan struct{}
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	budget time.Duration
	client *http.Client
}

// WithBudget overrides the execution budget.
func WithBudget(d time.Duration) Option {
	return func(o *options) { o.budget = d }
}

// WithHTTPClient overrides the client backing fetch.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// NewRuntime compiles and evaluates the tenant's provider sources. The
// returned Runtime is bound to ctx: cancellation interrupts the script at its
// next suspension point.
func NewRuntime(ctx context.Context, tenant *entities.Tenant, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	o := options{budget: DefaultBudget}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if o.client == nil {
		o.client = &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("too many redirects")
				}
				return nil
			},
		}
	}

	r := &Runtime{
		vm:        goja.New(),
		contextID: uuid.NewString(),
		client:    o.client,
		ctx:       ctx,
		done:      make(chan struct{}),
	}
	r.logger = logger.With("tenant", tenant.Name, "script_context", r.contextID)

	r.installHosts()
	r.watchdog(o.budget)

	source := strings.Join(tenant.Providers, "\n")
	if err := r.run(func() error {
		_, err := r.vm.RunScript("providers", source)
		return err
	}); err != nil {
		r.Close()
		return nil, fmt.Errorf("loading provider scripts: %w", err)
	}
	return r, nil
}

// ContextID returns the tracing identifier of this script context.
func (r *Runtime) ContextID() string { return r.contextID }

// Close releases the watchdog. Idempotent.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// watchdog interrupts the VM when the budget elapses or the request context
// is cancelled.
func (r *Runtime) watchdog(budget time.Duration) {
	timer := time.NewTimer(budget)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			r.vm.Interrupt("execution budget exceeded")
		case <-r.ctx.Done():
			r.vm.Interrupt(r.ctx.Err())
		case <-r.done:
		}
	}()
}

// UserLogin instantiates UserLoginProvider with the given credentials and
// collects its getters. The subject comes from the committed list when the
// script called commit({subject}), otherwise it is left empty for the caller
// to default.
func (r *Runtime) UserLogin(username, password string) (*LoginResult, error) {
	ctor := r.vm.Get("UserLoginProvider")
	if ctor == nil || goja.IsUndefined(ctor) || goja.IsNull(ctor) {
		return nil, ErrMissingLoginProvider
	}

	result := &LoginResult{}
	err := r.run(func() error {
		obj, err := r.vm.New(ctor, r.vm.ToValue(map[string]any{
			"username": username,
			"password": password,
		}))
		if err != nil {
			return err
		}

		canLogin, err := r.getter(obj, "canLogin")
		if err != nil {
			return err
		}
		result.CanLogin = canLogin.ToBoolean()
		if !result.CanLogin {
			return nil
		}

		profile, err := r.getter(obj, "userProfile")
		if err != nil {
			return err
		}
		if !goja.IsUndefined(profile) && !goja.IsNull(profile) {
			result.Profile = profile.Export()
		}

		role, err := r.getter(obj, "role")
		if err != nil {
			return err
		}
		if !goja.IsUndefined(role) && !goja.IsNull(role) {
			result.Role = role.String()
		}

		scopes, err := r.getter(obj, "scopes")
		if err != nil {
			return err
		}
		if !goja.IsUndefined(scopes) && !goja.IsNull(scopes) {
			if err := r.vm.ExportTo(scopes, &result.Scopes); err != nil {
				return fmt.Errorf("scopes getter is not a string array: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("running UserLoginProvider: %w", err)
	}

	result.Subject = decodeSubject(r.committed)
	return result, nil
}

// Validate instantiates UserValidationProvider for the username and returns
// its isValid getter. With allowMissing, an absent class passes validation
// with a critical log instead of failing; UserLoginProvider has no such
// escape hatch.
func (r *Runtime) Validate(username string, allowMissing bool) (bool, error) {
	ctor := r.vm.Get("UserValidationProvider")
	if ctor == nil || goja.IsUndefined(ctor) || goja.IsNull(ctor) {
		if allowMissing {
			r.logger.Error("UserValidationProvider missing, passing validation because ALLOW_MISSING_PROVIDERS is set",
				"username", username)
			return true, nil
		}
		return false, ErrMissingValidationProvider
	}

	var valid bool
	err := r.run(func() error {
		obj, err := r.vm.New(ctor, r.vm.ToValue(map[string]any{"username": username}))
		if err != nil {
			return err
		}
		v, err := r.getter(obj, "isValid")
		if err != nil {
			return err
		}
		valid = v.ToBoolean()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("running UserValidationProvider: %w", err)
	}
	return valid, nil
}

// getter reads a property, unwrapping a settled Promise so async getters
// work. A Promise still pending once the run has completed is an error: the
// script awaited nothing that could settle it.
func (r *Runtime) getter(obj *goja.Object, name string) (goja.Value, error) {
	v := obj.Get(name)
	if v == nil {
		return goja.Undefined(), nil
	}
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return p.Result(), nil
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("getter %s rejected: %s", name, p.Result().String())
		default:
			return nil, fmt.Errorf("getter %s returned a pending promise", name)
		}
	}
	return v, nil
}

// run executes fn, converting thrown script values and interrupts into
// errors instead of panics.
func (*Runtime) run(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			switch e := p.(type) {
			case *goja.Exception:
				err = e
			case *goja.InterruptedError:
				err = e
			default:
				panic(p)
			}
		}
	}()
	return fn()
}

// installHosts wires the host function surface scripts may use.
func (r *Runtime) installHosts() {
	vm := r.vm

	say := func(call goja.FunctionCall) goja.Value {
		r.logger.Info("script", "message", joinArgs(call))
		return goja.Undefined()
	}
	_ = vm.Set("say", say)

	console := vm.NewObject()
	_ = console.Set("log", say)
	_ = console.Set("error", func(call goja.FunctionCall) goja.Value {
		r.logger.Error("script", "message", joinArgs(call))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	_ = vm.Set("md5", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsNull(arg) || goja.IsUndefined(arg) {
			return goja.Null()
		}
		sum := md5.Sum([]byte(arg.String())) // #nosec G401
		return vm.ToValue(hex.EncodeToString(sum[:]))
	})
	_ = vm.Set("sha256", func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsNull(arg) || goja.IsUndefined(arg) {
			return goja.Null()
		}
		sum := sha256.Sum256([]byte(arg.String()))
		return vm.ToValue(hex.EncodeToString(sum[:]))
	})

	_ = vm.Set("commit", func(call goja.FunctionCall) goja.Value {
		data, err := json.Marshal(call.Argument(0).Export())
		if err != nil {
			panic(vm.ToValue(fmt.Sprintf("commit: %v", err)))
		}
		r.committed = append(r.committed, string(data))
		return goja.Undefined()
	})

	_ = vm.Set("fetch", r.fetch)
}

// fetch performs the HTTP round-trip inside the call and returns an
// already-settled Promise, so awaits resolve within the same run.
func (r *Runtime) fetch(call goja.FunctionCall) goja.Value {
	promise, resolve, reject := r.vm.NewPromise()

	url := call.Argument(0).String()
	method := http.MethodGet
	var headers map[string]string
	var body io.Reader

	if opts := call.Argument(1); !goja.IsUndefined(opts) && !goja.IsNull(opts) {
		o := opts.ToObject(r.vm)
		if v := o.Get("method"); v != nil && !goja.IsUndefined(v) {
			method = strings.ToUpper(v.String())
		}
		if v := o.Get("headers"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			if err := r.vm.ExportTo(v, &headers); err != nil {
				reject(r.vm.ToValue("fetch: headers must be a string map"))
				return r.vm.ToValue(promise)
			}
		}
		if v := o.Get("body"); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			body = strings.NewReader(v.String())
		}
	}

	req, err := http.NewRequestWithContext(r.ctx, method, url, body)
	if err != nil {
		reject(r.vm.ToValue(err.Error()))
		return r.vm.ToValue(promise)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("script fetch failed", "url", url, "error", err)
		reject(r.vm.ToValue(err.Error()))
		return r.vm.ToValue(promise)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		reject(r.vm.ToValue(err.Error()))
		return r.vm.ToValue(promise)
	}

	result := r.vm.ToValue(map[string]any{"code": resp.StatusCode, "body": string(data)})
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reject(result)
	} else {
		resolve(result)
	}
	return r.vm.ToValue(promise)
}

// decodeSubject returns the subject of the first committed entry carrying
// one.
func decodeSubject(committed []string) string {
	for _, raw := range committed {
		var entry map[string]any
		if json.Unmarshal([]byte(raw), &entry) != nil {
			continue
		}
		if s, ok := entry["subject"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func joinArgs(call goja.FunctionCall) string {
	parts := make([]string, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}
