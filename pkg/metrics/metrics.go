// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics counts the outcomes of the authentication flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink receives flow outcome events. Implementations must be safe for
// concurrent use.
type Sink interface {
	// CountLogin records a credential check. reason is empty on success.
	CountLogin(tenant, reason string)

	// CountAuthorize records an authorization code issued to a client.
	CountAuthorize(tenant, client string)

	// CountToken records a token grant attempt. reason is empty on success.
	CountToken(tenant, grant, reason string)

	// CountInterceptor records a ForwardAuth decision. reason is empty when
	// the request was allowed through.
	CountInterceptor(tenant, reason string)
}

// PrometheusSink implements Sink on a dedicated registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	logins       *prometheus.CounterVec
	authorizes   *prometheus.CounterVec
	tokens       *prometheus.CounterVec
	interceptors *prometheus.CounterVec
}

// NewPrometheusSink builds a sink with its own registry, including the
// standard process and Go collectors.
func NewPrometheusSink() *PrometheusSink {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &PrometheusSink{
		registry: registry,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_login_attempts_total",
			Help: "Credential checks by tenant and failure reason (empty reason = success).",
		}, []string{"tenant", "reason"}),
		authorizes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_authorization_codes_total",
			Help: "Authorization codes issued by tenant and client.",
		}, []string{"tenant", "client"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_token_grants_total",
			Help: "Token endpoint grants by tenant, grant type and failure reason.",
		}, []string{"tenant", "grant", "reason"}),
		interceptors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatehouse_interceptor_decisions_total",
			Help: "ForwardAuth decisions by tenant and denial reason.",
		}, []string{"tenant", "reason"}),
	}
	registry.MustRegister(s.logins, s.authorizes, s.tokens, s.interceptors)
	return s
}

// CountLogin implements Sink.
func (s *PrometheusSink) CountLogin(tenant, reason string) {
	s.logins.WithLabelValues(tenant, reason).Inc()
}

// CountAuthorize implements Sink.
func (s *PrometheusSink) CountAuthorize(tenant, client string) {
	s.authorizes.WithLabelValues(tenant, client).Inc()
}

// CountToken implements Sink.
func (s *PrometheusSink) CountToken(tenant, grant, reason string) {
	s.tokens.WithLabelValues(tenant, grant, reason).Inc()
}

// CountInterceptor implements Sink.
func (s *PrometheusSink) CountInterceptor(tenant, reason string) {
	s.interceptors.WithLabelValues(tenant, reason).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Gather exposes the registry for tests.
func (s *PrometheusSink) Gather() prometheus.Gatherer { return s.registry }

// NoopSink discards all events.
type NoopSink struct{}

// CountLogin implements Sink.
func (NoopSink) CountLogin(string, string) {}

// CountAuthorize implements Sink.
func (NoopSink) CountAuthorize(string, string) {}

// CountToken implements Sink.
func (NoopSink) CountToken(string, string, string) {}

// CountInterceptor implements Sink.
func (NoopSink) CountInterceptor(string, string) {}

var (
	_ Sink = (*PrometheusSink)(nil)
	_ Sink = NoopSink{}
)
