// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/dynamic/dynamicinformer"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/cache"
)

// CRD coordinates served by the Kubernetes entity source.
var (
	tenantGVR = schema.GroupVersionResource{Group: "sso.stacklok.dev", Version: "v1", Resource: "tenants"}
	clientGVR = schema.GroupVersionResource{Group: "sso.stacklok.dev", Version: "v1", Resource: "clients"}
)

const kubeResyncPeriod = 10 * time.Minute

// KubeSource feeds Tenant and Client custom resources into the store using
// dynamic shared informers. The CRD spec carries the same schema as the YAML
// files of the filesystem source; metadata.name fills in a missing spec name.
type KubeSource struct {
	store     *Store
	namespace string // empty = cluster-wide
	logger    *slog.Logger

	// client is swappable for tests; defaults to the in-cluster client.
	client dynamic.Interface
}

// NewKubeSource creates a Kubernetes source. When namespace is empty the
// source watches cluster-wide.
func NewKubeSource(store *Store, namespace string, logger *slog.Logger) *KubeSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KubeSource{store: store, namespace: namespace, logger: logger}
}

// NewKubeSourceWithClient creates a Kubernetes source with a pre-built
// dynamic client. Used by tests with the dynamic fake.
func NewKubeSourceWithClient(store *Store, namespace string, client dynamic.Interface, logger *slog.Logger) *KubeSource {
	s := NewKubeSource(store, namespace, logger)
	s.client = client
	return s
}

// Run starts the informers and blocks until ctx is cancelled.
func (k *KubeSource) Run(ctx context.Context) error {
	if k.client == nil {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return fmt.Errorf("in-cluster config: %w", err)
		}
		k.client, err = dynamic.NewForConfig(cfg)
		if err != nil {
			return fmt.Errorf("dynamic client: %w", err)
		}
	}

	namespace := k.namespace
	if namespace == "" {
		namespace = metav1.NamespaceAll
	}
	factory := dynamicinformer.NewFilteredDynamicSharedInformerFactory(k.client, kubeResyncPeriod, namespace, nil)

	tenantInformer := factory.ForResource(tenantGVR).Informer()
	if _, err := tenantInformer.AddEventHandler(k.handlerFor(k.applyTenant)); err != nil {
		return fmt.Errorf("tenant informer: %w", err)
	}
	clientInformer := factory.ForResource(clientGVR).Informer()
	if _, err := clientInformer.AddEventHandler(k.handlerFor(k.applyClient)); err != nil {
		return fmt.Errorf("client informer: %w", err)
	}

	factory.Start(ctx.Done())
	if !cache.WaitForCacheSync(ctx.Done(), tenantInformer.HasSynced, clientInformer.HasSynced) {
		return fmt.Errorf("informer caches did not sync")
	}
	k.logger.Info("kubernetes entity source running", "namespace", namespace)

	<-ctx.Done()
	return ctx.Err()
}

func (k *KubeSource) handlerFor(apply func(*unstructured.Unstructured)) cache.ResourceEventHandlerFuncs {
	return cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) {
			if u, ok := obj.(*unstructured.Unstructured); ok {
				apply(u)
			}
		},
		UpdateFunc: func(_, obj any) {
			if u, ok := obj.(*unstructured.Unstructured); ok {
				apply(u)
			}
		},
		DeleteFunc: func(obj any) {
			if tomb, ok := obj.(cache.DeletedFinalStateUnknown); ok {
				obj = tomb.Obj
			}
			if u, ok := obj.(*unstructured.Unstructured); ok {
				k.store.Remove(KubeRef(string(u.GetUID()), u.GetResourceVersion()))
			}
		},
	}
}

func (k *KubeSource) applyTenant(u *unstructured.Unstructured) {
	ref := KubeRef(string(u.GetUID()), u.GetResourceVersion())
	raw, err := specJSON(u)
	if err != nil {
		k.logger.Error("skipping malformed tenant resource", "ref", ref.String(), "error", err)
		return
	}
	t, err := ParseTenant(raw)
	if err != nil {
		k.logger.Error("skipping malformed tenant resource", "ref", ref.String(), "error", err)
		return
	}
	_ = k.store.ApplyTenant(ref, t)
}

func (k *KubeSource) applyClient(u *unstructured.Unstructured) {
	ref := KubeRef(string(u.GetUID()), u.GetResourceVersion())
	raw, err := specJSON(u)
	if err != nil {
		k.logger.Error("skipping malformed client resource", "ref", ref.String(), "error", err)
		return
	}
	c, err := ParseClient(raw)
	if err != nil {
		k.logger.Error("skipping malformed client resource", "ref", ref.String(), "error", err)
		return
	}
	_ = k.store.ApplyClient(ref, c)
}

// specJSON extracts the spec of a custom resource as JSON, defaulting the
// entity name to metadata.name when the spec does not set one.
func specJSON(u *unstructured.Unstructured) ([]byte, error) {
	spec, found, err := unstructured.NestedMap(u.Object, "spec")
	if err != nil {
		return nil, fmt.Errorf("reading spec: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("resource %s has no spec", u.GetName())
	}
	if _, ok := spec["name"]; !ok {
		spec["name"] = u.GetName()
	}
	return json.Marshal(spec)
}
