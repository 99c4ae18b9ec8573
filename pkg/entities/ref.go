// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package entities

import "fmt"

// Ref identifies the source record an entity came from. Two refs address the
// same entity when their keys match; the Kubernetes resource version is
// carried for logging but ignored for identity.
type Ref struct {
	kind     string
	path     string
	uid      string
	revision string
}

// FileRef builds a Ref for a file-sourced entity.
func FileRef(path string) Ref {
	return Ref{kind: "file", path: path}
}

// KubeRef builds a Ref for a Kubernetes-sourced entity.
func KubeRef(uid, revision string) Ref {
	return Ref{kind: "k8s", uid: uid, revision: revision}
}

// Key returns the identity of the ref, ignoring the revision.
func (r Ref) Key() string {
	if r.kind == "file" {
		return "file:" + r.path
	}
	return "k8s:" + r.uid
}

// String renders the ref for logs, including the revision when present.
func (r Ref) String() string {
	if r.kind == "file" {
		return fmt.Sprintf("file(%s)", r.path)
	}
	return fmt.Sprintf("k8s(%s@%s)", r.uid, r.revision)
}
