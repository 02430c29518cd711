// Copyright New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package activation

// readContainerInfo is a no-op on non-Linux platforms: cgroups and
// os-release are Linux-specific concepts, and the source's container
// probe is itself documented as Linux-only.
func readContainerInfo(_ *Identity) {}
