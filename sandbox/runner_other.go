/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

//go:build !unix

package sandbox

import "os/exec"

func setProcessGroup(*exec.Cmd) {}
