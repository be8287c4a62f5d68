/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package personas loads the ordered persona registry: who participates
// in the cycle, in what order, with what prompt. Prompt bodies are
// template files rendered against repository context and recent journal
// entries, so a persona's instructions can reference the repo and what
// previous personas wrote.
package personas
