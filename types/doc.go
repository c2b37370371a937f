// Copyright (c) CrewAI Collaboration Core Authors.
// Licensed under the MIT License.

/*
Package types provides the global shared type definitions for the
collaboration core.

types is the lowest-level public package and depends on no other package in
the module. It defines the contracts shared across registry, contextstore,
conversation, delegation and session:

  - Error / ErrorCode — structured error taxonomy with HTTP status mapping
  - Payload           — opaque JSON payload for task results and context content

All cross-package enums and error helpers live here to avoid circular
imports.
*/
package types
