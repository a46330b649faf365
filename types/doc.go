// Package types provides core types shared across agentrun.
// This package has ZERO dependencies on other agentrun packages to avoid
// circular imports. All other packages should import types from here.
package types
