//go:build !unix

package orchestrator

func osVersion() string { return "" }
