//go:build !debug

package replication

const debugAssertions = false
