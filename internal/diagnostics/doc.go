// Package diagnostics samples process and host resources for the serve
// command. ResourceMonitor watches the nodeflow process itself (descriptors,
// goroutines, heap, in-flight runs) and HostCollector reads machine-wide
// CPU, memory and per-volume disk figures.
package diagnostics
