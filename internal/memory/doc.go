// Package memory sizes the Go heap for the container the service runs in and
// signals memory pressure to the upload path.
//
// # Configuration
//
// [Configure] runs early in main. GOMEMLIMIT, when present in the
// environment, takes precedence. Otherwise MEMORY_LIMIT (bytes, usually
// injected by the Kubernetes Downward API) is multiplied by MEMORY_RATIO
// (default 0.85) and applied with debug.SetMemoryLimit.
//
//	env:
//	  - name: MEMORY_LIMIT
//	    valueFrom:
//	      resourceFieldRef:
//	        resource: limits.memory
//
// # Monitor
//
// A [Monitor] samples runtime.MemStats on an interval. Once heap allocation
// crosses the high water mark, [Monitor.ShouldThrottle] returns true and the
// upload handler parses multipart bodies straight to temporary files instead
// of holding the first part in memory.
package memory
