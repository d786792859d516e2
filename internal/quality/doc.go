// Package quality holds the conversion presets: named bitrate, resolution
// and CRF settings. A Table is built once at startup, either the built-in
// defaults or a YAML/JSON file, and passed explicitly to the components that
// need it. Tables are never mutated after construction.
package quality
