// Package agentsync defines the agent and resource model shared by the sync pipeline:
// agents pulled from a repository manifest, the resources they reference, the content
// produced by loading those resources, and validation rules applied at every layer.
package agentsync
