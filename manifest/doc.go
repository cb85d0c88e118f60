// Package manifest parses the repository manifest that enumerates agent definitions.
//
// A manifest is a JSON (or YAML) document:
//
//	{
//	  "version": "1.0",
//	  "agents": [{"id": "...", "name": "...", "prompt": "file:reviewer.md", ...}],
//	  "globalResources": [{"url": "...", "type": "api", "cacheDuration": 60000}],
//	  "metadata": {"owner": "platform"}
//	}
//
// Entries are returned in wire form so each one can be validated on its own; an invalid entry
// never fails the whole document. Only a missing version or agents list is a format error.
package manifest
