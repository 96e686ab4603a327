package memory

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const snapshotSchemaURL = "winconverge://schemas/snapshot.json"

// snapshotSchema describes the JSON accepted by LoadFile. Unknown top-level
// keys are rejected so a misspelled section does not load as an empty one.
const snapshotSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"TimeZone": {"type": "string"},
		"Features": {"type": "object", "additionalProperties": {"type": "boolean"}},
		"Hosts": {"type": "object", "additionalProperties": {"type": "string"}},
		"Directories": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["Path"],
				"properties": {
					"Path": {"type": "string", "minLength": 1},
					"Attributes": {
						"type": "object",
						"properties": {
							"ReadOnly": {"type": "boolean"},
							"Hidden": {"type": "boolean"},
							"System": {"type": "boolean"}
						}
					},
					"Permissions": {"$ref": "#/$defs/permissions"}
				}
			}
		},
		"Shares": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["Name", "Path"],
				"properties": {
					"Name": {"type": "string", "minLength": 1},
					"Path": {"type": "string"},
					"Description": {"type": "string"},
					"Permissions": {"$ref": "#/$defs/permissions"}
				}
			}
		},
		"AppPools": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["Name"],
				"properties": {
					"Name": {"type": "string", "minLength": 1},
					"ManagedRuntimeVersion": {"type": "string"},
					"ManagedPipelineMode": {"type": "string"},
					"Properties": {"type": "object"}
				}
			}
		},
		"Sites": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["Name"],
				"properties": {
					"Name": {"type": "string", "minLength": 1},
					"PhysicalPath": {"type": "string"},
					"AppPool": {"type": "string"},
					"Bindings": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["Protocol", "Port"],
							"properties": {
								"Protocol": {"type": "string", "minLength": 1},
								"Port": {"type": "integer", "minimum": 1, "maximum": 65535},
								"HostHeader": {"type": "string"}
							}
						}
					},
					"Properties": {"type": "object"}
				}
			}
		},
		"WebApps": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["Site", "Name"],
				"properties": {
					"Site": {"type": "string", "minLength": 1},
					"Name": {"type": "string", "minLength": 1},
					"PhysicalPath": {"type": "string"},
					"AppPool": {"type": "string"},
					"Properties": {"type": "object"}
				}
			}
		},
		"EventSources": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["Source", "LogName"],
				"properties": {
					"Source": {"type": "string", "minLength": 1},
					"LogName": {"type": "string", "minLength": 1}
				}
			}
		}
	},
	"$defs": {
		"permissions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["account", "access"],
				"properties": {
					"account": {"type": "string", "minLength": 1},
					"access": {"type": "string", "minLength": 1},
					"type": {"type": "string"},
					"inheritance": {"type": "string"},
					"propagation": {"type": "string"},
					"inherited": {"type": "boolean"}
				}
			}
		}
	}
}`

var compileSnapshotSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString(snapshotSchemaURL, snapshotSchema)
})

// validateSnapshot checks a decoded JSON document against the snapshot schema.
func validateSnapshot(doc any) error {
	schema, err := compileSnapshotSchema()
	if err != nil {
		return fmt.Errorf("failed to compile snapshot schema: %w", err)
	}
	return schema.Validate(doc)
}
