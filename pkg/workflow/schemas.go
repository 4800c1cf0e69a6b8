package workflow

// workflowSchema is the JSON Schema a workflow definition document must
// satisfy before decoding. Per-node config rules (operator whitelists,
// required template ids) live in DecodeNode; the schema guards the envelope.
const workflowSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "target_type", "trigger_type", "graph"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 3},
    "description": {"type": "string"},
    "active": {"type": "boolean"},
    "target_type": {"type": "string", "enum": ["application", "contract"]},
    "trigger_type": {
      "type": "string",
      "enum": ["entity_created", "status_changed", "stuck_at_status", "time_delay"]
    },
    "trigger_config": {
      "type": "object",
      "properties": {
        "stuck_status": {"type": "string"},
        "duration": {"type": "integer", "minimum": 1},
        "unit": {"type": "string", "enum": ["minutes", "hours", "days"]},
        "from_status": {"type": "string"},
        "to_status": {"type": "string"},
        "run_once": {"type": "boolean"},
        "retry_on_failure": {"type": "boolean"}
      },
      "additionalProperties": false
    },
    "graph": {
      "type": "object",
      "required": ["nodes", "connections"],
      "properties": {
        "nodes": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["id", "type"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "type": {
                "type": "string",
                "enum": ["trigger", "email", "delay", "condition", "update_status"]
              },
              "config": {"type": "object"}
            }
          }
        },
        "connections": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["from_node_id", "to_node_id", "branch"],
            "properties": {
              "from_node_id": {"type": "string", "minLength": 1},
              "to_node_id": {"type": "string", "minLength": 1},
              "branch": {"type": "string", "enum": ["next", "yes", "no"]}
            }
          }
        }
      }
    }
  }
}`
